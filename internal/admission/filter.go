// Package admission evaluates per-tenant drop-filter rules over event
// metadata before persistence.
package admission

import (
	"fmt"
	"strconv"
	"strings"

	"pulse-telemetry/internal/model"
)

// Mode selects the drop policy: blacklist drops matched items, whitelist
// drops everything else.
type Mode string

const (
	ModeBlacklist Mode = "blacklist"
	ModeWhitelist Mode = "whitelist"
)

// Op is a filter comparison operator.
type Op string

const (
	OpEquals      Op = "equals"
	OpContains    Op = "contains"
	OpLowerThan   Op = "lowerThan"
	OpGreaterThan Op = "greaterThan"
)

// Filter is a single rule. Key resolves against the item's top-level
// fields first and the properties map second.
type Filter struct {
	Key   string `json:"key" yaml:"key"`
	Op    Op     `json:"op" yaml:"op"`
	Value string `json:"value" yaml:"value"`
}

// FilterConfig is a tenant's versioned drop-rule set.
type FilterConfig struct {
	Version int      `json:"version" yaml:"version"`
	Enabled bool     `json:"enabled" yaml:"enabled"`
	Mode    Mode     `json:"mode" yaml:"mode"`
	Filters []Filter `json:"filters" yaml:"filters"`
}

// ConfigVersion is written when a config is stored without an explicit
// version, for forward-compatible storage.
const ConfigVersion = 1

// ShouldDrop reports whether the item is discarded under this config.
//
// An item "matches" only when every filter is satisfied; with zero filters
// nothing matches, so an enabled empty blacklist drops nothing and an
// enabled empty whitelist drops everything.
func (c FilterConfig) ShouldDrop(it model.Item) bool {
	if !c.Enabled {
		return false
	}
	matched := len(c.Filters) > 0
	for _, f := range c.Filters {
		if !f.satisfied(it) {
			matched = false
			break
		}
	}
	if c.Mode == ModeWhitelist {
		return !matched
	}
	return matched
}

func (f Filter) satisfied(it model.Item) bool {
	raw, ok := it.Field(f.Key)
	if !ok {
		return false
	}
	switch f.Op {
	case OpEquals:
		return stringify(raw) == f.Value
	case OpContains:
		have := stringify(raw)
		for _, candidate := range strings.Split(f.Value, ",") {
			if strings.TrimSpace(candidate) == have {
				return true
			}
		}
		return false
	case OpLowerThan:
		n, threshold, ok := numericPair(raw, f.Value)
		return ok && n < threshold
	case OpGreaterThan:
		n, threshold, ok := numericPair(raw, f.Value)
		return ok && n > threshold
	}
	return false
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

// numericPair parses both operands; the numeric operators never match when
// either side is non-numeric.
func numericPair(v any, value string) (float64, float64, bool) {
	threshold, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return 0, 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, threshold, true
	case int:
		return float64(t), threshold, true
	case int64:
		return float64(t), threshold, true
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, 0, false
		}
		return n, threshold, true
	}
	return 0, 0, false
}
