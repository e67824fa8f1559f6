package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ValidationError reports the first offending field in a batch. One bad
// item rejects the whole batch before anything is persisted.
type ValidationError struct {
	Index  int
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("item %d: %s %s", e.Index, e.Field, e.Reason)
}

// DefaultMaxBatch bounds how many items a single submission may carry.
const DefaultMaxBatch = 100

// DecodeBatch normalizes a request body into an item slice. Accepted
// shapes: {"items":[...]}, a bare array, or a single object treated as a
// one-item array. An empty batch or one larger than maxBatch is rejected.
func DecodeBatch(body []byte, maxBatch int) ([]Item, error) {
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, &ValidationError{Field: "items", Reason: "is required"}
	}

	var items []Item
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, &ValidationError{Field: "items", Reason: "must be valid JSON"}
		}
	case '{':
		var wrapper struct {
			Items *json.RawMessage `json:"items"`
		}
		if err := json.Unmarshal(trimmed, &wrapper); err != nil {
			return nil, &ValidationError{Field: "items", Reason: "must be valid JSON"}
		}
		if wrapper.Items != nil {
			if err := json.Unmarshal(*wrapper.Items, &items); err != nil {
				return nil, &ValidationError{Field: "items", Reason: "must be an array"}
			}
		} else {
			var single Item
			if err := json.Unmarshal(trimmed, &single); err != nil {
				return nil, &ValidationError{Field: "items", Reason: "must be valid JSON"}
			}
			items = []Item{single}
		}
	default:
		return nil, &ValidationError{Field: "items", Reason: "must be an object or array"}
	}

	if len(items) == 0 {
		return nil, &ValidationError{Field: "items", Reason: "must not be empty"}
	}
	if len(items) > maxBatch {
		return nil, &ValidationError{Field: "items", Reason: fmt.Sprintf("exceeds max batch size %d", maxBatch)}
	}
	return items, nil
}

// ValidateBatch checks every item against its channel's required fields.
// Validation is all-or-nothing: the first bad item fails the whole batch.
// Error fingerprints are derived here, replacing anything the client sent.
func ValidateBatch(channel Channel, items []Item) error {
	for i := range items {
		if err := validateItem(channel, &items[i]); err != nil {
			err.Index = i
			return err
		}
	}
	return nil
}

func validateItem(channel Channel, it *Item) *ValidationError {
	switch channel {
	case ChannelPageViews:
		if it.URL == "" {
			return &ValidationError{Field: "url", Reason: "is required"}
		}
	case ChannelEvents:
		if it.EventName == "" {
			return &ValidationError{Field: "eventName", Reason: "is required"}
		}
		if it.DurationMs != nil {
			if !finite(*it.DurationMs) || *it.DurationMs < 0 {
				return &ValidationError{Field: "durationMs", Reason: "must be a non-negative number"}
			}
		}
	case ChannelErrors:
		if it.Message == "" {
			return &ValidationError{Field: "message", Reason: "is required"}
		}
		it.Fingerprint = ErrorFingerprint(it.Message, it.StackTrace)
	case ChannelPerformance:
		if !hasVital(it.LCP) && !hasVital(it.CLS) && !hasVital(it.FID) && !hasVital(it.TTFB) {
			return &ValidationError{Field: "lcp/cls/fid/ttfb", Reason: "at least one metric is required"}
		}
	default:
		return &ValidationError{Field: "channel", Reason: "is unknown"}
	}
	return nil
}

func hasVital(v *float64) bool {
	return v != nil && finite(*v)
}
