package model

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"time"
)

// Channel identifies one of the four telemetry item kinds. The channel is
// chosen by the submitting route or streaming message, never by the item
// itself.
type Channel string

const (
	ChannelPageViews   Channel = "pageviews"
	ChannelEvents      Channel = "events"
	ChannelErrors      Channel = "errors"
	ChannelPerformance Channel = "performance"
)

// Channels lists every ingestion channel in route registration order.
var Channels = []Channel{ChannelPageViews, ChannelEvents, ChannelErrors, ChannelPerformance}

// ParseChannel returns the channel for a wire name.
func ParseChannel(name string) (Channel, bool) {
	switch Channel(name) {
	case ChannelPageViews, ChannelEvents, ChannelErrors, ChannelPerformance:
		return Channel(name), true
	}
	return "", false
}

// Item is the payload accepted on every ingestion channel. The envelope
// fields are shared; the remaining fields belong to one variant each and
// are validated per channel. An item never carries a tenant id: the tenant
// is bound once at authentication time and applied to the whole batch.
type Item struct {
	// Envelope.
	ClientID   string `json:"clientId"`
	SessionID  string `json:"sessionId"`
	UserID     string `json:"userId,omitempty"`
	Timestamp  int64  `json:"timestamp"` // milliseconds epoch
	DeviceType string `json:"deviceType"`
	Browser    string `json:"browser"`
	OS         string `json:"os"`

	// PageView.
	URL string `json:"url,omitempty"`

	// Event.
	EventName  string         `json:"eventName,omitempty"`
	DurationMs *float64       `json:"durationMs,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`

	// ErrorReport. Fingerprint is derived server-side from Message and
	// StackTrace; a client-supplied value is overwritten.
	Message     string `json:"message,omitempty"`
	StackTrace  string `json:"stackTrace,omitempty"`
	Fingerprint string `json:"fingerprint,omitempty"`

	// PerformanceMetric.
	LCP  *float64 `json:"lcp,omitempty"`
	CLS  *float64 `json:"cls,omitempty"`
	FID  *float64 `json:"fid,omitempty"`
	TTFB *float64 `json:"ttfb,omitempty"`
}

// Time returns the item timestamp, defaulting to now when unset.
func (it Item) Time() time.Time {
	if it.Timestamp == 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(it.Timestamp).UTC()
}

// Field resolves a drop-filter key against the item: known top-level fields
// first, then the free-form properties map.
func (it Item) Field(key string) (any, bool) {
	switch key {
	case "clientId":
		return it.ClientID, true
	case "sessionId":
		return it.SessionID, true
	case "userId":
		return it.UserID, true
	case "deviceType":
		return it.DeviceType, true
	case "browser":
		return it.Browser, true
	case "os":
		return it.OS, true
	case "url":
		return it.URL, true
	case "eventName":
		return it.EventName, true
	case "durationMs":
		if it.DurationMs == nil {
			return nil, false
		}
		return *it.DurationMs, true
	case "message":
		return it.Message, true
	}
	if it.Properties != nil {
		if v, ok := it.Properties[key]; ok {
			return v, true
		}
	}
	return nil, false
}

// fingerprintStackPrefix bounds how much of the stack participates in the
// fingerprint so that line numbers deep in a trace do not fragment
// otherwise-identical errors.
const fingerprintStackPrefix = 100

// ErrorFingerprint derives the deduplication hash for an error report:
// sha256 over the message concatenated with at most the first 100
// characters of the stack trace.
func ErrorFingerprint(message, stackTrace string) string {
	if len(stackTrace) > fingerprintStackPrefix {
		stackTrace = stackTrace[:fingerprintStackPrefix]
	}
	sum := sha256.Sum256([]byte(message + stackTrace))
	return hex.EncodeToString(sum[:])
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
