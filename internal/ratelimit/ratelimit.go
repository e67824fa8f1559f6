// Package ratelimit implements per-key fixed-window request counting.
//
// The window is fixed, not sliding: one {count, expiresAt} record per key,
// reset on the first increment after expiry. Up to roughly double the
// nominal rate can pass across a window boundary; that burst is an accepted
// tradeoff of the design.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// ErrLimited is returned by Limiter.Allow when the window is exhausted.
var ErrLimited = errors.New("ratelimit: limit exceeded")

// CounterStore increments the window counter for a key, starting a fresh
// window when the previous one has expired. Implementations must be safe
// for concurrent use and must not serialize unrelated keys against each
// other.
type CounterStore interface {
	Incr(ctx context.Context, key string, window time.Duration) (count int64, expiresAt time.Time, err error)
}

// Decision describes the outcome of one admission check.
type Decision struct {
	Allowed bool
	Count   int64
	// RetryAfter is the time until the current window resets. Only
	// meaningful when Allowed is false.
	RetryAfter time.Duration
}

// Limiter applies a fixed-window limit on top of a CounterStore.
type Limiter struct {
	Max    int64
	Window time.Duration
	Store  CounterStore
}

// New returns a limiter backed by the in-memory store.
func New(max int64, window time.Duration) *Limiter {
	return &Limiter{Max: max, Window: window, Store: NewMemoryStore()}
}

// Allow counts one request against key. A store error is returned to the
// caller, which should fail open: a broken counter backend must not take
// ingestion down.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	count, expiresAt, err := l.Store.Incr(ctx, key, l.Window)
	if err != nil {
		return Decision{Allowed: true}, err
	}
	if count > l.Max {
		retry := time.Until(expiresAt)
		if retry < 0 {
			retry = 0
		}
		return Decision{Allowed: false, Count: count, RetryAfter: retry}, nil
	}
	return Decision{Allowed: true, Count: count}, nil
}
