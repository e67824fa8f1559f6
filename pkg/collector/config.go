package collector

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

const (
	// MinBatchSize and MaxBatchSize bound the per-queue flush threshold.
	MinBatchSize = 1
	MaxBatchSize = 100
	// MinFlushInterval is the smallest allowed periodic flush interval.
	MinFlushInterval = time.Second

	defaultBatchSize     = 20
	defaultFlushInterval = 5 * time.Second
)

// defaultRetryBackoff is the fixed schedule applied between retryable
// delivery failures before a batch is dropped.
var defaultRetryBackoff = []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}

// Config controls a Collector. Only Endpoint is required.
type Config struct {
	// Endpoint is the ingestion gateway base URL.
	Endpoint string
	// BatchSize triggers an immediate flush when a queue reaches it.
	// 1..100, default 20.
	BatchSize int
	// FlushInterval drives the periodic flush. Minimum 1s, default 5s.
	FlushInterval time.Duration
	// Debug enables internal fault logging; without it the collector is
	// silent no matter what goes wrong.
	Debug bool
	// Logger receives debug output. Defaults to a nop logger.
	Logger *zap.Logger

	// Transport overrides the primary delivery path.
	Transport Transport
	// Fallback is used for an attempt when Transport reports
	// ErrUnavailable.
	Fallback Transport
	// Beacon overrides the fire-and-forget transport used on forced
	// flushes.
	Beacon Transport

	// IdentityStore overrides where the client identity persists.
	IdentityStore IdentityStore
	// SessionTTL overrides the 30-minute session inactivity timeout.
	SessionTTL time.Duration
	// DNT, when set, is consulted on every capture call; returning true
	// turns the call into a no-op. Checked per call so an in-session
	// opt-out takes effect immediately.
	DNT func() bool
	// RetryBackoff overrides the delivery retry schedule.
	RetryBackoff []time.Duration
}

// validate applies defaults and rejects out-of-range settings. This is the
// only place the collector is allowed to fail loudly: after construction
// every fault is swallowed.
func (c *Config) validate() error {
	if c.Endpoint == "" {
		return errors.New("collector: Endpoint is required")
	}
	if c.BatchSize == 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.BatchSize < MinBatchSize || c.BatchSize > MaxBatchSize {
		return fmt.Errorf("collector: BatchSize must be between %d and %d", MinBatchSize, MaxBatchSize)
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = defaultFlushInterval
	}
	if c.FlushInterval < MinFlushInterval {
		return fmt.Errorf("collector: FlushInterval must be at least %s", MinFlushInterval)
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	if len(c.RetryBackoff) == 0 {
		c.RetryBackoff = defaultRetryBackoff
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return nil
}
