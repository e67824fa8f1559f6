// Package collector is the embeddable telemetry client. It batches page
// views, custom events, error reports, and performance vitals and delivers
// them to the ingestion gateway with bounded retries.
//
// Construction validates configuration and fails fast; after that no
// method panics or returns an error. Telemetry must never break its host,
// so every internal fault is caught and at most logged under Debug.
package collector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	channelPageViews   = "pageviews"
	channelEvents      = "events"
	channelErrors      = "errors"
	channelPerformance = "performance"
)

var channels = []string{channelPageViews, channelEvents, channelErrors, channelPerformance}

// Collector batches and ships telemetry. One instance covers one page
// lifetime (or one process, for server-side hosts).
//
// Observer registrations (vitals, activity) are never torn down before
// Close; that is acceptable only because a collector is scoped to a single
// page lifetime, not reused.
type Collector struct {
	cfg       Config
	apiKey    string
	log       *zap.Logger
	transport Transport
	fallback  Transport
	beacon    Transport
	idStore   IdentityStore

	sessionTTL time.Duration
	now        func() time.Time

	mu               sync.Mutex
	enabled          bool
	closed           bool
	userID           string
	traits           map[string]any
	identity         Identity
	seenFingerprints map[string]struct{}

	queues map[string]*queue
	vitals vitals

	retryCtx    context.Context
	retryCancel context.CancelFunc
	stopTicker  chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
	inflight    sync.WaitGroup
}

// New validates the configuration and starts the flush timer. This is the
// only call that can fail.
func New(apiKey string, cfg Config) (*Collector, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	c := &Collector{
		cfg:              cfg,
		apiKey:           apiKey,
		log:              cfg.Logger,
		sessionTTL:       cfg.SessionTTL,
		now:              time.Now,
		enabled:          true,
		seenFingerprints: make(map[string]struct{}),
		queues:           make(map[string]*queue, len(channels)),
		stopTicker:       make(chan struct{}),
	}
	for _, ch := range channels {
		c.queues[ch] = newQueue(cfg.BatchSize)
	}

	c.transport = cfg.Transport
	if c.transport == nil {
		c.transport = NewHTTPTransport(cfg.Endpoint, apiKey)
	}
	c.fallback = cfg.Fallback
	c.beacon = cfg.Beacon
	if c.beacon == nil {
		c.beacon = NewBeaconTransport(cfg.Endpoint, apiKey)
	}
	c.idStore = cfg.IdentityStore
	if c.idStore == nil {
		c.idStore = NewFileIdentityStore("")
	}
	if id, err := c.idStore.Load(); err == nil {
		c.identity = id
	} else {
		c.debug("load identity", err)
	}

	c.retryCtx, c.retryCancel = context.WithCancel(context.Background())
	c.wg.Add(1)
	go c.flushLoop()
	return c, nil
}

// TrackPageView queues a page view for the given URL.
func (c *Collector) TrackPageView(url string) {
	defer c.recoverInternal()
	if c.skipCapture() || url == "" {
		return
	}
	c.enqueue(channelPageViews, item{"url": url})
}

// TrackEvent queues a custom event with optional properties.
func (c *Collector) TrackEvent(name string, properties map[string]any) {
	defer c.recoverInternal()
	if c.skipCapture() || name == "" {
		return
	}
	it := item{"eventName": name}
	c.mu.Lock()
	traits := c.traits
	c.mu.Unlock()
	if len(properties) > 0 || len(traits) > 0 {
		merged := make(map[string]any, len(properties)+len(traits))
		for k, v := range traits {
			merged[k] = v
		}
		for k, v := range properties {
			merged[k] = v
		}
		it["properties"] = merged
	}
	c.enqueue(channelEvents, it)
}

// CaptureError queues an error report. Duplicate errors (same fingerprint)
// are reported at most once per collector lifetime, bounding storms from a
// hot loop to one delivery attempt.
func (c *Collector) CaptureError(message, stackTrace string) {
	defer c.recoverInternal()
	if c.skipCapture() || message == "" {
		return
	}
	fp := fingerprint(message, stackTrace)
	c.mu.Lock()
	if _, seen := c.seenFingerprints[fp]; seen {
		c.mu.Unlock()
		return
	}
	c.seenFingerprints[fp] = struct{}{}
	c.mu.Unlock()
	c.enqueue(channelErrors, item{"message": message, "stackTrace": stackTrace})
}

// Recover captures a panic as an error report and swallows it. Intended as
// the collector-side analogue of a global uncaught-exception hook:
//
//	defer telemetry.Recover()
func (c *Collector) Recover() {
	r := recover()
	if r == nil {
		return
	}
	buf := make([]byte, 4096)
	n := runtime.Stack(buf, false)
	c.CaptureError(panicMessage(r), string(buf[:n]))
}

// SetUser attaches a user id and traits to every subsequent item.
func (c *Collector) SetUser(userID string, traits map[string]any) {
	defer c.recoverInternal()
	c.mu.Lock()
	c.userID = userID
	c.traits = traits
	c.mu.Unlock()
}

// Activity marks passive user activity, refreshing the session timestamp
// the way clicks, keydowns, and scrolls do in a page.
func (c *Collector) Activity() {
	defer c.recoverInternal()
	if c.skipCapture() {
		return
	}
	c.mu.Lock()
	c.touch(c.now())
	c.mu.Unlock()
}

// Flush drains every queue through the primary transport.
func (c *Collector) Flush() {
	defer c.recoverInternal()
	c.flushAll(false)
}

// PageHidden is the page-hidden/unload hook: it emits the vitals aggregate
// (once) and force-flushes every queue over the beacon transport, since
// the host may terminate before any response arrives.
func (c *Collector) PageHidden() {
	defer c.recoverInternal()
	c.emitVitals()
	c.flushAll(true)
}

// Enable re-arms a disabled collector.
func (c *Collector) Enable() {
	defer c.recoverInternal()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.enabled || c.closed {
		return
	}
	c.enabled = true
	c.retryCtx, c.retryCancel = context.WithCancel(context.Background())
}

// Disable stops capture and cancels in-flight retry timers. Queued items
// stay queued until re-enabled or closed.
func (c *Collector) Disable() {
	defer c.recoverInternal()
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	c.enabled = false
	c.retryCancel()
}

// Close force-flushes like PageHidden, stops the timer, and waits for
// dispatched sends to settle. The collector is unusable afterwards.
func (c *Collector) Close() {
	defer c.recoverInternal()
	c.closeOnce.Do(func() {
		c.emitVitals()
		c.flushAll(true)
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.stopTicker)
		c.wg.Wait()
		c.retryCancel()
		c.inflight.Wait()
	})
}

func (c *Collector) flushLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.flushAll(false)
		case <-c.stopTicker:
			return
		}
	}
}

// enqueue stamps the envelope and adds the item to its channel queue,
// dispatching immediately when the queue reaches the batch size.
func (c *Collector) enqueue(channel string, it item) {
	now := c.now()
	c.mu.Lock()
	if !c.enabled || c.closed {
		c.mu.Unlock()
		return
	}
	id := c.touch(now)
	userID := c.userID
	c.mu.Unlock()

	it["clientId"] = id.ClientID
	it["sessionId"] = id.SessionID
	it["timestamp"] = now.UnixMilli()
	it["os"] = hostOS()
	if userID != "" {
		it["userId"] = userID
	}

	if batch, full := c.queues[channel].add(it); full {
		c.dispatch(channel, batch, false)
	}
}

func (c *Collector) emitVitals() {
	record := c.vitals.take()
	if record == nil {
		return
	}
	c.enqueue(channelPerformance, record)
}

func (c *Collector) flushAll(forced bool) {
	if !forced {
		c.mu.Lock()
		enabled := c.enabled
		c.mu.Unlock()
		// items queued before Disable stay queued until re-enable or the
		// final forced flush on Close
		if !enabled {
			return
		}
	}
	for _, channel := range channels {
		if batch := c.queues[channel].drain(); len(batch) > 0 {
			c.dispatch(channel, batch, forced)
		}
	}
}

// dispatch encodes and sends one batch. Forced flushes go out over the
// beacon unconditionally; everything else runs the async retry path.
func (c *Collector) dispatch(channel string, batch []item, forced bool) {
	body, err := json.Marshal(map[string]any{"items": batch})
	if err != nil {
		c.debug("encode batch", err)
		return
	}
	if forced {
		if _, err := c.beacon.Send(context.Background(), channel, body); err != nil {
			c.debug("beacon send", err)
		}
		return
	}

	c.mu.Lock()
	ctx := c.retryCtx
	enabled := c.enabled
	c.mu.Unlock()
	if !enabled {
		// disabled between drain and dispatch; put the batch back instead
		// of losing it
		c.queues[channel].requeue(batch)
		return
	}
	c.inflight.Add(1)
	go func() {
		defer c.inflight.Done()
		defer c.recoverInternal()
		c.sendWithRetry(ctx, channel, body)
	}()
}

// sendWithRetry walks the fixed backoff schedule. A 2xx settles the batch;
// any 4xx drops it immediately; 5xx and transport failures retry until the
// schedule is exhausted, after which the batch is silently dropped.
func (c *Collector) sendWithRetry(ctx context.Context, channel string, body []byte) {
	backoff := c.cfg.RetryBackoff
	for attempt := 0; ; attempt++ {
		status, err := c.transport.Send(ctx, channel, body)
		if errors.Is(err, ErrUnavailable) && c.fallback != nil {
			status, err = c.fallback.Send(ctx, channel, body)
		}
		switch classify(status, err) {
		case classSuccess:
			return
		case classTerminal:
			c.debug("batch rejected", err, zap.String("channel", channel), zap.Int("status", status))
			return
		}
		if attempt >= len(backoff) {
			c.debug("batch dropped after retries", err, zap.String("channel", channel))
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff[attempt]):
		}
	}
}

// skipCapture applies the per-call Do-Not-Track check and the
// enabled/closed gates.
func (c *Collector) skipCapture() bool {
	if c.cfg.DNT != nil && c.cfg.DNT() {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.enabled || c.closed
}

func (c *Collector) debug(msg string, err error, fields ...zap.Field) {
	if !c.cfg.Debug {
		return
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	c.log.Debug(msg, fields...)
}

// recoverInternal is the outward no-throw guarantee.
func (c *Collector) recoverInternal() {
	if r := recover(); r != nil {
		c.debug("internal panic", nil, zap.Any("panic", r))
	}
}

// fingerprint mirrors the server-side derivation: sha256 over the message
// plus at most the first 100 characters of the stack.
func fingerprint(message, stackTrace string) string {
	if len(stackTrace) > 100 {
		stackTrace = stackTrace[:100]
	}
	sum := sha256.Sum256([]byte(message + stackTrace))
	return hex.EncodeToString(sum[:])
}

func panicMessage(r any) string {
	if err, ok := r.(error); ok {
		return err.Error()
	}
	if s, ok := r.(string); ok {
		return s
	}
	return "panic"
}

func hostOS() string {
	switch runtime.GOOS {
	case "darwin":
		return "macos"
	default:
		return runtime.GOOS
	}
}
