package collector

import (
	"sync"
	"time"
)

// recentInputWindow is how long after a user input a layout shift is
// attributed to that input and excluded from CLS.
const recentInputWindow = 500 * time.Millisecond

// vitals aggregates performance observations into the single record
// emitted at the first hide/close of the page lifetime.
type vitals struct {
	mu sync.Mutex

	lcp     *float64 // most recent paint candidate wins
	fid     *float64 // first input only
	cls     float64  // running shift sum
	clsSeen bool
	ttfb    *float64

	lastInput time.Time
	emitted   bool
}

// ObserveLCP records a largest-contentful-paint candidate; later
// candidates replace earlier ones.
func (c *Collector) ObserveLCP(ms float64) {
	if c.skipCapture() {
		return
	}
	c.vitals.mu.Lock()
	defer c.vitals.mu.Unlock()
	v := ms
	c.vitals.lcp = &v
}

// ObserveFirstInput records the processing delay of an input. Only the
// first observation counts; it also marks input time for CLS exclusion.
func (c *Collector) ObserveFirstInput(delayMs float64) {
	if c.skipCapture() {
		return
	}
	now := c.now()
	c.vitals.mu.Lock()
	defer c.vitals.mu.Unlock()
	c.vitals.lastInput = now
	if c.vitals.fid == nil {
		v := delayMs
		c.vitals.fid = &v
	}
}

// ObserveLayoutShift adds a shift value to the cumulative score unless it
// follows recent user input.
func (c *Collector) ObserveLayoutShift(value float64) {
	if c.skipCapture() {
		return
	}
	now := c.now()
	c.vitals.mu.Lock()
	defer c.vitals.mu.Unlock()
	if !c.vitals.lastInput.IsZero() && now.Sub(c.vitals.lastInput) < recentInputWindow {
		return
	}
	c.vitals.cls += value
	c.vitals.clsSeen = true
}

// ObserveNavigation records time-to-first-byte as response start minus
// request start.
func (c *Collector) ObserveNavigation(requestStart, responseStart time.Time) {
	if c.skipCapture() {
		return
	}
	c.vitals.mu.Lock()
	defer c.vitals.mu.Unlock()
	v := float64(responseStart.Sub(requestStart).Milliseconds())
	c.vitals.ttfb = &v
}

// take returns the aggregate record exactly once; subsequent calls and
// empty aggregates return nil.
func (v *vitals) take() item {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.emitted {
		return nil
	}
	v.emitted = true
	out := item{}
	if v.lcp != nil {
		out["lcp"] = *v.lcp
	}
	if v.fid != nil {
		out["fid"] = *v.fid
	}
	if v.clsSeen {
		out["cls"] = v.cls
	}
	if v.ttfb != nil {
		out["ttfb"] = *v.ttfb
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
