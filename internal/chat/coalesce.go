package chat

import (
	"sync"
	"time"
)

// DefaultFrameInterval bounds visible update frequency to roughly one
// update per rendering frame.
const DefaultFrameInterval = 16 * time.Millisecond

// Coalescer collapses bursts of state changes into at most one callback
// per interval. The callback reads current state when it fires, so the
// final state is never dropped. Stop cancels any scheduled fire so a
// stale update cannot land after teardown or a session switch.
type Coalescer struct {
	interval time.Duration
	fn       func()

	mu      sync.Mutex
	timer   *time.Timer
	armed   bool
	stopped bool
}

// NewCoalescer creates a coalescer. An interval <= 0 makes Trigger call
// fn synchronously (coalescing disabled).
func NewCoalescer(interval time.Duration, fn func()) *Coalescer {
	return &Coalescer{interval: interval, fn: fn}
}

// Trigger schedules a callback. Repeated triggers within one interval
// share a single scheduled fire.
func (c *Coalescer) Trigger() {
	if c.interval <= 0 {
		c.fn()
		return
	}

	c.mu.Lock()
	if c.stopped || c.armed {
		c.mu.Unlock()
		return
	}
	c.armed = true
	c.timer = time.AfterFunc(c.interval, c.fire)
	c.mu.Unlock()
}

func (c *Coalescer) fire() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.armed = false
	c.mu.Unlock()
	c.fn()
}

// Cancel drops any scheduled callback without running it, leaving the
// coalescer armed for future triggers. Used when the caller is about to
// publish the current state itself.
func (c *Coalescer) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.armed = false
	if c.timer != nil {
		c.timer.Stop()
	}
}

// Stop cancels any scheduled callback without running it.
func (c *Coalescer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	c.armed = false
	if c.timer != nil {
		c.timer.Stop()
	}
}

// Reset re-enables a stopped coalescer.
func (c *Coalescer) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = false
	c.armed = false
}
