package realtime

import (
	"sync"
	"time"
)

// Coalescer collapses bursts of triggers per key into one call after a quiet window.
// Each Trigger cancels the pending timer for its key and schedules a new one.
type Coalescer[K comparable] struct {
	window time.Duration
	fn     func(K)

	mu      sync.Mutex
	pending map[K]*time.Timer
	stopped bool
}

func NewCoalescer[K comparable](window time.Duration, fn func(K)) *Coalescer[K] {
	return &Coalescer[K]{
		window:  window,
		fn:      fn,
		pending: make(map[K]*time.Timer),
	}
}

func (c *Coalescer[K]) Trigger(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	if t, ok := c.pending[key]; ok {
		t.Stop()
	}
	var t *time.Timer
	t = time.AfterFunc(c.window, func() {
		c.mu.Lock()
		if c.pending[key] != t {
			c.mu.Unlock()
			return
		}
		delete(c.pending, key)
		c.mu.Unlock()
		c.fn(key)
	})
	c.pending[key] = t
}

// Cancel drops a pending call for key.
func (c *Coalescer[K]) Cancel(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if t, ok := c.pending[key]; ok {
		t.Stop()
		delete(c.pending, key)
	}
}

func (c *Coalescer[K]) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Stop cancels all pending calls and ignores later triggers.
func (c *Coalescer[K]) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	for key, t := range c.pending {
		t.Stop()
		delete(c.pending, key)
	}
}
