// Package vsync replaces the hardware vsync signal with a clock the test
// drives by hand.
package vsync

import (
	"sync"
	"time"
)

// Callback is released once by the next Simulate.
type Callback func(frame int64)

// Clock holds the waiters for the next frame boundary.
//
// Simulate releases exactly the waiters registered when it starts. A waiter
// that registers again from inside its callback waits for the following
// Simulate.
type Clock struct {
	mu      sync.Mutex
	waiters []Callback
	frame   int64
	start   time.Time
	period  time.Duration
}

// NewClock returns a clock with a 60Hz nominal frame period.
func NewClock() *Clock {
	return &Clock{start: time.Now(), period: time.Second / 60}
}

// RegisterWaiter stores cb for the next Simulate.
func (c *Clock) RegisterWaiter(cb Callback) {
	if cb == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waiters = append(c.waiters, cb)
}

// Simulate advances the frame counter and invokes the pending waiters in
// registration order on the calling goroutine. Returns how many were released.
func (c *Clock) Simulate() int {
	c.mu.Lock()
	pending := c.waiters
	c.waiters = nil
	c.frame++
	frame := c.frame
	c.mu.Unlock()

	for _, cb := range pending {
		cb(frame)
	}
	return len(pending)
}

// FrameCount returns how many times Simulate has run.
func (c *Clock) FrameCount() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frame
}

// Pending returns the number of waiters registered for the next Simulate.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// Timings returns the nominal start and target times of frame.
func (c *Clock) Timings(frame int64) FrameTimings {
	start := c.start.Add(time.Duration(frame) * c.period)
	return FrameTimings{Frame: frame, Start: start, Target: start.Add(c.period)}
}
