package vsync

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/Swind/embedder-harness/core"
)

// FrameTimings is handed to a frame callback.
type FrameTimings struct {
	Frame  int64
	Start  time.Time
	Target time.Time
}

// FrameCallback runs on the UI role once a requested vsync arrives.
type FrameCallback func(ctx context.Context, timings FrameTimings)

// Waiter requests a single vsync notification.
type Waiter interface {
	AsyncWaitForVsync(cb FrameCallback)
}

// WaiterFactory builds a Waiter for a platform view.
type WaiterFactory func(ui core.TaskRunner) Waiter

// ClockWaiter waits on a simulated Clock and posts the frame callback to the
// UI runner when the clock releases it.
type ClockWaiter struct {
	clock *Clock
	ui    core.TaskRunner

	requested atomic.Int64
	fired     atomic.Int64
}

func NewClockWaiter(clock *Clock, ui core.TaskRunner) *ClockWaiter {
	return &ClockWaiter{clock: clock, ui: ui}
}

// Factory returns a WaiterFactory that binds waiters to clock.
func Factory(clock *Clock) WaiterFactory {
	return func(ui core.TaskRunner) Waiter {
		return NewClockWaiter(clock, ui)
	}
}

// AsyncWaitForVsync registers cb for the next Simulate on the clock.
func (w *ClockWaiter) AsyncWaitForVsync(cb FrameCallback) {
	w.requested.Add(1)
	w.clock.RegisterWaiter(func(frame int64) {
		timings := w.clock.Timings(frame)
		w.ui.PostTaskWithTraits(func(ctx context.Context) {
			w.fired.Add(1)
			cb(ctx, timings)
		}, core.TraitsUserBlocking())
	})
}

// Counts returns how many waits were requested and how many callbacks ran.
func (w *ClockWaiter) Counts() (requested, fired int64) {
	return w.requested.Load(), w.fired.Load()
}
