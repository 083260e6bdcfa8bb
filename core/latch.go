package core

import (
	"context"
	"sync"
	"time"
)

// =============================================================================
// Waitable events
// =============================================================================

// AutoResetWaitableEvent is a one-shot signal: a Wait consumes the signal, so
// each Signal releases at most one waiter. Signals are not counted; two
// Signals before a Wait release a single Wait.
type AutoResetWaitableEvent struct {
	ch chan struct{}
}

func NewAutoResetWaitableEvent() *AutoResetWaitableEvent {
	return &AutoResetWaitableEvent{ch: make(chan struct{}, 1)}
}

// Signal marks the event signaled. Never blocks.
func (e *AutoResetWaitableEvent) Signal() {
	select {
	case e.ch <- struct{}{}:
	default:
	}
}

// Reset clears a pending signal.
func (e *AutoResetWaitableEvent) Reset() {
	select {
	case <-e.ch:
	default:
	}
}

// Wait blocks until the event is signaled and consumes the signal.
func (e *AutoResetWaitableEvent) Wait() {
	<-e.ch
}

// WaitWithTimeout returns false if the timeout elapsed first.
func (e *AutoResetWaitableEvent) WaitWithTimeout(timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-e.ch:
		return true
	case <-t.C:
		return false
	}
}

// WaitContext returns ctx.Err() if ctx is done before the event is signaled.
func (e *AutoResetWaitableEvent) WaitContext(ctx context.Context) error {
	select {
	case <-e.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsSignaledForTest reports whether a signal is pending without consuming it.
func (e *AutoResetWaitableEvent) IsSignaledForTest() bool {
	select {
	case <-e.ch:
		e.Signal()
		return true
	default:
		return false
	}
}

// ManualResetWaitableEvent stays signaled until Reset, releasing every waiter.
type ManualResetWaitableEvent struct {
	mu       sync.Mutex
	ch       chan struct{}
	signaled bool
}

func NewManualResetWaitableEvent() *ManualResetWaitableEvent {
	return &ManualResetWaitableEvent{ch: make(chan struct{})}
}

func (e *ManualResetWaitableEvent) Signal() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.signaled {
		e.signaled = true
		close(e.ch)
	}
}

func (e *ManualResetWaitableEvent) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.signaled {
		e.signaled = false
		e.ch = make(chan struct{})
	}
}

func (e *ManualResetWaitableEvent) IsSignaled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.signaled
}

func (e *ManualResetWaitableEvent) Wait() {
	<-e.done()
}

func (e *ManualResetWaitableEvent) WaitContext(ctx context.Context) error {
	select {
	case <-e.done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *ManualResetWaitableEvent) done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ch
}

// CountDownLatch releases waiters once CountDown has been called count times.
type CountDownLatch struct {
	mu    sync.Mutex
	count int
	done  chan struct{}
}

func NewCountDownLatch(count int) *CountDownLatch {
	l := &CountDownLatch{count: count, done: make(chan struct{})}
	if count <= 0 {
		close(l.done)
	}
	return l
}

func (l *CountDownLatch) CountDown() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.count <= 0 {
		return
	}
	l.count--
	if l.count == 0 {
		close(l.done)
	}
}

func (l *CountDownLatch) Wait() {
	<-l.done
}

func (l *CountDownLatch) WaitContext(ctx context.Context) error {
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
