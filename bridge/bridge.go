// Package bridge provides the native entry scripts use to report back to the
// process. Payloads land in one ordered log shared by every isolate that
// registered the entry, so order is global arrival order.
package bridge

import (
	"context"
	"strings"
	"sync"

	"github.com/Swind/embedder-harness/core"
)

// DefaultName is the global scripts call.
const DefaultName = "PassMessage"

// Observer is told about every message after it is logged.
type Observer interface {
	OnMessage(bridge string, seq int, payload string)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(bridge string, seq int, payload string)

func (f ObserverFunc) OnMessage(bridge string, seq int, payload string) { f(bridge, seq, payload) }

// Bridge is a named native entry backed by an ordered message log.
type Bridge struct {
	name   string
	latch  *core.AutoResetWaitableEvent
	logger core.Logger

	mu        sync.Mutex
	messages  []string
	changed   chan struct{}
	observers []Observer
}

// New creates a bridge. An empty name means DefaultName.
func New(name string) *Bridge {
	if name == "" {
		name = DefaultName
	}
	return &Bridge{
		name:    name,
		latch:   core.NewAutoResetWaitableEvent(),
		logger:  core.NewNoOpLogger(),
		changed: make(chan struct{}),
	}
}

// WithLogger sets the logger used for message diagnostics.
func (b *Bridge) WithLogger(l core.Logger) *Bridge {
	if l != nil {
		b.logger = l
	}
	return b
}

func (b *Bridge) Name() string { return b.name }

// AddObserver registers o for every later message.
func (b *Bridge) AddObserver(o Observer) {
	b.mu.Lock()
	b.observers = append(b.observers, o)
	b.mu.Unlock()
}

// Handler returns the native function to register under Name. Multiple
// arguments are joined with a space.
func (b *Bridge) Handler() func(args []string) error {
	return func(args []string) error {
		b.Post(strings.Join(args, " "))
		return nil
	}
}

// Post appends payload to the log and signals waiters.
func (b *Bridge) Post(payload string) {
	b.mu.Lock()
	b.messages = append(b.messages, payload)
	seq := len(b.messages)
	close(b.changed)
	b.changed = make(chan struct{})
	observers := append([]Observer(nil), b.observers...)
	b.mu.Unlock()

	b.logger.Debug("bridge message", core.F("bridge", b.name), core.F("seq", seq), core.F("payload", payload))
	for _, o := range observers {
		o.OnMessage(b.name, seq, payload)
	}
	b.latch.Signal()
}

// Messages returns a copy of the log in arrival order.
func (b *Bridge) Messages() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.messages...)
}

func (b *Bridge) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.messages)
}

// Wait blocks until a message arrives after the previous Wait returned.
// Like an auto-reset event, one message signalled before Wait is not lost
// and several messages in a row release a single Wait.
func (b *Bridge) Wait(ctx context.Context) error {
	return b.latch.WaitContext(ctx)
}

// WaitForCount blocks until the log holds at least n messages.
func (b *Bridge) WaitForCount(ctx context.Context, n int) error {
	for {
		b.mu.Lock()
		if len(b.messages) >= n {
			b.mu.Unlock()
			return nil
		}
		changed := b.changed
		b.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Reset clears the log and any pending signal.
func (b *Bridge) Reset() {
	b.mu.Lock()
	b.messages = nil
	b.mu.Unlock()
	b.latch.Reset()
}
