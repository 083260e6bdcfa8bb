// Package pointer decides when pointer packets reach the engine relative to
// frame boundaries.
package pointer

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Change is the kind of a pointer event.
type Change int

const (
	Cancel Change = iota
	Add
	Remove
	Hover
	Down
	Move
	Up
)

// Data is one pointer event.
type Data struct {
	Change    Change
	Device    int
	X, Y      float64
	TimeStamp time.Duration
}

// Packet is a batch of pointer events delivered together.
type Packet struct {
	Data []Data
}

// Delegate receives the packets a dispatcher lets through.
type Delegate interface {
	DoDispatchPacket(packet *Packet, traceFlowID uint64)
}

// Dispatcher sits between the platform and the Delegate.
type Dispatcher interface {
	DispatchPacket(packet *Packet, traceFlowID uint64)

	// OnFrameLayerTreeReceived marks a frame boundary.
	OnFrameLayerTreeReceived()
}

// DispatcherMaker builds the dispatcher a platform view wants.
type DispatcherMaker func(delegate Delegate) Dispatcher

// DefaultDispatcher forwards every packet immediately.
type DefaultDispatcher struct {
	delegate Delegate
}

func NewDefaultDispatcher(delegate Delegate) *DefaultDispatcher {
	return &DefaultDispatcher{delegate: delegate}
}

func (d *DefaultDispatcher) DispatchPacket(packet *Packet, traceFlowID uint64) {
	d.delegate.DoDispatchPacket(packet, traceFlowID)
}

func (d *DefaultDispatcher) OnFrameLayerTreeReceived() {}

// SmoothDispatcher lets at most one packet through per frame. The first
// packet goes out immediately; later ones wait for the next frame boundary.
// A waiting packet is flushed, never dropped, when a newer one arrives.
type SmoothDispatcher struct {
	delegate Delegate

	mu            sync.Mutex
	inProgress    bool
	pending       *Packet
	pendingFlowID uint64
}

func NewSmoothDispatcher(delegate Delegate) *SmoothDispatcher {
	return &SmoothDispatcher{delegate: delegate}
}

func (d *SmoothDispatcher) DispatchPacket(packet *Packet, traceFlowID uint64) {
	d.mu.Lock()
	if !d.inProgress {
		d.inProgress = true
		d.mu.Unlock()
		d.delegate.DoDispatchPacket(packet, traceFlowID)
		return
	}
	prev, prevID := d.pending, d.pendingFlowID
	d.pending, d.pendingFlowID = packet, traceFlowID
	d.mu.Unlock()

	if prev != nil {
		d.delegate.DoDispatchPacket(prev, prevID)
	}
}

func (d *SmoothDispatcher) OnFrameLayerTreeReceived() {
	d.mu.Lock()
	if !d.inProgress {
		d.mu.Unlock()
		return
	}
	if d.pending == nil {
		d.inProgress = false
		d.mu.Unlock()
		return
	}
	p, id := d.pending, d.pendingFlowID
	d.pending = nil
	d.mu.Unlock()

	d.delegate.DoDispatchPacket(p, id)
}

// BufferedDispatcher holds every packet until the frame boundary and then
// flushes them in arrival order.
type BufferedDispatcher struct {
	delegate Delegate

	mu      sync.Mutex
	packets []*Packet
	flowIDs []uint64
}

func NewBufferedDispatcher(delegate Delegate) *BufferedDispatcher {
	return &BufferedDispatcher{delegate: delegate}
}

func (d *BufferedDispatcher) DispatchPacket(packet *Packet, traceFlowID uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.packets = append(d.packets, packet)
	d.flowIDs = append(d.flowIDs, traceFlowID)
}

func (d *BufferedDispatcher) OnFrameLayerTreeReceived() {
	d.mu.Lock()
	packets, ids := d.packets, d.flowIDs
	d.packets, d.flowIDs = nil, nil
	d.mu.Unlock()

	for i, p := range packets {
		d.delegate.DoDispatchPacket(p, ids[i])
	}
}

var makers = map[string]DispatcherMaker{
	"default":  func(d Delegate) Dispatcher { return NewDefaultDispatcher(d) },
	"smooth":   func(d Delegate) Dispatcher { return NewSmoothDispatcher(d) },
	"buffered": func(d Delegate) Dispatcher { return NewBufferedDispatcher(d) },
}

// MakerFor returns the named strategy: "default", "smooth" or "buffered".
func MakerFor(name string) (DispatcherMaker, error) {
	m, ok := makers[name]
	if !ok {
		return nil, fmt.Errorf("pointer: unknown dispatch strategy %q (known: %v)", name, Strategies())
	}
	return m, nil
}

// Strategies lists the known strategy names.
func Strategies() []string {
	out := make([]string, 0, len(makers))
	for name := range makers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
