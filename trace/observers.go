package trace

import (
	"fmt"
	"strconv"

	"github.com/Swind/embedder-harness/bridge"
	"github.com/Swind/embedder-harness/gpu"
	"github.com/Swind/embedder-harness/isolate"
)

// BridgeObserver records every bridge message.
func BridgeObserver(s *Store) bridge.Observer {
	return bridge.ObserverFunc(func(name string, seq int, payload string) {
		s.record(Event{Kind: KindMessage, Source: name, Subject: strconv.Itoa(seq), Detail: payload})
	})
}

// PhaseObserver records isolate phase changes. It also forwards to next
// when next is non-nil.
func PhaseObserver(s *Store, next isolate.Observer) isolate.Observer {
	return &phaseObserver{store: s, next: next}
}

type phaseObserver struct {
	store *Store
	next  isolate.Observer
}

func (o *phaseObserver) OnPhaseChange(iso *isolate.Isolate, from, to isolate.Phase) {
	o.store.record(Event{
		Kind:    KindPhase,
		Source:  iso.Group().ID(),
		Subject: iso.ID(),
		Detail:  from.String() + "->" + to.String(),
	})
	if o.next != nil {
		o.next.OnPhaseChange(iso, from, to)
	}
}

// FrameObserver records frames submitted to the surface named surface.
func FrameObserver(s *Store, surface string) gpu.FrameObserver {
	return frameObserver{store: s, surface: surface}
}

type frameObserver struct {
	store   *Store
	surface string
}

func (o frameObserver) OnFrame(r gpu.FrameResult) {
	detail := "dropped"
	if r.Presented {
		detail = fmt.Sprintf("presented fbo=%d", r.FBO)
	}
	o.store.record(Event{
		Kind:    KindFrame,
		Source:  o.surface,
		Subject: fmt.Sprintf("%dx%d", r.Frame.Width, r.Frame.Height),
		Detail:  detail,
	})
}
