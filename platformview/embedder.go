package platformview

import (
	"sync"

	"github.com/Swind/embedder-harness/gpu"
)

// ExternalViewEmbedder composites platform views around the frames the
// surface produces.
type ExternalViewEmbedder interface {
	gpu.FrameObserver
	BeginFrame(frame gpu.FrameInfo)
}

// RecordingEmbedder records what it is asked to composite.
type RecordingEmbedder struct {
	mu     sync.Mutex
	begun  []gpu.FrameInfo
	frames []gpu.FrameResult
}

func NewRecordingEmbedder() *RecordingEmbedder {
	return &RecordingEmbedder{}
}

func (e *RecordingEmbedder) BeginFrame(frame gpu.FrameInfo) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.begun = append(e.begun, frame)
}

func (e *RecordingEmbedder) OnFrame(r gpu.FrameResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.frames = append(e.frames, r)
}

// Frames returns the submitted frames in order.
func (e *RecordingEmbedder) Frames() []gpu.FrameResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]gpu.FrameResult(nil), e.frames...)
}

// BegunFrames returns how many frames were begun.
func (e *RecordingEmbedder) BegunFrames() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.begun)
}
