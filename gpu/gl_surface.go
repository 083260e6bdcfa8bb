package gpu

import (
	"sync/atomic"

	"github.com/Swind/embedder-harness/core"
)

// FrameResult describes one frame that went through a GLSurface.
type FrameResult struct {
	Frame     FrameInfo
	FBO       int64
	Presented bool
}

// FrameObserver is told about every submitted frame.
type FrameObserver interface {
	OnFrame(FrameResult)
}

// SurfaceStats counts frame outcomes on a GLSurface.
type SurfaceStats struct {
	Acquired  int64
	Presented int64
	Failed    int64
}

// GLSurface drives frames through a SurfaceDelegate: each frame makes the
// context current, resolves its framebuffer, renders, presents and clears.
type GLSurface struct {
	delegate SurfaceDelegate
	logger   core.Logger
	observer FrameObserver

	acquired  atomic.Int64
	presented atomic.Int64
	failed    atomic.Int64
}

// NewGLSurface wraps delegate. logger and observer may be nil.
func NewGLSurface(delegate SurfaceDelegate, logger core.Logger, observer FrameObserver) *GLSurface {
	if logger == nil {
		logger = core.NewNoOpLogger()
	}
	return &GLSurface{delegate: delegate, logger: logger, observer: observer}
}

// Delegate returns the wrapped delegate.
func (s *GLSurface) Delegate() SurfaceDelegate { return s.delegate }

// IsValid reports whether the context can be made current.
func (s *GLSurface) IsValid() bool {
	sw := s.delegate.GLContextMakeCurrent()
	defer sw.Release()
	return sw.Result()
}

// AcquireFrame prepares a frame of the given size. It returns nil when the
// context cannot be made current.
func (s *GLSurface) AcquireFrame(frame FrameInfo) *SurfaceFrame {
	sw := s.delegate.GLContextMakeCurrent()
	defer sw.Release()
	if !sw.Result() {
		s.failed.Add(1)
		s.logger.Warn("could not make the context current to acquire a frame",
			core.F("width", frame.Width), core.F("height", frame.Height))
		return nil
	}
	s.acquired.Add(1)
	return &SurfaceFrame{
		surface: s,
		frame:   frame,
		fbo:     s.delegate.GLContextFBO(frame),
	}
}

// DrawFrame acquires, renders and submits one frame.
func (s *GLSurface) DrawFrame(frame FrameInfo, render func(fbo int64) bool) bool {
	f := s.AcquireFrame(frame)
	if f == nil {
		return false
	}
	return f.Submit(render)
}

func (s *GLSurface) Stats() SurfaceStats {
	return SurfaceStats{
		Acquired:  s.acquired.Load(),
		Presented: s.presented.Load(),
		Failed:    s.failed.Load(),
	}
}

func (s *GLSurface) report(r FrameResult) {
	if r.Presented {
		s.presented.Add(1)
	} else {
		s.failed.Add(1)
	}
	if s.observer != nil {
		s.observer.OnFrame(r)
	}
}

// SurfaceFrame is a frame acquired from a GLSurface. Submit or Discard it
// exactly once.
type SurfaceFrame struct {
	surface   *GLSurface
	frame     FrameInfo
	fbo       int64
	submitted atomic.Bool
}

func (f *SurfaceFrame) FBO() int64       { return f.fbo }
func (f *SurfaceFrame) Info() FrameInfo { return f.frame }

// Submit makes the context current, runs render against the frame's
// framebuffer and presents it. The context is cleared on every exit path.
// render may be nil to present an untouched frame.
func (f *SurfaceFrame) Submit(render func(fbo int64) bool) bool {
	if f.submitted.Swap(true) {
		return false
	}
	s := f.surface
	result := FrameResult{Frame: f.frame, FBO: f.fbo}
	defer func() { s.report(result) }()

	sw := s.delegate.GLContextMakeCurrent()
	defer sw.Release()
	if !sw.Result() {
		s.logger.Warn("could not make the context current to submit a frame")
		return false
	}
	if render != nil && !render(f.fbo) {
		return false
	}
	result.Presented = s.delegate.GLContextPresent(uint32(f.fbo))
	return result.Presented
}

// Discard drops the frame without presenting it.
func (f *SurfaceFrame) Discard() {
	f.submitted.Store(true)
}
