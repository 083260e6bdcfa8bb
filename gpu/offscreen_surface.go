package gpu

import (
	"fmt"
	"image"
	"sync"

	"github.com/gogpu/gg/surface"

	"github.com/Swind/embedder-harness/core"
)

const (
	DefaultSurfaceWidth  = 800
	DefaultSurfaceHeight = 600
)

// supportedProcs is the fixed proc table of the offscreen context.
var supportedProcs = []string{
	"glBindFramebuffer",
	"glClear",
	"glClearColor",
	"glFlush",
	"glGetIntegerv",
	"glGetString",
	"glViewport",
}

// OffscreenSurface is a test GL surface whose framebuffers live in CPU
// memory. It is its own SurfaceDelegate and implements CurrentOps.
//
// Each GLContextMakeCurrent is a separate acquisition. Releasing one that
// failed to bind leaves the acquisition holding the context bound.
type OffscreenSurface struct {
	mu sync.Mutex

	width, height int
	current       bool
	holder        *surfaceHolder
	failNext      int

	framebuffer *surface.ImageSurface
	fboID       int64
	fboSize     FrameInfo
	nextFBO     int64

	presented     int
	lastPresented *image.RGBA

	procs  map[string]uintptr
	logger core.Logger
}

// surfaceHolder is the SwitchableContext of one acquisition.
type surfaceHolder struct {
	s *OffscreenSurface
}

func (h *surfaceHolder) SetCurrent() bool    { return h.s.makeCurrent(h) }
func (h *surfaceHolder) RemoveCurrent() bool { return h.s.clearCurrent(h) }

// NewOffscreenSurface creates a surface with the given default size. Zero
// dimensions use 800x600.
func NewOffscreenSurface(width, height int, logger core.Logger) *OffscreenSurface {
	if width <= 0 {
		width = DefaultSurfaceWidth
	}
	if height <= 0 {
		height = DefaultSurfaceHeight
	}
	if logger == nil {
		logger = core.NewNoOpLogger()
	}
	s := &OffscreenSurface{
		width:   width,
		height:  height,
		nextFBO: 1,
		procs:   make(map[string]uintptr, len(supportedProcs)),
		logger:  logger,
	}
	for i, name := range supportedProcs {
		s.procs[name] = uintptr(0x1000 + i*0x10)
	}
	return s
}

// Size returns the default frame size.
func (s *OffscreenSurface) Size() FrameInfo {
	return FrameInfo{Width: s.width, Height: s.height}
}

// =============================================================================
// CurrentOps
// =============================================================================

// MakeCurrent binds the context. It fails without side effects when the
// context is already current or a failure was injected.
func (s *OffscreenSurface) MakeCurrent() bool { return s.makeCurrent(nil) }

// ClearCurrent unbinds the context whoever holds it. Always true.
func (s *OffscreenSurface) ClearCurrent() bool { return s.clearCurrent(nil) }

func (s *OffscreenSurface) makeCurrent(h *surfaceHolder) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext > 0 {
		s.failNext--
		return false
	}
	if s.current {
		s.logger.Warn("make current on a context that is already current")
		return false
	}
	s.current = true
	s.holder = h
	return true
}

// clearCurrent unbinds the context. A non-nil h that is not the current
// holder is a no-op that still reports success.
func (s *OffscreenSurface) clearCurrent(h *surfaceHolder) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h != nil && s.current && s.holder != h {
		return true
	}
	s.current = false
	s.holder = nil
	return true
}

// IsCurrent reports whether the context is bound.
func (s *OffscreenSurface) IsCurrent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// InjectMakeCurrentFailures makes the next n MakeCurrent calls fail.
func (s *OffscreenSurface) InjectMakeCurrentFailures(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
}

// =============================================================================
// SurfaceDelegate
// =============================================================================

func (s *OffscreenSurface) GLContextMakeCurrent() *ContextSwitch {
	return AcquireContext(&surfaceHolder{s: s})
}

func (s *OffscreenSurface) GLContextClearCurrent() bool {
	return s.ClearCurrent()
}

// GLContextPresent snapshots framebuffer fbo as the presented image.
func (s *OffscreenSurface) GLContextPresent(fbo uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.requireCurrentLocked("present") {
		return false
	}
	if s.framebuffer == nil || int64(fbo) != s.fboID {
		return false
	}
	if err := s.framebuffer.Flush(); err != nil {
		s.logger.Error("flush framebuffer", core.F("fbo", fbo), core.F("error", err))
		return false
	}
	s.lastPresented = s.framebuffer.Snapshot()
	s.presented++
	return true
}

// GLContextFBO returns the framebuffer for frame, allocating a new one when
// the frame size changes.
func (s *OffscreenSurface) GLContextFBO(frame FrameInfo) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.requireCurrentLocked("framebuffer") {
		return 0
	}
	if frame.Width <= 0 || frame.Height <= 0 {
		frame = FrameInfo{Width: s.width, Height: s.height}
	}
	if s.framebuffer != nil && s.fboSize == frame {
		return s.fboID
	}
	if s.framebuffer != nil {
		if err := s.framebuffer.Close(); err != nil {
			s.logger.Warn("close framebuffer", core.F("fbo", s.fboID), core.F("error", err))
		}
	}
	s.framebuffer = surface.NewImageSurface(frame.Width, frame.Height)
	s.fboSize = frame
	s.fboID = s.nextFBO
	s.nextFBO++
	s.logger.Debug("framebuffer allocated",
		core.F("fbo", s.fboID), core.F("width", frame.Width), core.F("height", frame.Height))
	return s.fboID
}

func (s *OffscreenSurface) GetGLProcResolver() ProcResolver {
	return func(name string) uintptr {
		return s.procs[name]
	}
}

// Framebuffer returns the drawing target behind fbo, or nil when fbo is not
// the bound framebuffer. Requires the context to be current.
func (s *OffscreenSurface) Framebuffer(fbo int64) surface.Surface {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.requireCurrentLocked("draw") {
		return nil
	}
	if s.framebuffer == nil || fbo != s.fboID {
		return nil
	}
	return s.framebuffer
}

// LastPresented returns a copy of the most recently presented frame.
func (s *OffscreenSurface) LastPresented() *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastPresented == nil {
		return nil
	}
	img := image.NewRGBA(s.lastPresented.Rect)
	copy(img.Pix, s.lastPresented.Pix)
	return img
}

// PresentCount returns how many frames were presented.
func (s *OffscreenSurface) PresentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.presented
}

// Close releases the framebuffer.
func (s *OffscreenSurface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = false
	s.holder = nil
	if s.framebuffer == nil {
		return nil
	}
	err := s.framebuffer.Close()
	s.framebuffer = nil
	s.fboID = 0
	return err
}

func (s *OffscreenSurface) requireCurrentLocked(op string) bool {
	if s.current {
		return true
	}
	if debugChecks {
		panic(fmt.Sprintf("gpu: %s without a current context", op))
	}
	s.logger.Warn("surface operation without a current context", core.F("op", op))
	return false
}
