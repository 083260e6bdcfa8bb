package gpu

// FrameInfo describes the frame a framebuffer is requested for.
type FrameInfo struct {
	Width  int
	Height int
}

// ProcResolver maps a GL entry point name to its address. Unsupported names
// resolve to 0.
type ProcResolver func(name string) uintptr

// SurfaceDelegate is the five operation contract every rendering surface
// exposes, real or mock, so hosts treat them identically.
type SurfaceDelegate interface {
	// GLContextMakeCurrent binds the surface context for the scope of the
	// returned switch. Callers defer Release on it.
	GLContextMakeCurrent() *ContextSwitch

	// GLContextClearCurrent unbinds the context. Always succeeds when nothing
	// is current.
	GLContextClearCurrent() bool

	// GLContextPresent submits framebuffer fbo for display. Requires the
	// context to be current.
	GLContextPresent(fbo uint32) bool

	// GLContextFBO returns the framebuffer to render frame into. Requires the
	// context to be current.
	GLContextFBO(frame FrameInfo) int64

	// GetGLProcResolver returns the proc-address resolver; never nil.
	GetGLProcResolver() ProcResolver
}

// nullResolver resolves nothing.
func nullResolver(string) uintptr { return 0 }
