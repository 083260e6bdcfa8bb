package platformview

import (
	"github.com/Swind/embedder-harness/core"
	"github.com/Swind/embedder-harness/gpu"
)

// GLView renders into an offscreen GL surface and is itself the surface
// delegate of the GL surfaces it creates.
type GLView struct {
	base
	offscreen *gpu.OffscreenSurface
}

var _ gpu.SurfaceDelegate = (*GLView)(nil)

func NewGLView(cfg Config) (*GLView, error) {
	b, err := newBase(cfg, "smooth")
	if err != nil {
		return nil, err
	}
	v := &GLView{
		base:      b,
		offscreen: gpu.NewOffscreenSurface(cfg.Width, cfg.Height, b.logger),
	}
	v.logger.Debug("gl platform view created",
		core.F("runners", cfg.TaskRunners.Label()),
		core.F("size", v.offscreen.Size()))
	return v, nil
}

func (v *GLView) CreateRenderingSurface() *gpu.GLSurface {
	return gpu.NewGLSurface(v, v.logger, v.observer)
}

// Offscreen exposes the backing surface for drawing and inspection.
func (v *GLView) Offscreen() *gpu.OffscreenSurface { return v.offscreen }

// Close releases the backing framebuffer.
func (v *GLView) Close() error { return v.offscreen.Close() }

func (v *GLView) GLContextMakeCurrent() *gpu.ContextSwitch {
	return v.offscreen.GLContextMakeCurrent()
}

func (v *GLView) GLContextClearCurrent() bool {
	return v.offscreen.GLContextClearCurrent()
}

func (v *GLView) GLContextPresent(fbo uint32) bool {
	return v.offscreen.GLContextPresent(fbo)
}

func (v *GLView) GLContextFBO(frame gpu.FrameInfo) int64 {
	return v.offscreen.GLContextFBO(frame)
}

func (v *GLView) GetGLProcResolver() gpu.ProcResolver {
	return v.offscreen.GetGLProcResolver()
}
