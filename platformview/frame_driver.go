package platformview

import (
	"context"
	"sync"

	"github.com/Swind/embedder-harness/core"
	"github.com/Swind/embedder-harness/gpu"
	"github.com/Swind/embedder-harness/pointer"
	"github.com/Swind/embedder-harness/vsync"
)

// RenderFunc draws one frame into fbo. Returning false drops the frame.
type RenderFunc func(fbo int64, timings vsync.FrameTimings) bool

// FrameDriver runs the frame pipeline of a view: a vsync lands on the UI
// role, which begins the frame on the embedder and hands rasterization to the
// raster role; the pointer dispatcher sees the frame boundary afterwards.
type FrameDriver struct {
	view       PlatformView
	surface    *gpu.GLSurface
	waiter     vsync.Waiter
	dispatcher pointer.Dispatcher
	size       gpu.FrameInfo
	render     RenderFunc

	mu      sync.Mutex
	results []gpu.FrameResult
	notify  chan struct{}
}

// NewFrameDriver wires a driver over view. delegate receives pointer packets
// through the view's dispatch strategy.
func NewFrameDriver(view PlatformView, size gpu.FrameInfo, render RenderFunc, delegate pointer.Delegate) *FrameDriver {
	return &FrameDriver{
		view:       view,
		surface:    view.CreateRenderingSurface(),
		waiter:     view.CreateVSyncWaiter(),
		dispatcher: view.GetDispatcherMaker()(delegate),
		size:       size,
		render:     render,
		notify:     make(chan struct{}, 1),
	}
}

// Dispatcher returns the pointer dispatcher bound to this driver's frames.
func (d *FrameDriver) Dispatcher() pointer.Dispatcher { return d.dispatcher }

// Surface returns the rendering surface frames are drawn on.
func (d *FrameDriver) Surface() *gpu.GLSurface { return d.surface }

// RequestFrame asks for one frame at the next vsync.
func (d *FrameDriver) RequestFrame() {
	d.waiter.AsyncWaitForVsync(d.onVsync)
}

func (d *FrameDriver) onVsync(ctx context.Context, timings vsync.FrameTimings) {
	if e := d.view.CreateExternalViewEmbedder(); e != nil {
		e.BeginFrame(d.size)
	}
	d.view.TaskRunners().Raster().PostTaskWithTraits(func(ctx context.Context) {
		var render func(int64) bool
		if d.render != nil {
			render = func(fbo int64) bool { return d.render(fbo, timings) }
		}
		frame := d.surface.AcquireFrame(d.size)
		result := gpu.FrameResult{Frame: d.size}
		if frame != nil {
			result.FBO = frame.FBO()
			result.Presented = frame.Submit(render)
		}
		d.dispatcher.OnFrameLayerTreeReceived()
		d.record(result)
	}, core.TraitsUserBlocking())
}

func (d *FrameDriver) record(r gpu.FrameResult) {
	d.mu.Lock()
	d.results = append(d.results, r)
	d.mu.Unlock()
	select {
	case d.notify <- struct{}{}:
	default:
	}
}

// Results returns the rasterized frames in order.
func (d *FrameDriver) Results() []gpu.FrameResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]gpu.FrameResult(nil), d.results...)
}

// WaitFrames blocks until n frames have been rasterized.
func (d *FrameDriver) WaitFrames(ctx context.Context, n int) error {
	for {
		d.mu.Lock()
		got := len(d.results)
		d.mu.Unlock()
		if got >= n {
			return nil
		}
		select {
		case <-d.notify:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
