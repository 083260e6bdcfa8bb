package platformview

import (
	"context"
	"image/color"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Swind/embedder-harness/gpu"
	"github.com/Swind/embedder-harness/pointer"
	"github.com/Swind/embedder-harness/runners"
	"github.com/Swind/embedder-harness/vsync"
)

func newHost(t *testing.T, mask runners.ThreadMask) *runners.ThreadHost {
	t.Helper()
	host := runners.NewThreadHost(t.Name(), mask, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = host.Shutdown(ctx)
	})
	return host
}

func TestNew_SelectsVariant(t *testing.T) {
	host := newHost(t, 0)

	tests := []struct {
		backend string
		wantGL  bool
		wantErr bool
	}{
		{"", true, false},
		{BackendGL, true, false},
		{BackendMock, false, false},
		{"vulkan", false, true},
	}
	for _, tt := range tests {
		view, err := New(Config{Backend: tt.backend, TaskRunners: host.TaskRunners()})
		if tt.wantErr {
			if err == nil {
				t.Errorf("New(%q): got = nil error, want error", tt.backend)
			}
			continue
		}
		if err != nil {
			t.Fatalf("New(%q) failed: %v", tt.backend, err)
		}
		_, isGL := view.(*GLView)
		if isGL != tt.wantGL {
			t.Errorf("New(%q) GL variant: got = %v, want %v", tt.backend, isGL, tt.wantGL)
		}
	}
}

func TestNew_RequiresTaskRunners(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("New without runners: got = nil error, want error")
	}
}

func TestGLView_DefaultsMatchTestShell(t *testing.T) {
	host := newHost(t, 0)
	embedder := NewRecordingEmbedder()
	view, err := NewGLView(Config{TaskRunners: host.TaskRunners(), Embedder: embedder})
	if err != nil {
		t.Fatalf("NewGLView failed: %v", err)
	}
	defer view.Close()

	if got := view.Offscreen().Size(); got.Width != 800 || got.Height != 600 {
		t.Errorf("surface size: got = %+v, want 800x600", got)
	}
	if view.CreateExternalViewEmbedder() != ExternalViewEmbedder(embedder) {
		t.Error("embedder: got = other, want injected embedder")
	}
	if view.TaskRunners() != host.TaskRunners() {
		t.Error("task runners: got = other, want host set")
	}
	// GL views coalesce pointer packets per frame
	d := &countingDelegate{}
	disp := view.GetDispatcherMaker()(d)
	if _, ok := disp.(*pointer.SmoothDispatcher); !ok {
		t.Errorf("dispatcher: got = %T, want *pointer.SmoothDispatcher", disp)
	}
}

// TestFrameDriver_PipelineAcrossRoles
// Given: a GL view on dedicated UI and raster threads
// When: two frames are requested and vsync is simulated for each
// Then: both frames are presented, the embedder sees them, and the pointer
// packet held by the smooth dispatcher is released at the frame boundary
func TestFrameDriver_PipelineAcrossRoles(t *testing.T) {
	// Arrange
	host := newHost(t, runners.AllThreads)
	embedder := NewRecordingEmbedder()
	view, err := NewGLView(Config{TaskRunners: host.TaskRunners(), Embedder: embedder, Width: 32, Height: 32})
	if err != nil {
		t.Fatalf("NewGLView failed: %v", err)
	}
	defer view.Close()

	delegate := &countingDelegate{}
	size := view.Offscreen().Size()
	driver := NewFrameDriver(view, size, func(fbo int64, timings vsync.FrameTimings) bool {
		fb := view.Offscreen().Framebuffer(fbo)
		if fb == nil {
			return false
		}
		fb.Clear(color.RGBA{B: 255, A: 255})
		return true
	}, delegate)

	driver.Dispatcher().DispatchPacket(&pointer.Packet{}, 1)
	driver.Dispatcher().DispatchPacket(&pointer.Packet{}, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Act
	for i := 1; i <= 2; i++ {
		driver.RequestFrame()
		view.SimulateVSync()
		if err := driver.WaitFrames(ctx, i); err != nil {
			t.Fatalf("frame %d: %v", i, err)
		}
	}

	// Assert
	for i, r := range driver.Results() {
		if !r.Presented {
			t.Errorf("frame %d presented: got = false, want true", i)
		}
	}
	if got := view.Offscreen().PresentCount(); got != 2 {
		t.Errorf("presents: got = %d, want 2", got)
	}
	if got := len(embedder.Frames()); got != 2 {
		t.Errorf("embedder frames: got = %d, want 2", got)
	}
	if got := embedder.BegunFrames(); got != 2 {
		t.Errorf("embedder begun frames: got = %d, want 2", got)
	}
	if got := delegate.count(); got != 2 {
		t.Errorf("pointer packets delivered: got = %d, want 2", got)
	}
	if px := view.Offscreen().LastPresented().RGBAAt(0, 0); px.B != 255 {
		t.Errorf("presented pixel: got = %+v, want blue", px)
	}
}

func TestMockView_FramesAlwaysPresent(t *testing.T) {
	host := newHost(t, 0)
	var observed []gpu.FrameResult
	view, err := NewMockView(Config{
		TaskRunners:   host.TaskRunners(),
		FrameObserver: observerFunc(func(r gpu.FrameResult) { observed = append(observed, r) }),
	})
	if err != nil {
		t.Fatalf("NewMockView failed: %v", err)
	}

	s := view.CreateRenderingSurface()
	if !s.DrawFrame(gpu.FrameInfo{Width: 1, Height: 1}, nil) {
		t.Error("DrawFrame: got = false, want true")
	}
	if len(observed) != 1 || observed[0].FBO != 0 {
		t.Errorf("observed: got = %+v, want one frame on fbo 0", observed)
	}
	if view.CreateExternalViewEmbedder() != nil {
		t.Error("embedder: got = non-nil, want nil")
	}
}

type countingDelegate struct {
	n atomic.Int32
}

func (c *countingDelegate) DoDispatchPacket(*pointer.Packet, uint64) { c.n.Add(1) }

func (c *countingDelegate) count() int { return int(c.n.Load()) }

type observerFunc func(gpu.FrameResult)

func (f observerFunc) OnFrame(r gpu.FrameResult) { f(r) }
