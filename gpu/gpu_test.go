package gpu

import (
	"image/color"
	"testing"

	"github.com/gogpu/gg/surface"
)

type countingOps struct {
	makes, clears int
	fail          bool
}

func (o *countingOps) MakeCurrent() bool {
	o.makes++
	return !o.fail
}

func (o *countingOps) ClearCurrent() bool {
	o.clears++
	return true
}

// TestContextSwitch_ReleaseOnce verifies scoped acquisition
// Given: an embedded context over counting ops
// When: a switch is acquired and released twice
// Then: make and clear each run exactly once
func TestContextSwitch_ReleaseOnce(t *testing.T) {
	// Arrange
	ops := &countingOps{}
	ctx := NewEmbeddedSwitchableContext(ops)

	// Act
	sw := AcquireContext(ctx)
	sw.Release()
	sw.Release()

	// Assert
	if !sw.Result() {
		t.Error("Result: got = false, want true")
	}
	if ops.makes != 1 || ops.clears != 1 {
		t.Errorf("calls: got = make %d clear %d, want 1 and 1", ops.makes, ops.clears)
	}
}

// TestWithContext_ClearsOnFailureAndPanic covers every exit path
func TestWithContext_ClearsOnFailureAndPanic(t *testing.T) {
	t.Run("make current fails", func(t *testing.T) {
		ops := &countingOps{fail: true}
		ran := false
		ok := WithContext(NewEmbeddedSwitchableContext(ops), func() bool { ran = true; return true })
		if ok || ran {
			t.Errorf("WithContext: got = (ok %v, ran %v), want (false, false)", ok, ran)
		}
		if ops.clears != 1 {
			t.Errorf("clears: got = %d, want 1", ops.clears)
		}
	})

	t.Run("work fails", func(t *testing.T) {
		ops := &countingOps{}
		if WithContext(NewEmbeddedSwitchableContext(ops), func() bool { return false }) {
			t.Error("WithContext: got = true, want false")
		}
		if ops.clears != 1 {
			t.Errorf("clears: got = %d, want 1", ops.clears)
		}
	})

	t.Run("work panics", func(t *testing.T) {
		ops := &countingOps{}
		func() {
			defer func() { _ = recover() }()
			WithContext(NewEmbeddedSwitchableContext(ops), func() bool { panic("draw") })
		}()
		if ops.clears != 1 {
			t.Errorf("clears: got = %d, want 1", ops.clears)
		}
	})
}

func TestOffscreenSurface_ClearCurrentIsIdempotent(t *testing.T) {
	s := NewOffscreenSurface(0, 0, nil)
	defer s.Close()

	// ClearCurrent with no prior MakeCurrent
	if !s.GLContextClearCurrent() {
		t.Error("ClearCurrent without MakeCurrent: got = false, want true")
	}
	if got := s.Size(); got.Width != 800 || got.Height != 600 {
		t.Errorf("default size: got = %+v, want 800x600", got)
	}
}

// TestOffscreenSurface_SequentialCycles
// Given: an offscreen surface
// When: two make/clear cycles run back to back
// Then: both succeed and the context ends not current
func TestOffscreenSurface_SequentialCycles(t *testing.T) {
	s := NewOffscreenSurface(0, 0, nil)
	defer s.Close()

	for i := 0; i < 2; i++ {
		sw := s.GLContextMakeCurrent()
		if !sw.Result() {
			t.Fatalf("cycle %d: MakeCurrent got = false, want true", i)
		}
		sw.Release()
	}
	if s.IsCurrent() {
		t.Error("IsCurrent after cycles: got = true, want false")
	}
}

func TestOffscreenSurface_SecondHolderRejected(t *testing.T) {
	s := NewOffscreenSurface(0, 0, nil)
	defer s.Close()

	if !s.MakeCurrent() {
		t.Fatal("first MakeCurrent: got = false, want true")
	}
	if s.MakeCurrent() {
		t.Error("second MakeCurrent while current: got = true, want false")
	}
	if !s.IsCurrent() {
		t.Error("failed MakeCurrent cleared the context")
	}
}

// TestOffscreenSurface_FailedAcquisitionKeepsHolder
// Given: one acquisition holding the context with a framebuffer bound
// When: a second acquisition fails and is released through IsValid
// Then: the first holder stays current and can still present
func TestOffscreenSurface_FailedAcquisitionKeepsHolder(t *testing.T) {
	// Arrange
	off := NewOffscreenSurface(0, 0, nil)
	defer off.Close()
	gl := NewGLSurface(off, nil, nil)
	holder := off.GLContextMakeCurrent()
	defer holder.Release()
	if !holder.Result() {
		t.Fatal("first acquisition: got = false, want true")
	}
	fbo := off.GLContextFBO(off.Size())
	if fbo != 1 {
		t.Fatalf("fbo: got = %d, want 1", fbo)
	}

	// Act
	valid := gl.IsValid()

	// Assert
	if valid {
		t.Error("IsValid while held elsewhere: got = true, want false")
	}
	if !off.IsCurrent() {
		t.Error("IsCurrent after failed acquisition: got = false, want true")
	}
	if !off.GLContextPresent(uint32(fbo)) {
		t.Error("holder Present: got = false, want true")
	}
	holder.Release()
	if off.IsCurrent() {
		t.Error("IsCurrent after holder release: got = true, want false")
	}
}

func TestOffscreenSurface_FBOCachedBySize(t *testing.T) {
	s := NewOffscreenSurface(0, 0, nil)
	defer s.Close()
	sw := s.GLContextMakeCurrent()
	defer sw.Release()

	a := s.GLContextFBO(FrameInfo{Width: 800, Height: 600})
	b := s.GLContextFBO(FrameInfo{Width: 800, Height: 600})
	c := s.GLContextFBO(FrameInfo{Width: 400, Height: 300})

	if a == 0 || a != b {
		t.Errorf("same size: got = %d and %d, want equal non-zero", a, b)
	}
	if c == a {
		t.Errorf("resized fbo: got = %d, want different from %d", c, a)
	}
}

func TestOffscreenSurface_RequiresCurrent(t *testing.T) {
	if debugChecks {
		t.Skip("precondition panics in debug builds")
	}
	s := NewOffscreenSurface(0, 0, nil)
	defer s.Close()

	if got := s.GLContextFBO(FrameInfo{}); got != 0 {
		t.Errorf("FBO without context: got = %d, want 0", got)
	}
	if s.GLContextPresent(1) {
		t.Error("Present without context: got = true, want false")
	}
}

func TestOffscreenSurface_ProcResolver(t *testing.T) {
	s := NewOffscreenSurface(0, 0, nil)
	resolve := s.GetGLProcResolver()

	if resolve("glClear") == 0 {
		t.Error("glClear: got = 0, want an address")
	}
	if got := resolve("glNotARealCall"); got != 0 {
		t.Errorf("unsupported proc: got = %#x, want 0", got)
	}
}

// TestGLSurface_DrawFramePresentsPixels
// Given: a GL surface over an offscreen delegate
// When: a frame is drawn that clears the framebuffer red
// Then: the presented image is red and the context is no longer current
func TestGLSurface_DrawFramePresentsPixels(t *testing.T) {
	// Arrange
	off := NewOffscreenSurface(64, 48, nil)
	defer off.Close()
	var frames []FrameResult
	gl := NewGLSurface(off, nil, frameObserverFunc(func(r FrameResult) { frames = append(frames, r) }))

	// Act
	ok := gl.DrawFrame(off.Size(), func(fbo int64) bool {
		fb := off.Framebuffer(fbo)
		if fb == nil {
			return false
		}
		fb.Clear(color.RGBA{R: 255, A: 255})
		p := surface.NewPath()
		p.Rectangle(8, 8, 16, 16)
		fb.Fill(p, surface.DefaultFillStyle())
		return true
	})

	// Assert
	if !ok {
		t.Fatal("DrawFrame: got = false, want true")
	}
	if off.IsCurrent() {
		t.Error("context current after frame: got = true, want false")
	}
	img := off.LastPresented()
	if img == nil {
		t.Fatal("LastPresented: got = nil")
	}
	if got := img.RGBAAt(60, 40); got.R != 255 || got.G != 0 {
		t.Errorf("background pixel: got = %+v, want red", got)
	}
	if got := gl.Stats(); got.Acquired != 1 || got.Presented != 1 || got.Failed != 0 {
		t.Errorf("stats: got = %+v, want 1 acquired 1 presented", got)
	}
	if len(frames) != 1 || !frames[0].Presented {
		t.Errorf("observed frames: got = %+v, want one presented frame", frames)
	}
}

func TestGLSurface_MakeCurrentFailure(t *testing.T) {
	off := NewOffscreenSurface(0, 0, nil)
	defer off.Close()
	gl := NewGLSurface(off, nil, nil)

	off.InjectMakeCurrentFailures(1)
	if f := gl.AcquireFrame(off.Size()); f != nil {
		t.Error("AcquireFrame with failing context: got = frame, want nil")
	}
	if got := gl.Stats().Failed; got != 1 {
		t.Errorf("failed: got = %d, want 1", got)
	}
	if !gl.IsValid() {
		t.Error("IsValid after failure cleared: got = false, want true")
	}
}

func TestGLSurface_RenderFailureSkipsPresent(t *testing.T) {
	off := NewOffscreenSurface(0, 0, nil)
	defer off.Close()
	gl := NewGLSurface(off, nil, nil)

	f := gl.AcquireFrame(off.Size())
	if f == nil {
		t.Fatal("AcquireFrame: got = nil")
	}
	if f.Submit(func(int64) bool { return false }) {
		t.Error("Submit with failed render: got = true, want false")
	}
	if f.Submit(nil) {
		t.Error("second Submit: got = true, want false")
	}
	if got := off.PresentCount(); got != 0 {
		t.Errorf("presents: got = %d, want 0", got)
	}
	if off.IsCurrent() {
		t.Error("context left current after failed render")
	}
}

func TestMockSurface_AlwaysSucceeds(t *testing.T) {
	m := NewMockSurface()
	gl := NewGLSurface(m, nil, nil)

	if !gl.DrawFrame(FrameInfo{Width: 1, Height: 1}, nil) {
		t.Error("DrawFrame on mock: got = false, want true")
	}
	if got := m.GLContextFBO(FrameInfo{}); got != 0 {
		t.Errorf("mock FBO: got = %d, want 0", got)
	}
	if got := m.GetGLProcResolver()("glClear"); got != 0 {
		t.Errorf("mock resolver: got = %#x, want 0", got)
	}
	if mc, p := m.Counts(); mc != 2 || p != 1 {
		t.Errorf("counts: got = make %d present %d, want 2 and 1", mc, p)
	}
}

type frameObserverFunc func(FrameResult)

func (f frameObserverFunc) OnFrame(r FrameResult) { f(r) }
