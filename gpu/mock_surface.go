package gpu

import "sync/atomic"

// MockSurface is the mock embedder surface: every operation succeeds and the
// framebuffer is always 0.
type MockSurface struct {
	makeCurrent atomic.Int64
	presents    atomic.Int64
}

func NewMockSurface() *MockSurface {
	return &MockSurface{}
}

func (m *MockSurface) GLContextMakeCurrent() *ContextSwitch {
	m.makeCurrent.Add(1)
	return NewContextSwitchResult(true)
}

func (m *MockSurface) GLContextClearCurrent() bool { return true }

func (m *MockSurface) GLContextPresent(fbo uint32) bool {
	m.presents.Add(1)
	return true
}

func (m *MockSurface) GLContextFBO(FrameInfo) int64 { return 0 }

func (m *MockSurface) GetGLProcResolver() ProcResolver { return nullResolver }

// Counts returns how many times the context was made current and presented.
func (m *MockSurface) Counts() (makeCurrent, presents int64) {
	return m.makeCurrent.Load(), m.presents.Load()
}
