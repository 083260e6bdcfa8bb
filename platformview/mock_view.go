package platformview

import "github.com/Swind/embedder-harness/gpu"

// MockView hands out mock surfaces on which every operation succeeds.
type MockView struct {
	base
	surface *gpu.MockSurface
}

func NewMockView(cfg Config) (*MockView, error) {
	b, err := newBase(cfg, "default")
	if err != nil {
		return nil, err
	}
	return &MockView{base: b, surface: gpu.NewMockSurface()}, nil
}

func (v *MockView) CreateRenderingSurface() *gpu.GLSurface {
	return gpu.NewGLSurface(v.surface, v.logger, v.observer)
}

// Surface returns the shared mock delegate.
func (v *MockView) Surface() *gpu.MockSurface { return v.surface }
