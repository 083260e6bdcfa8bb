// Package platformview composes a task runner set, a rendering surface and a
// vsync source into the host a shell talks to. Real and mock variants share
// one interface.
package platformview

import (
	"fmt"

	"github.com/Swind/embedder-harness/core"
	"github.com/Swind/embedder-harness/gpu"
	"github.com/Swind/embedder-harness/pointer"
	"github.com/Swind/embedder-harness/runners"
	"github.com/Swind/embedder-harness/vsync"
)

// PlatformView is what the shell needs from the embedder.
type PlatformView interface {
	CreateRenderingSurface() *gpu.GLSurface
	CreateVSyncWaiter() vsync.Waiter
	GetDispatcherMaker() pointer.DispatcherMaker
	// CreateExternalViewEmbedder returns the injected embedder, or nil.
	CreateExternalViewEmbedder() ExternalViewEmbedder
	// SimulateVSync releases the waiters of the view's clock.
	SimulateVSync()
	TaskRunners() *runners.TaskRunners
}

const (
	BackendGL   = "gl"
	BackendMock = "mock"
)

// Config selects and wires a PlatformView.
type Config struct {
	// Backend is BackendGL (default) or BackendMock.
	Backend string

	TaskRunners *runners.TaskRunners

	// Clock drives SimulateVSync. A new clock is created when nil.
	Clock *vsync.Clock

	// WaiterFactory overrides the waiters handed out by CreateVSyncWaiter.
	WaiterFactory vsync.WaiterFactory

	// Embedder is returned by CreateExternalViewEmbedder. May be nil.
	Embedder ExternalViewEmbedder

	// Width and Height of the GL surface; 800x600 when zero.
	Width, Height int

	// PointerStrategy names the dispatch strategy; "smooth" for GL,
	// "default" for mock when empty.
	PointerStrategy string

	// FrameObserver is told about every frame of surfaces created by the view.
	FrameObserver gpu.FrameObserver

	Logger core.Logger
}

// New builds the variant named by cfg.Backend.
func New(cfg Config) (PlatformView, error) {
	if cfg.TaskRunners == nil {
		return nil, fmt.Errorf("platformview: task runners are required")
	}
	switch cfg.Backend {
	case "", BackendGL:
		return NewGLView(cfg)
	case BackendMock:
		return NewMockView(cfg)
	default:
		return nil, fmt.Errorf("platformview: unknown backend %q", cfg.Backend)
	}
}

// base holds what both variants share.
type base struct {
	runners  *runners.TaskRunners
	clock    *vsync.Clock
	factory  vsync.WaiterFactory
	embedder ExternalViewEmbedder
	maker    pointer.DispatcherMaker
	observer gpu.FrameObserver
	logger   core.Logger
}

func newBase(cfg Config, defaultStrategy string) (base, error) {
	b := base{
		runners:  cfg.TaskRunners,
		clock:    cfg.Clock,
		factory:  cfg.WaiterFactory,
		embedder: cfg.Embedder,
		logger:   cfg.Logger,
	}
	if b.logger == nil {
		b.logger = core.NewNoOpLogger()
	}
	if b.clock == nil {
		b.clock = vsync.NewClock()
	}
	if b.factory == nil {
		b.factory = vsync.Factory(b.clock)
	}
	strategy := cfg.PointerStrategy
	if strategy == "" {
		strategy = defaultStrategy
	}
	maker, err := pointer.MakerFor(strategy)
	if err != nil {
		return base{}, err
	}
	b.maker = maker

	var observers frameObservers
	if cfg.Embedder != nil {
		observers = append(observers, cfg.Embedder)
	}
	if cfg.FrameObserver != nil {
		observers = append(observers, cfg.FrameObserver)
	}
	if len(observers) > 0 {
		b.observer = observers
	}
	return b, nil
}

func (b *base) CreateVSyncWaiter() vsync.Waiter {
	return b.factory(b.runners.UI())
}

func (b *base) GetDispatcherMaker() pointer.DispatcherMaker { return b.maker }

func (b *base) CreateExternalViewEmbedder() ExternalViewEmbedder { return b.embedder }

func (b *base) SimulateVSync() { b.clock.Simulate() }

func (b *base) TaskRunners() *runners.TaskRunners { return b.runners }

// Clock returns the clock behind SimulateVSync.
func (b *base) Clock() *vsync.Clock { return b.clock }

type frameObservers []gpu.FrameObserver

func (o frameObservers) OnFrame(r gpu.FrameResult) {
	for _, obs := range o {
		obs.OnFrame(r)
	}
}
