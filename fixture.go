package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"path/filepath"
	"sync"

	"github.com/Swind/embedder-harness/bridge"
	"github.com/Swind/embedder-harness/config"
	"github.com/Swind/embedder-harness/core"
	"github.com/Swind/embedder-harness/isolate"
	"github.com/Swind/embedder-harness/platformview"
	"github.com/Swind/embedder-harness/runners"
)

// ErrFixtureClosed is returned by fixture operations after Close.
var ErrFixtureClosed = errors.New("harness: fixture is closed")

// Option configures a Fixture.
type Option func(*Fixture)

// WithLogger sets the logger handed to runners, isolates and views.
func WithLogger(l core.Logger) Option {
	return func(f *Fixture) {
		if l != nil {
			f.logger = l
		}
	}
}

// WithObserver sets the isolate observer of settings built by the fixture.
func WithObserver(o isolate.Observer) Option {
	return func(f *Fixture) { f.observer = o }
}

// WithRunnerConfig sets the config every runner created by the fixture uses.
func WithRunnerConfig(c *core.RunnerConfig) Option {
	return func(f *Fixture) { f.runnerConfig = c }
}

// Fixture owns everything a harness test creates: the VM reference, thread
// hosts, extra threads, platform views and launched isolates. Close tears
// them down in dependency order.
//
// Every fixture installs a bridge under bridge.DefaultName, so scripts can
// call PassMessage without further setup.
type Fixture struct {
	cfg          config.Config
	logger       core.Logger
	observer     isolate.Observer
	runnerConfig *core.RunnerConfig
	bridge       *bridge.Bridge

	mu      sync.Mutex
	natives map[string]isolate.NativeFunction
	vm      *isolate.VMRef
	host    *runners.ThreadHost
	hosts   []*runners.ThreadHost
	threads []*core.SingleThreadTaskRunner
	views   []io.Closer
	running []*isolate.RunningIsolate
	closed  bool
}

// NewFixture creates a fixture for cfg. Nothing is started until used.
func NewFixture(cfg config.Config, opts ...Option) *Fixture {
	f := &Fixture{
		cfg:    cfg,
		logger: core.NewNoOpLogger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.bridge = bridge.New(bridge.DefaultName).WithLogger(f.logger)
	f.natives = map[string]isolate.NativeFunction{f.bridge.Name(): f.bridge.Handler()}
	return f
}

// Config returns the configuration the fixture was built with.
func (f *Fixture) Config() config.Config { return f.cfg }

// Bridge returns the default message bridge.
func (f *Fixture) Bridge() *bridge.Bridge { return f.bridge }

// FixturesPath returns the directory scripts are loaded from.
func (f *Fixture) FixturesPath() string { return f.cfg.Isolate.FixturesDir }

// AddNativeCallback installs fn as a global named name in isolates launched
// afterwards. Adding the default bridge name replaces the bridge handler.
func (f *Fixture) AddNativeCallback(name string, fn isolate.NativeFunction) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.natives[name] = fn
}

// CreateSettingsForFixture returns isolate settings for the configured
// kernel with the fixture's native callbacks installed.
func (f *Fixture) CreateSettingsForFixture() isolate.Settings {
	f.mu.Lock()
	natives := maps.Clone(f.natives)
	f.mu.Unlock()

	native := f.cfg.Isolate.NativeLibrary
	if native != "" && !filepath.IsAbs(native) {
		native = filepath.Join(f.cfg.Isolate.FixturesDir, native)
	}
	return isolate.Settings{
		SnapshotPath:      f.cfg.KernelPath(),
		NativeLibraryPath: native,
		NativeEntries:     natives,
		MemoryLimitMB:     f.cfg.Isolate.MemoryLimitMB,
		Observer:          f.observer,
		Logger:            f.logger,
	}
}

// CreateNewThread starts a dedicated thread owned by the fixture.
func (f *Fixture) CreateNewThread(name string) (core.TaskRunner, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrFixtureClosed
	}
	r := core.NewSingleThreadTaskRunnerWithConfig(name, f.runnerConfigLocked())
	f.threads = append(f.threads, r)
	return r, nil
}

// CreateTaskRunners starts a thread host for label. Roles outside mask share
// one thread.
func (f *Fixture) CreateTaskRunners(label string, mask runners.ThreadMask) (*runners.TaskRunners, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrFixtureClosed
	}
	h := runners.NewThreadHost(label, mask, f.runnerConfigLocked())
	f.hosts = append(f.hosts, h)
	return h.TaskRunners(), nil
}

// TaskRunners returns the fixture's default runner set, creating it on first
// use with the thread layout of the configuration.
func (f *Fixture) TaskRunners() (*runners.TaskRunners, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrFixtureClosed
	}
	if f.host == nil {
		var mask runners.ThreadMask
		if f.cfg.Threads == config.ThreadsDedicated {
			mask = runners.AllThreads
		}
		f.host = runners.NewThreadHost(f.cfg.Label, mask, f.runnerConfigLocked())
		f.hosts = append(f.hosts, f.host)
	}
	return f.host.TaskRunners(), nil
}

// NewPlatformView builds the configured platform view over taskRunners.
func (f *Fixture) NewPlatformView(taskRunners *runners.TaskRunners, opts ...func(*platformview.Config)) (platformview.PlatformView, error) {
	cfg := platformview.Config{
		Backend:         f.cfg.Surface.Backend,
		TaskRunners:     taskRunners,
		Width:           f.cfg.Surface.Width,
		Height:          f.cfg.Surface.Height,
		PointerStrategy: f.cfg.Pointer,
		Logger:          f.logger,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	view, err := platformview.New(cfg)
	if err != nil {
		return nil, err
	}
	if c, ok := view.(io.Closer); ok {
		f.mu.Lock()
		f.views = append(f.views, c)
		f.mu.Unlock()
	}
	return view, nil
}

// VM returns the fixture's VM reference, creating the VM on first use.
func (f *Fixture) VM() (*isolate.VMRef, error) {
	settings := f.CreateSettingsForFixture()
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrFixtureClosed
	}
	if f.vm == nil {
		vm, err := isolate.CreateVM(settings)
		if err != nil {
			return nil, fmt.Errorf("creating vm: %w", err)
		}
		f.vm = vm
	}
	return f.vm, nil
}

// RunInIsolate runs entrypoint from the configured kernel in a new root
// isolate on the default runner set. The wait is bounded by the configured
// run timeout. The isolate is shut down by Close.
func (f *Fixture) RunInIsolate(ctx context.Context, entrypoint string, args []string) (*isolate.RunningIsolate, error) {
	vm, err := f.VM()
	if err != nil {
		return nil, err
	}
	taskRunners, err := f.TaskRunners()
	if err != nil {
		return nil, err
	}
	if f.cfg.Isolate.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.Isolate.RunTimeout)
		defer cancel()
	}

	running, err := isolate.RunInIsolateContext(ctx, vm, f.CreateSettingsForFixture(),
		taskRunners, entrypoint, args, "")
	if running != nil {
		f.mu.Lock()
		f.running = append(f.running, running)
		f.mu.Unlock()
	}
	return running, err
}

// Close shuts down isolates, then threads and views, then releases the VM.
// Repeated calls return nil.
func (f *Fixture) Close(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	running, hosts, threads, views, vm := f.running, f.hosts, f.threads, f.views, f.vm
	f.mu.Unlock()

	var errs []error
	for i := len(running) - 1; i >= 0; i-- {
		if err := running[i].Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutting down isolate %s: %w", running[i].Isolate().ID(), err))
		}
	}
	for _, h := range hosts {
		if err := h.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	for _, r := range threads {
		r.Shutdown()
		if err := r.WaitShutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("waiting for thread %s: %w", r.Name(), err))
		}
	}
	for _, v := range views {
		if err := v.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if vm != nil {
		vm.Release()
	}
	f.logger.Debug("fixture closed", core.F("label", f.cfg.Label), core.F("errors", len(errs)))
	return errors.Join(errs...)
}

func (f *Fixture) runnerConfigLocked() *core.RunnerConfig {
	if f.runnerConfig != nil {
		return f.runnerConfig
	}
	cfg := core.DefaultRunnerConfig()
	cfg.Logger = f.logger
	return cfg
}

// Stats snapshots every thread the fixture owns.
func (f *Fixture) Stats() []core.RunnerStats {
	f.mu.Lock()
	hosts, threads := f.hosts, f.threads
	f.mu.Unlock()

	var out []core.RunnerStats
	for _, h := range hosts {
		out = append(out, h.Stats()...)
	}
	for _, r := range threads {
		out = append(out, r.Stats())
	}
	return out
}
