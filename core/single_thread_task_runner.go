package core

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// ErrRunnerClosed is returned by synchronization helpers once a runner no
	// longer accepts tasks.
	ErrRunnerClosed = errors.New("task runner is closed")

	// ErrWaitOnSelf is returned when a task tries to wait for its own runner
	// to become idle, which can never happen.
	ErrWaitOnSelf = errors.New("cannot wait for the runner executing the caller")
)

// SingleThreadTaskRunner binds a dedicated Goroutine to execute tasks sequentially.
// It guarantees that all tasks submitted to it run on the same Goroutine (Thread Affinity).
//
// This is the executor behind every dedicated role thread: the platform, UI,
// raster and IO roles of a ThreadHost each own one, and script isolates that
// must not migrate between goroutines run on the UI one.
//
// Key differences from SequencedTaskRunner:
//   - SequencedTaskRunner: Tasks execute sequentially but may run on different worker goroutines
//   - SingleThreadTaskRunner: Tasks execute sequentially AND always on the same dedicated goroutine
type SingleThreadTaskRunner struct {
	name   string
	config *RunnerConfig

	queue  *FIFOTaskQueue
	signal chan struct{}

	// Lifecycle control
	ctx      context.Context
	cancel   context.CancelFunc
	stopped  chan struct{}
	stopOnce sync.Once
	closed   atomic.Bool

	timersMu sync.Mutex
	timers   map[*time.Timer]struct{}

	executed atomic.Int64
	rejected atomic.Int64
	running  atomic.Int32
}

// NewSingleThreadTaskRunner creates and starts a new SingleThreadTaskRunner.
// It immediately spawns a dedicated goroutine for task execution.
func NewSingleThreadTaskRunner(name string) *SingleThreadTaskRunner {
	return NewSingleThreadTaskRunnerWithConfig(name, nil)
}

// NewSingleThreadTaskRunnerWithConfig is NewSingleThreadTaskRunner with
// custom panic, metrics and rejection handlers.
func NewSingleThreadTaskRunnerWithConfig(name string, config *RunnerConfig) *SingleThreadTaskRunner {
	ctx, cancel := context.WithCancel(context.Background())
	r := &SingleThreadTaskRunner{
		name:    name,
		config:  config.withDefaults(),
		queue:   NewFIFOTaskQueue(),
		signal:  make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		stopped: make(chan struct{}),
		timers:  make(map[*time.Timer]struct{}),
	}

	// Start the dedicated message loop
	go r.runLoop()

	return r
}

// Name returns the name of the task runner
func (r *SingleThreadTaskRunner) Name() string {
	return r.name
}

// PostTask submits a task for execution
func (r *SingleThreadTaskRunner) PostTask(task Task) {
	r.PostTaskWithTraits(task, DefaultTaskTraits())
}

// PostTaskWithTraits submits a task with traits. Traits do not reorder tasks
// on a single thread; they are forwarded to metrics.
func (r *SingleThreadTaskRunner) PostTaskWithTraits(task Task, traits TaskTraits) {
	if r.closed.Load() {
		r.reject("closed")
		return
	}

	r.queue.Push(task, traits)
	r.config.Metrics.RecordQueueDepth(r.name, r.queue.Len())

	select {
	case r.signal <- struct{}{}:
	default:
	}
}

// PostDelayedTask submits a delayed task
func (r *SingleThreadTaskRunner) PostDelayedTask(task Task, delay time.Duration) {
	r.PostDelayedTaskWithTraits(task, delay, DefaultTaskTraits())
}

// PostDelayedTaskWithTraits submits a delayed task with traits.
// Uses time.AfterFunc, the task is queued behind whatever was posted before
// the timer fired.
func (r *SingleThreadTaskRunner) PostDelayedTaskWithTraits(task Task, delay time.Duration, traits TaskTraits) {
	if r.closed.Load() {
		r.reject("closed")
		return
	}

	r.timersMu.Lock()
	defer r.timersMu.Unlock()

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		r.timersMu.Lock()
		delete(r.timers, timer)
		r.timersMu.Unlock()
		r.PostTaskWithTraits(task, traits)
	})
	r.timers[timer] = struct{}{}
}

// RunsTasksOnCurrentThread reports whether ctx was handed out by this runner.
func (r *SingleThreadTaskRunner) RunsTasksOnCurrentThread(ctx context.Context) bool {
	return GetCurrentTaskRunner(ctx) == TaskRunner(r)
}

// =============================================================================
// Lifecycle
// =============================================================================

// Shutdown stops accepting tasks. Tasks already queued still run, after which
// the dedicated goroutine exits. Safe to call from a task on this runner.
func (r *SingleThreadTaskRunner) Shutdown() {
	if r.closed.Swap(true) {
		return
	}
	r.cancelTimers()
	select {
	case r.signal <- struct{}{}:
	default:
	}
}

// Stop stops the runner, drops queued tasks and waits for the task that is
// currently executing to return. Must not be called from a task on this runner.
func (r *SingleThreadTaskRunner) Stop() {
	r.stopOnce.Do(func() {
		r.closed.Store(true)
		r.cancelTimers()
		r.cancel()
		<-r.stopped
		if dropped := r.queue.Clear(); dropped > 0 {
			r.config.Logger.Debug("dropped queued tasks on stop",
				F("runner", r.name), F("dropped", dropped))
		}
	})
}

// IsClosed returns true once Shutdown or Stop has been called
func (r *SingleThreadTaskRunner) IsClosed() bool {
	return r.closed.Load()
}

// WaitShutdown blocks until the dedicated goroutine has exited.
func (r *SingleThreadTaskRunner) WaitShutdown(ctx context.Context) error {
	select {
	case <-r.stopped:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *SingleThreadTaskRunner) cancelTimers() {
	r.timersMu.Lock()
	defer r.timersMu.Unlock()
	for t := range r.timers {
		t.Stop()
	}
	clear(r.timers)
}

func (r *SingleThreadTaskRunner) reject(reason string) {
	r.rejected.Add(1)
	r.config.RejectedTaskHandler.HandleRejectedTask(r.name, reason)
	r.config.Metrics.RecordTaskRejected(r.name, reason)
}

// runLoop is the core of this runner, it occupies a dedicated goroutine
func (r *SingleThreadTaskRunner) runLoop() {
	defer close(r.stopped)

	runCtx := withTaskRunner(r.ctx, r)

	for {
		if r.ctx.Err() != nil {
			return
		}
		if item, ok := r.queue.Pop(); ok {
			r.runTask(runCtx, item)
			continue
		}
		if r.closed.Load() {
			// Drained after Shutdown
			return
		}
		select {
		case <-r.signal:
		case <-r.ctx.Done():
			return
		}
	}
}

func (r *SingleThreadTaskRunner) runTask(ctx context.Context, item TaskItem) {
	start := time.Now()
	r.running.Store(1)
	defer func() {
		r.running.Store(0)
		if rec := recover(); rec != nil {
			r.config.Metrics.RecordTaskPanic(r.name, rec)
			r.config.PanicHandler.HandlePanic(ctx, r.name, -1, rec, debug.Stack())
		}
		r.executed.Add(1)
		r.config.Metrics.RecordTaskDuration(r.name, item.Traits.Priority, time.Since(start))
	}()
	item.Task(ctx)
}

// =============================================================================
// Synchronization Methods
// =============================================================================

// WaitIdle blocks until all currently queued tasks have completed execution.
// This is implemented by posting a barrier task and waiting for it to execute.
//
// Returns an error if ctx is done first, if the runner is closed, or if ctx
// belongs to a task running on this runner.
func (r *SingleThreadTaskRunner) WaitIdle(ctx context.Context) error {
	if r.IsClosed() {
		return ErrRunnerClosed
	}
	if r.RunsTasksOnCurrentThread(ctx) {
		return ErrWaitOnSelf
	}

	done := make(chan struct{})
	r.PostTask(func(context.Context) {
		close(done)
	})

	select {
	case <-done:
		return nil
	case <-r.stopped:
		return ErrRunnerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the runner state.
func (r *SingleThreadTaskRunner) Stats() RunnerStats {
	return RunnerStats{
		Name:     r.name,
		Type:     "single_thread",
		Pending:  r.queue.Len(),
		Running:  int(r.running.Load()),
		Executed: r.executed.Load(),
		Rejected: r.rejected.Load(),
		Closed:   r.closed.Load(),
	}
}
