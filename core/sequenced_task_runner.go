package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// SequencedTaskRunner runs its tasks one at a time, in submission order, on
// whichever worker of the pool picks up its run loop. Background isolates
// use one per isolate so messages to an isolate never race each other.
type SequencedTaskRunner struct {
	name          string
	threadPool    ThreadPool
	config        *RunnerConfig
	queue         *FIFOTaskQueue
	mu            sync.Mutex
	isRunning     bool
	activeRunners int32       // atomic guard for concurrency assertion
	closed        atomic.Bool // indicates if the runner is closed

	executed atomic.Int64
	rejected atomic.Int64
}

func NewSequencedTaskRunner(name string, threadPool ThreadPool) *SequencedTaskRunner {
	return NewSequencedTaskRunnerWithConfig(name, threadPool, nil)
}

func NewSequencedTaskRunnerWithConfig(name string, threadPool ThreadPool, config *RunnerConfig) *SequencedTaskRunner {
	return &SequencedTaskRunner{
		name:       name,
		threadPool: threadPool,
		config:     config.withDefaults(),
		queue:      NewFIFOTaskQueue(),
	}
}

func (r *SequencedTaskRunner) Name() string {
	return r.name
}

// PostTask submits task (using default Traits)
func (r *SequencedTaskRunner) PostTask(task Task) {
	r.PostTaskWithTraits(task, DefaultTaskTraits())
}

// PostTaskWithTraits submits task with traits
func (r *SequencedTaskRunner) PostTaskWithTraits(task Task, traits TaskTraits) {
	if r.closed.Load() {
		r.rejected.Add(1)
		r.config.RejectedTaskHandler.HandleRejectedTask(r.name, "closed")
		r.config.Metrics.RecordTaskRejected(r.name, "closed")
		return
	}
	r.queue.Push(task, traits)
	r.config.Metrics.RecordQueueDepth(r.name, r.queue.Len())
	r.scheduleRunLoop(traits)
}

func (r *SequencedTaskRunner) PostDelayedTask(task Task, delay time.Duration) {
	r.PostDelayedTaskWithTraits(task, delay, DefaultTaskTraits())
}

func (r *SequencedTaskRunner) PostDelayedTaskWithTraits(task Task, delay time.Duration, traits TaskTraits) {
	if r.closed.Load() {
		r.rejected.Add(1)
		r.config.Metrics.RecordTaskRejected(r.name, "closed")
		return
	}
	r.threadPool.PostDelayedInternal(task, delay, traits, r)
}

// RunsTasksOnCurrentThread reports whether ctx belongs to a task of this runner.
func (r *SequencedTaskRunner) RunsTasksOnCurrentThread(ctx context.Context) bool {
	return GetCurrentTaskRunner(ctx) == TaskRunner(r)
}

func (r *SequencedTaskRunner) runLoop(ctx context.Context) {
	// Assertion: Ensure strictly one goroutine at a time
	if n := atomic.AddInt32(&r.activeRunners, 1); n > 1 {
		panic(fmt.Sprintf("SequencedTaskRunner: concurrent runLoop detected (count=%d)", n))
	}
	defer atomic.AddInt32(&r.activeRunners, -1)

	runCtx := withTaskRunner(ctx, r)

	// 1. Fetch SINGLE task
	item, ok := r.queue.Pop()
	if !ok {
		r.mu.Lock()
		// A post may have landed between Pop and Lock
		repost := !r.queue.IsEmpty() && !r.closed.Load()
		if !repost {
			r.isRunning = false
		}
		r.mu.Unlock()
		if repost {
			nextTraits, _ := r.queue.PeekTraits()
			r.threadPool.PostInternal(r.runLoop, nextTraits)
		}
		return
	}

	// 2. Execute ONE task
	r.runTask(runCtx, item)

	// 3. Repost if there are more tasks so the pool can interleave other runners
	r.mu.Lock()
	more := !r.queue.IsEmpty() && !r.closed.Load()
	if !more {
		r.isRunning = false
	}
	r.mu.Unlock()

	if more {
		nextTraits, _ := r.queue.PeekTraits()
		r.threadPool.PostInternal(r.runLoop, nextTraits)
	}
}

func (r *SequencedTaskRunner) runTask(ctx context.Context, item TaskItem) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			r.config.Metrics.RecordTaskPanic(r.name, rec)
			r.config.PanicHandler.HandlePanic(ctx, r.name, -1, rec, debug.Stack())
		}
		r.executed.Add(1)
		r.config.Metrics.RecordTaskDuration(r.name, item.Traits.Priority, time.Since(start))
	}()
	item.Task(ctx)
}

// scheduleRunLoop starts runLoop (if not already running)
func (r *SequencedTaskRunner) scheduleRunLoop(traits TaskTraits) {
	r.mu.Lock()
	if r.isRunning {
		r.mu.Unlock()
		return
	}
	r.isRunning = true
	r.mu.Unlock()
	r.threadPool.PostInternal(r.runLoop, traits)
}

// =============================================================================
// Shutdown and Lifecycle Management
// =============================================================================

// Shutdown stops accepting tasks and drops the ones still queued.
// A task that is already executing is not interrupted.
func (r *SequencedTaskRunner) Shutdown() {
	if r.closed.Swap(true) {
		return
	}
	dropped := r.queue.Clear()
	if dropped > 0 {
		r.config.Logger.Debug("dropped queued tasks on shutdown",
			F("runner", r.name), F("dropped", dropped))
	}
}

// IsClosed returns true if the runner has been shut down.
func (r *SequencedTaskRunner) IsClosed() bool {
	return r.closed.Load()
}

// WaitIdle blocks until every task posted before the call has run.
func (r *SequencedTaskRunner) WaitIdle(ctx context.Context) error {
	if r.IsClosed() {
		return ErrRunnerClosed
	}
	if r.RunsTasksOnCurrentThread(ctx) {
		return ErrWaitOnSelf
	}

	done := make(chan struct{})
	r.PostTask(func(context.Context) { close(done) })

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			// The barrier is dropped if the runner shuts down while waiting.
			if r.IsClosed() {
				return ErrRunnerClosed
			}
		}
	}
}

func (r *SequencedTaskRunner) Stats() RunnerStats {
	r.mu.Lock()
	running := 0
	if r.isRunning {
		running = 1
	}
	r.mu.Unlock()
	return RunnerStats{
		Name:     r.name,
		Type:     "sequenced",
		Pending:  r.queue.Len(),
		Running:  running,
		Executed: r.executed.Load(),
		Rejected: r.rejected.Load(),
		Closed:   r.closed.Load(),
	}
}
