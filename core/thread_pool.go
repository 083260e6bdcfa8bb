package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"
)

// ThreadPool is the worker pool a SequencedTaskRunner schedules its run loop on.
type ThreadPool interface {
	PostInternal(task Task, traits TaskTraits)
	PostDelayedInternal(task Task, delay time.Duration, traits TaskTraits, target TaskRunner)

	ID() string
	IsRunning() bool

	WorkerCount() int
	QueuedTaskCount() int
	ActiveTaskCount() int
	DelayedTaskCount() int
}

// GoroutineThreadPool manages a group of worker goroutines that pull work
// from a shared TaskScheduler.
type GoroutineThreadPool struct {
	id        string
	workers   int
	scheduler *TaskScheduler
	config    *RunnerConfig
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	running   bool
	runningMu sync.RWMutex
}

// NewGoroutineThreadPool creates a pool with the given number of workers.
// Start must be called before posted work runs.
func NewGoroutineThreadPool(id string, workers int) *GoroutineThreadPool {
	return NewGoroutineThreadPoolWithConfig(id, workers, nil)
}

func NewGoroutineThreadPoolWithConfig(id string, workers int, config *RunnerConfig) *GoroutineThreadPool {
	cfg := config.withDefaults()
	if id == "" {
		id = fmt.Sprintf("pool-%d", workers)
	}
	s := NewFIFOTaskSchedulerWithConfig(workers, cfg)
	return &GoroutineThreadPool{
		id:        id,
		workers:   s.WorkerCount(),
		scheduler: s,
		config:    cfg,
	}
}

// Start launches the worker goroutines. Calling Start twice is a no-op.
func (tg *GoroutineThreadPool) Start(ctx context.Context) {
	tg.runningMu.Lock()
	defer tg.runningMu.Unlock()

	if tg.running {
		return
	}

	tg.ctx, tg.cancel = context.WithCancel(ctx)
	tg.running = true

	for i := 0; i < tg.workers; i++ {
		tg.wg.Add(1)
		go tg.workerLoop(i, tg.ctx)
	}
	tg.config.Logger.Debug("thread pool started", F("pool", tg.id), F("workers", tg.workers))
}

// Stop drops queued work, cancels the workers and waits for them to exit.
func (tg *GoroutineThreadPool) Stop() {
	tg.runningMu.Lock()
	if !tg.running {
		tg.runningMu.Unlock()
		return
	}
	tg.runningMu.Unlock()

	tg.scheduler.Shutdown()
	if tg.cancel != nil {
		tg.cancel()
	}
	tg.Join()

	tg.runningMu.Lock()
	tg.running = false
	tg.runningMu.Unlock()
	tg.config.Logger.Debug("thread pool stopped", F("pool", tg.id))
}

// StopGraceful lets queued and active work finish before stopping the workers.
// Remaining work is dropped once timeout elapses.
func (tg *GoroutineThreadPool) StopGraceful(timeout time.Duration) error {
	tg.runningMu.RLock()
	running := tg.running
	tg.runningMu.RUnlock()
	if !running {
		return nil
	}

	err := tg.scheduler.ShutdownGraceful(timeout)
	if tg.cancel != nil {
		tg.cancel()
	}
	tg.Join()

	tg.runningMu.Lock()
	tg.running = false
	tg.runningMu.Unlock()
	return err
}

func (tg *GoroutineThreadPool) ID() string {
	return tg.id
}

func (tg *GoroutineThreadPool) IsRunning() bool {
	tg.runningMu.RLock()
	defer tg.runningMu.RUnlock()
	return tg.running
}

func (tg *GoroutineThreadPool) PostInternal(task Task, traits TaskTraits) {
	tg.scheduler.PostInternal(task, traits)
}

func (tg *GoroutineThreadPool) PostDelayedInternal(task Task, delay time.Duration, traits TaskTraits, target TaskRunner) {
	tg.scheduler.PostDelayedInternal(task, delay, traits, target)
}

// workerLoop is the main loop of each worker
func (tg *GoroutineThreadPool) workerLoop(id int, ctx context.Context) {
	defer tg.wg.Done()
	stopCh := ctx.Done()

	for {
		task, ok := tg.scheduler.GetWork(stopCh)
		if !ok {
			return
		}

		tg.scheduler.OnTaskStart()
		func() {
			defer func() {
				tg.scheduler.OnTaskEnd()
				if r := recover(); r != nil {
					tg.config.Metrics.RecordTaskPanic(tg.id, r)
					tg.config.PanicHandler.HandlePanic(ctx, tg.id, id, r, debug.Stack())
				}
			}()
			task(ctx)
		}()
	}
}

// Join waits for every worker goroutine to exit.
func (tg *GoroutineThreadPool) Join() {
	tg.wg.Wait()
}

func (tg *GoroutineThreadPool) WorkerCount() int      { return tg.workers }
func (tg *GoroutineThreadPool) QueuedTaskCount() int  { return tg.scheduler.QueuedTaskCount() }
func (tg *GoroutineThreadPool) ActiveTaskCount() int  { return tg.scheduler.ActiveTaskCount() }
func (tg *GoroutineThreadPool) DelayedTaskCount() int { return tg.scheduler.DelayedTaskCount() }

// Stats returns a snapshot of the pool state.
func (tg *GoroutineThreadPool) Stats() PoolStats {
	return PoolStats{
		ID:      tg.id,
		Workers: tg.workers,
		Queued:  tg.QueuedTaskCount(),
		Active:  tg.ActiveTaskCount(),
		Delayed: tg.DelayedTaskCount(),
		Running: tg.IsRunning(),
	}
}
