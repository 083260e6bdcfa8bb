package core

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// TaskScheduler is the ready queue shared by the workers of a pool.
type TaskScheduler struct {
	queue       *FIFOTaskQueue
	signal      chan struct{}
	workerCount int

	timersMu sync.Mutex
	timers   map[*time.Timer]struct{}

	metricQueued int32 // Waiting in ReadyQueue
	metricActive int32 // Executing in Worker

	config *RunnerConfig

	// Lifecycle
	shuttingDown int32 // atomic flag
}

func NewFIFOTaskScheduler(workerCount int) *TaskScheduler {
	return NewFIFOTaskSchedulerWithConfig(workerCount, nil)
}

func NewFIFOTaskSchedulerWithConfig(workerCount int, config *RunnerConfig) *TaskScheduler {
	if workerCount < 1 {
		workerCount = 1
	}
	return &TaskScheduler{
		queue:       NewFIFOTaskQueue(),
		signal:      make(chan struct{}, workerCount*2),
		workerCount: workerCount,
		timers:      make(map[*time.Timer]struct{}),
		config:      config.withDefaults(),
	}
}

// PostInternal queues task for the next free worker.
func (s *TaskScheduler) PostInternal(task Task, traits TaskTraits) {
	if atomic.LoadInt32(&s.shuttingDown) == 1 {
		s.config.RejectedTaskHandler.HandleRejectedTask("TaskScheduler", "shutting down")
		s.config.Metrics.RecordTaskRejected("TaskScheduler", "shutting down")
		return
	}

	s.queue.Push(task, traits)
	atomic.AddInt32(&s.metricQueued, 1)

	select {
	case s.signal <- struct{}{}:
	default:
		// Signal channel full, but task is already queued
	}
}

// PostDelayedInternal hands task to target once delay has elapsed.
func (s *TaskScheduler) PostDelayedInternal(task Task, delay time.Duration, traits TaskTraits, target TaskRunner) {
	if atomic.LoadInt32(&s.shuttingDown) == 1 {
		s.config.Metrics.RecordTaskRejected("TaskScheduler", "shutting down")
		return
	}

	s.timersMu.Lock()
	defer s.timersMu.Unlock()

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		s.timersMu.Lock()
		delete(s.timers, timer)
		s.timersMu.Unlock()
		target.PostTaskWithTraits(task, traits)
	})
	s.timers[timer] = struct{}{}
}

// GetWork (Called by Worker)
func (s *TaskScheduler) GetWork(stopCh <-chan struct{}) (Task, bool) {
	for {
		if item, ok := s.queue.Pop(); ok {
			atomic.AddInt32(&s.metricQueued, -1)
			return item.Task, true
		}

		select {
		case <-s.signal:
			continue
		case <-stopCh:
			return nil, false
		}
	}
}

// Shutdown stops accepting tasks and drops everything still queued.
func (s *TaskScheduler) Shutdown() {
	atomic.StoreInt32(&s.shuttingDown, 1)
	s.stopTimers()
	dropped := s.queue.Clear()
	atomic.AddInt32(&s.metricQueued, -int32(dropped))
}

// ShutdownGraceful waits for all queued and active tasks to complete
// Returns error if timeout is exceeded before tasks complete
func (s *TaskScheduler) ShutdownGraceful(timeout time.Duration) error {
	atomic.StoreInt32(&s.shuttingDown, 1)
	s.stopTimers()

	deadline := time.After(timeout)
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if s.QueuedTaskCount() == 0 && s.ActiveTaskCount() == 0 {
			return nil
		}
		select {
		case <-deadline:
			dropped := s.queue.Clear()
			atomic.AddInt32(&s.metricQueued, -int32(dropped))
			return fmt.Errorf("shutdown graceful timeout after %v, dropped %d tasks", timeout, dropped)
		case <-ticker.C:
		}
	}
}

func (s *TaskScheduler) stopTimers() {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()
	for t := range s.timers {
		t.Stop()
	}
	clear(s.timers)
}

// Metrics
func (s *TaskScheduler) WorkerCount() int     { return s.workerCount }
func (s *TaskScheduler) QueuedTaskCount() int { return int(atomic.LoadInt32(&s.metricQueued)) }
func (s *TaskScheduler) ActiveTaskCount() int { return int(atomic.LoadInt32(&s.metricActive)) }
func (s *TaskScheduler) DelayedTaskCount() int {
	s.timersMu.Lock()
	defer s.timersMu.Unlock()
	return len(s.timers)
}

func (s *TaskScheduler) OnTaskStart() {
	atomic.AddInt32(&s.metricActive, 1)
}

func (s *TaskScheduler) OnTaskEnd() {
	atomic.AddInt32(&s.metricActive, -1)
}

// Config returns the handlers the scheduler was built with.
func (s *TaskScheduler) Config() *RunnerConfig {
	return s.config
}
