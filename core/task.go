package core

import (
	"context"
	"time"
)

// Task is the unit of work (Closure)
type Task func(ctx context.Context)

// =============================================================================
// TaskTraits: Define task attributes (priority, blocking behavior, etc.)
// =============================================================================

type TaskPriority int

const (
	// TaskPriorityBestEffort: Lowest priority
	TaskPriorityBestEffort TaskPriority = iota

	// TaskPriorityUserVisible: Default priority
	TaskPriorityUserVisible

	// TaskPriorityUserBlocking: Highest priority.
	// Frame production on the UI and raster roles is posted at this level.
	TaskPriorityUserBlocking
)

func (p TaskPriority) String() string {
	switch p {
	case TaskPriorityBestEffort:
		return "best_effort"
	case TaskPriorityUserVisible:
		return "user_visible"
	case TaskPriorityUserBlocking:
		return "user_blocking"
	default:
		return "unknown"
	}
}

type TaskTraits struct {
	Priority TaskPriority
	MayBlock bool
	Category string
}

func DefaultTaskTraits() TaskTraits {
	return TaskTraits{Priority: TaskPriorityUserVisible}
}

func TraitsUserBlocking() TaskTraits {
	return TaskTraits{Priority: TaskPriorityUserBlocking}
}

func TraitsBestEffort() TaskTraits {
	return TaskTraits{Priority: TaskPriorityBestEffort}
}

// =============================================================================
// TaskRunner: Define task submission interface
// =============================================================================

// TaskRunner accepts tasks for one execution lane. Tasks posted to the same
// runner run in submission order; nothing is promised across runners.
type TaskRunner interface {
	PostTask(task Task)
	PostTaskWithTraits(task Task, traits TaskTraits)
	PostDelayedTask(task Task, delay time.Duration)
	PostDelayedTaskWithTraits(task Task, delay time.Duration, traits TaskTraits)

	// RunsTasksOnCurrentThread reports whether ctx belongs to a task that is
	// currently executing on this runner.
	RunsTasksOnCurrentThread(ctx context.Context) bool

	// Name returns the diagnostic label of the runner.
	Name() string
}

// IdleWaiter is implemented by runners that can block until every task
// posted before the call has run.
type IdleWaiter interface {
	WaitIdle(ctx context.Context) error
}

// =============================================================================
// Context Helper
// =============================================================================
type taskRunnerKeyType struct{}

var taskRunnerKey taskRunnerKeyType

// GetCurrentTaskRunner returns the runner executing the task that owns ctx,
// or nil outside of a task.
func GetCurrentTaskRunner(ctx context.Context) TaskRunner {
	if ctx == nil {
		return nil
	}
	if v := ctx.Value(taskRunnerKey); v != nil {
		return v.(TaskRunner)
	}
	return nil
}

func withTaskRunner(ctx context.Context, r TaskRunner) context.Context {
	return context.WithValue(ctx, taskRunnerKey, r)
}
