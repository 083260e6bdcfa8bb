package core

import (
	"context"
	"fmt"
	"os"
	"time"
)

// =============================================================================
// PanicHandler: Interface for handling task panics
// =============================================================================

// PanicHandler is called when a task panics during execution.
//
// Implementations should be thread-safe as they may be called concurrently.
type PanicHandler interface {
	// HandlePanic is called when a task panics.
	//
	// Parameters:
	// - ctx: The context from the panicked task (carries the current runner)
	// - runnerName: The name of the task runner where the panic occurred
	// - workerID: The ID of the pool worker, -1 for single-threaded runners
	// - panicInfo: The panic value recovered from the task
	// - stackTrace: The stack trace at the time of panic
	HandlePanic(ctx context.Context, runnerName string, workerID int, panicInfo any, stackTrace []byte)
}

// DefaultPanicHandler writes panic information to stderr.
type DefaultPanicHandler struct{}

// HandlePanic prints panic information to stderr.
func (h *DefaultPanicHandler) HandlePanic(ctx context.Context, runnerName string, workerID int, panicInfo any, stackTrace []byte) {
	if workerID >= 0 {
		fmt.Fprintf(os.Stderr, "[Worker %d @ %s] Panic: %v\nStack trace:\n%s",
			workerID, runnerName, panicInfo, stackTrace)
	} else {
		fmt.Fprintf(os.Stderr, "[Runner %s] Panic: %v\nStack trace:\n%s",
			runnerName, panicInfo, stackTrace)
	}
}

// =============================================================================
// Metrics: Interface for observability and monitoring
// =============================================================================

// Metrics defines the interface for collecting task execution metrics.
// Methods should be non-blocking and fast to avoid impacting task execution.
type Metrics interface {
	// RecordTaskDuration records how long a task took to execute.
	RecordTaskDuration(runnerName string, priority TaskPriority, duration time.Duration)

	// RecordTaskPanic records that a task panicked during execution.
	RecordTaskPanic(runnerName string, panicInfo any)

	// RecordQueueDepth records the current queue depth of a runner.
	RecordQueueDepth(runnerName string, depth int)

	// RecordTaskRejected records that a task was rejected (e.g., during shutdown).
	RecordTaskRejected(runnerName string, reason string)
}

// NilMetrics provides a no-op metrics implementation.
type NilMetrics struct{}

func (m *NilMetrics) RecordTaskDuration(runnerName string, priority TaskPriority, duration time.Duration) {
}
func (m *NilMetrics) RecordTaskPanic(runnerName string, panicInfo any) {}
func (m *NilMetrics) RecordQueueDepth(runnerName string, depth int)    {}
func (m *NilMetrics) RecordTaskRejected(runnerName string, reason string) {
}

// =============================================================================
// RejectedTaskHandler: Interface for handling rejected tasks
// =============================================================================

// RejectedTaskHandler is called when a task is posted to a runner or pool that
// no longer accepts work.
type RejectedTaskHandler interface {
	HandleRejectedTask(runnerName string, reason string)
}

// DefaultRejectedTaskHandler drops rejected tasks silently.
type DefaultRejectedTaskHandler struct{}

func (h *DefaultRejectedTaskHandler) HandleRejectedTask(runnerName string, reason string) {}

// =============================================================================
// RunnerConfig: Configuration shared by runners and pools
// =============================================================================

// RunnerConfig holds the optional collaborators of a runner or pool.
// Nil fields are replaced by defaults.
type RunnerConfig struct {
	// PanicHandler is called when a task panics. Defaults to DefaultPanicHandler.
	PanicHandler PanicHandler

	// Metrics is called to record task execution metrics. Defaults to NilMetrics.
	Metrics Metrics

	// RejectedTaskHandler is called when a task is rejected.
	RejectedTaskHandler RejectedTaskHandler

	// Logger receives lifecycle diagnostics. Defaults to NoOpLogger.
	Logger Logger
}

// DefaultRunnerConfig returns a config with default handlers.
func DefaultRunnerConfig() *RunnerConfig {
	return (&RunnerConfig{}).withDefaults()
}

func (c *RunnerConfig) withDefaults() *RunnerConfig {
	out := RunnerConfig{}
	if c != nil {
		out = *c
	}
	if out.PanicHandler == nil {
		out.PanicHandler = &DefaultPanicHandler{}
	}
	if out.Metrics == nil {
		out.Metrics = &NilMetrics{}
	}
	if out.RejectedTaskHandler == nil {
		out.RejectedTaskHandler = &DefaultRejectedTaskHandler{}
	}
	if out.Logger == nil {
		out.Logger = NewNoOpLogger()
	}
	return &out
}
