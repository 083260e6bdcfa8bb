package runners

import (
	"context"
	"errors"
	"fmt"

	"github.com/Swind/embedder-harness/core"
)

// ThreadMask selects which roles get their own dedicated thread.
type ThreadMask uint8

const (
	PlatformThread ThreadMask = 1 << iota
	UIThread
	RasterThread
	IOThread

	// AllThreads gives every role its own thread.
	AllThreads = PlatformThread | UIThread | RasterThread | IOThread
)

func (m ThreadMask) has(role Role) bool {
	return m&(1<<uint(role)) != 0
}

// ThreadHost owns the dedicated executors behind a TaskRunners.
// Roles outside the mask share a single thread named after the label.
type ThreadHost struct {
	label   string
	mask    ThreadMask
	runners *TaskRunners
	owned   []*core.SingleThreadTaskRunner
	logger  core.Logger
}

// NewThreadHost creates the executors. A zero mask puts all four roles on one
// thread.
func NewThreadHost(label string, mask ThreadMask, config *core.RunnerConfig) *ThreadHost {
	h := &ThreadHost{label: label, mask: mask, logger: core.NewNoOpLogger()}
	if config != nil && config.Logger != nil {
		h.logger = config.Logger
	}

	var shared *core.SingleThreadTaskRunner
	var roles [4]core.TaskRunner
	for _, role := range AllRoles() {
		if mask.has(role) {
			r := core.NewSingleThreadTaskRunnerWithConfig(fmt.Sprintf("%s.%s", label, role), config)
			h.owned = append(h.owned, r)
			roles[role] = r
			continue
		}
		if shared == nil {
			shared = core.NewSingleThreadTaskRunnerWithConfig(label, config)
			h.owned = append(h.owned, shared)
		}
		roles[role] = shared
	}

	h.runners = New(label, roles[Platform], roles[UI], roles[Raster], roles[IO])
	h.logger.Debug("thread host created",
		core.F("label", label), core.F("threads", len(h.owned)))
	return h
}

// TaskRunners returns the role mapping over the host's threads.
func (h *ThreadHost) TaskRunners() *TaskRunners { return h.runners }

// Threads returns the number of dedicated goroutines the host owns.
func (h *ThreadHost) Threads() int { return len(h.owned) }

// Shutdown drains every thread and then stops it. Threads that already shut
// down are skipped. Errors from the drain are joined; every thread is stopped
// regardless.
func (h *ThreadHost) Shutdown(ctx context.Context) error {
	var errs []error
	for _, r := range h.owned {
		if err := r.WaitIdle(ctx); err != nil && !errors.Is(err, core.ErrRunnerClosed) {
			errs = append(errs, fmt.Errorf("drain %s: %w", r.Name(), err))
		}
	}
	for _, r := range h.owned {
		r.Stop()
	}
	h.logger.Debug("thread host shut down", core.F("label", h.label))
	return errors.Join(errs...)
}

// Stats returns a snapshot for each owned thread.
func (h *ThreadHost) Stats() []core.RunnerStats {
	out := make([]core.RunnerStats, 0, len(h.owned))
	for _, r := range h.owned {
		out = append(out, r.Stats())
	}
	return out
}
