// Package runners binds the four engine roles (platform, UI, raster, IO) to
// task executors.
//
// A TaskRunners value is immutable once built. Several roles may share one
// executor; work posted to the same executor keeps its submission order no
// matter which role it was posted through.
package runners

import (
	"fmt"

	"github.com/Swind/embedder-harness/core"
)

// Role names one of the four execution lanes of the engine.
type Role int

const (
	Platform Role = iota
	UI
	Raster
	IO
)

func (r Role) String() string {
	switch r {
	case Platform:
		return "platform"
	case UI:
		return "ui"
	case Raster:
		return "raster"
	case IO:
		return "io"
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// AllRoles returns the roles in their canonical order.
func AllRoles() []Role {
	return []Role{Platform, UI, Raster, IO}
}

// TaskRunners maps each role to the executor that runs its work.
type TaskRunners struct {
	label   string
	runners [4]core.TaskRunner
}

// New builds a TaskRunners. Every executor must be non-nil; passing nil is a
// programming error and panics.
func New(label string, platform, ui, raster, io core.TaskRunner) *TaskRunners {
	t := &TaskRunners{
		label:   label,
		runners: [4]core.TaskRunner{platform, ui, raster, io},
	}
	for _, role := range AllRoles() {
		if t.runners[role] == nil {
			panic(fmt.Sprintf("runners: %s task runner for %q is nil", role, label))
		}
	}
	return t
}

// Label is the diagnostic name given at construction.
func (t *TaskRunners) Label() string { return t.label }

// Get returns the executor for role.
func (t *TaskRunners) Get(role Role) core.TaskRunner {
	if role < Platform || role > IO {
		panic(fmt.Sprintf("runners: unknown %s", role))
	}
	return t.runners[role]
}

func (t *TaskRunners) Platform() core.TaskRunner { return t.runners[Platform] }
func (t *TaskRunners) UI() core.TaskRunner       { return t.runners[UI] }
func (t *TaskRunners) Raster() core.TaskRunner   { return t.runners[Raster] }
func (t *TaskRunners) IO() core.TaskRunner       { return t.runners[IO] }

// Aliased reports whether two roles share one executor.
func (t *TaskRunners) Aliased(a, b Role) bool {
	return t.Get(a) == t.Get(b)
}

// Distinct returns each executor once, in role order of first appearance.
func (t *TaskRunners) Distinct() []core.TaskRunner {
	out := make([]core.TaskRunner, 0, len(t.runners))
	for _, r := range t.runners {
		seen := false
		for _, o := range out {
			if o == r {
				seen = true
				break
			}
		}
		if !seen {
			out = append(out, r)
		}
	}
	return out
}

// RoleOf returns the first role served by r, or false when r is not one of
// the executors. Use with core.GetCurrentTaskRunner to find the calling role.
func (t *TaskRunners) RoleOf(r core.TaskRunner) (Role, bool) {
	if r == nil {
		return 0, false
	}
	for _, role := range AllRoles() {
		if t.runners[role] == r {
			return role, true
		}
	}
	return 0, false
}

func (t *TaskRunners) String() string {
	return fmt.Sprintf("%s{platform=%s ui=%s raster=%s io=%s}", t.label,
		t.runners[Platform].Name(), t.runners[UI].Name(),
		t.runners[Raster].Name(), t.runners[IO].Name())
}
