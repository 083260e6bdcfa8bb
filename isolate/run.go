package isolate

import (
	"context"
	"errors"

	"github.com/Swind/embedder-harness/core"
	"github.com/Swind/embedder-harness/runners"
)

// RunningIsolate is a root isolate that reached Running, with its group.
type RunningIsolate struct {
	root  *Isolate
	group *Group
}

func (r *RunningIsolate) Isolate() *Isolate { return r.root }
func (r *RunningIsolate) Group() *Group     { return r.group }
func (r *RunningIsolate) Phase() Phase      { return r.root.Phase() }

// RunInIsolate launches a root isolate on the UI runner of taskRunners and
// blocks until its entrypoint has run or it failed. The snapshot is loaded on
// the IO runner. A non-empty snapshotPath overrides settings.SnapshotPath.
//
// On failure the isolate is left in the Error phase and the error is
// returned alongside the RunningIsolate, which can still be inspected and
// shut down. The same holds when the wait is cut short by the context; the
// isolate then keeps launching. Failures never affect other isolates.
func RunInIsolate(vmRef *VMRef, settings Settings, taskRunners *runners.TaskRunners,
	entrypoint string, args []string, snapshotPath string) (*RunningIsolate, error) {
	return RunInIsolateContext(context.Background(), vmRef, settings, taskRunners, entrypoint, args, snapshotPath)
}

// RunInIsolateContext is RunInIsolate with a context bounding the wait.
func RunInIsolateContext(ctx context.Context, vmRef *VMRef, settings Settings, taskRunners *runners.TaskRunners,
	entrypoint string, args []string, snapshotPath string) (*RunningIsolate, error) {
	vm := vmRef.VM()
	if vm == nil {
		return nil, ErrVMNotRunning
	}
	if taskRunners == nil {
		return nil, errors.New("isolate: nil task runners")
	}
	settings = settings.withDefaults()
	if snapshotPath == "" {
		snapshotPath = settings.SnapshotPath
	}

	group := newGroup(vm, settings)
	root := newIsolate(group, true, entrypoint, args, false)
	root.runner = taskRunners.UI()
	group.add(root)
	root.transition(PhaseInitializing)
	settings.Logger.Info("running isolate",
		core.F("group", group.id), core.F("isolate", root.id), core.F("entrypoint", entrypoint))

	core.PostTaskAndReplyWithResult(taskRunners.IO(),
		func(ctx context.Context) (*Snapshot, error) {
			return LoadSnapshot(snapshotPath, settings.NativeLibraryPath)
		},
		func(ctx context.Context, snapshot *Snapshot, err error) {
			if err != nil {
				root.loadError(PhaseInitializing, err)
				return
			}
			group.snapshot = snapshot
			root.launch(snapshot)
		},
		root.runner)

	running := &RunningIsolate{root: root, group: group}
	if err := root.ready.WaitContext(ctx); err != nil {
		return running, err
	}
	if err := root.Err(); err != nil {
		return running, err
	}
	return running, nil
}

// Shutdown moves every isolate of the group to Shutdown on its own runner,
// closes their script contexts and stops background runners. Isolates
// spawned while shutting down are shut down too. The VM must still be
// running.
func (r *RunningIsolate) Shutdown(ctx context.Context) error {
	var errs []error
	done := make(map[*Isolate]bool)
	for {
		members := r.group.Isolates()
		if len(done) == len(members) {
			return errors.Join(errs...)
		}
		// background isolates first, root last
		for i := len(members) - 1; i >= 0; i-- {
			iso := members[i]
			if done[iso] {
				continue
			}
			done[iso] = true
			if err := iso.shutdownOn(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
}

func (iso *Isolate) shutdownOn(ctx context.Context) error {
	if !iso.Phase().Terminal() {
		if err := core.PostTaskSync(ctx, iso.runner, func(context.Context) { iso.shutdown() }); err != nil {
			return err
		}
	}
	if iso.owned != nil {
		iso.owned.Shutdown()
	}
	return nil
}
