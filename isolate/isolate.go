package isolate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/Swind/embedder-harness/core"
)

// RegistrantEvent records one registrant invocation.
type RegistrantEvent struct {
	IsolateID string
	Root      bool
	OptIn     bool
}

// AuditRegistrantTrace checks that no isolate called the registrant twice
// and that background isolates only called it after opting in.
func AuditRegistrantTrace(events []RegistrantEvent) error {
	var errs []error
	seen := make(map[string]bool, len(events))
	for _, e := range events {
		if seen[e.IsolateID] {
			errs = append(errs, fmt.Errorf("isolate %s: registrant called twice", e.IsolateID))
		}
		seen[e.IsolateID] = true
		if !e.Root && !e.OptIn {
			errs = append(errs, fmt.Errorf("isolate %s: registrant called on background isolate without opt-in", e.IsolateID))
		}
	}
	return errors.Join(errs...)
}

// Group is a root isolate and every background isolate spawned from it.
// Members share the snapshot and settings.
type Group struct {
	id       string
	vm       *VM
	snapshot *Snapshot
	settings Settings

	mu       sync.Mutex
	isolates []*Isolate
	trace    []RegistrantEvent
}

func newGroup(vm *VM, settings Settings) *Group {
	return &Group{id: uuid.NewString(), vm: vm, settings: settings}
}

func (g *Group) ID() string { return g.id }

// Isolates returns members in creation order, root first.
func (g *Group) Isolates() []*Isolate {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*Isolate(nil), g.isolates...)
}

// RegistrantTrace returns every registrant invocation in the group.
func (g *Group) RegistrantTrace() []RegistrantEvent {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]RegistrantEvent(nil), g.trace...)
}

// WaitBackground blocks until every background isolate, including ones
// spawned while waiting, has run its entrypoint or failed.
func (g *Group) WaitBackground(ctx context.Context) error {
	waited := 0
	for {
		members := g.Isolates()
		if waited == len(members) {
			return nil
		}
		for _, iso := range members[waited:] {
			if iso.root {
				continue
			}
			if err := iso.ready.WaitContext(ctx); err != nil {
				return err
			}
		}
		waited = len(members)
	}
}

func (g *Group) add(iso *Isolate) {
	g.mu.Lock()
	g.isolates = append(g.isolates, iso)
	g.mu.Unlock()
}

func (g *Group) recordRegistrant(iso *Isolate) {
	g.mu.Lock()
	g.trace = append(g.trace, RegistrantEvent{IsolateID: iso.id, Root: iso.root, OptIn: iso.optIn})
	g.mu.Unlock()
}

// Isolate is one script heap with its own lifecycle. Everything that touches
// the heap runs on the isolate's task runner.
type Isolate struct {
	id         string
	group      *Group
	root       bool
	optIn      bool
	entrypoint string
	args       []string
	runner     core.TaskRunner
	owned      *core.SequencedTaskRunner
	logger     core.Logger

	ready *core.ManualResetWaitableEvent

	mu    sync.Mutex
	phase Phase
	err   error

	// Only touched on runner.
	script ScriptContext
}

func newIsolate(g *Group, root bool, entrypoint string, args []string, optIn bool) *Isolate {
	return &Isolate{
		id:         uuid.NewString(),
		group:      g,
		root:       root,
		optIn:      optIn,
		entrypoint: entrypoint,
		args:       args,
		logger:     g.settings.Logger,
		ready:      core.NewManualResetWaitableEvent(),
	}
}

func (iso *Isolate) ID() string                  { return iso.id }
func (iso *Isolate) Group() *Group               { return iso.group }
func (iso *Isolate) IsRoot() bool                { return iso.root }
func (iso *Isolate) Entrypoint() string          { return iso.entrypoint }
func (iso *Isolate) TaskRunner() core.TaskRunner { return iso.runner }

// Phase returns the current lifecycle phase.
func (iso *Isolate) Phase() Phase {
	iso.mu.Lock()
	defer iso.mu.Unlock()
	return iso.phase
}

// Err returns the error that moved the isolate to Error, if any.
func (iso *Isolate) Err() error {
	iso.mu.Lock()
	defer iso.mu.Unlock()
	return iso.err
}

// AuditRegistrant checks this isolate's registrant invocations.
func (iso *Isolate) AuditRegistrant() error {
	var mine []RegistrantEvent
	for _, e := range iso.group.RegistrantTrace() {
		if e.IsolateID == iso.id {
			mine = append(mine, e)
		}
	}
	return AuditRegistrantTrace(mine)
}

// transition moves the isolate to next. Invalid transitions panic.
func (iso *Isolate) transition(next Phase) {
	iso.mu.Lock()
	from := iso.phase
	if !from.CanTransitionTo(next) {
		iso.mu.Unlock()
		panic(fmt.Sprintf("isolate %s: invalid phase transition %s -> %s", iso.id, from, next))
	}
	iso.phase = next
	iso.mu.Unlock()

	iso.logger.Debug("isolate phase", core.F("isolate", iso.id), core.F("from", from), core.F("to", next))
	if obs := iso.group.settings.Observer; obs != nil {
		obs.OnPhaseChange(iso, from, next)
	}
}

// fail moves the isolate to Error and reports err once.
func (iso *Isolate) fail(err error) {
	iso.mu.Lock()
	if iso.phase.Terminal() {
		iso.mu.Unlock()
		iso.logger.Warn("isolate error after termination", core.F("isolate", iso.id), core.F("error", err))
		return
	}
	iso.err = err
	iso.mu.Unlock()

	iso.transition(PhaseError)
	iso.logger.Error("isolate failed", core.F("isolate", iso.id), core.F("root", iso.root), core.F("error", err))
	if iso.script != nil {
		iso.script.Close()
		iso.script = nil
	}
	if cb := iso.group.settings.OnIsolateError; cb != nil {
		cb(iso, err)
	}
	iso.ready.Signal()
}

func (iso *Isolate) loadError(phase Phase, err error) {
	iso.fail(&LoadError{Isolate: iso.id, Phase: phase, Err: err})
}

// handleScriptError routes a runtime error through the unhandled exception
// callback. It reports whether the isolate is still running.
func (iso *Isolate) handleScriptError(err error) bool {
	var se *ScriptError
	if errors.As(err, &se) {
		if cb := iso.group.settings.UnhandledExceptionCallback; cb != nil && cb(se.Message, se.Stack) {
			iso.logger.Info("unhandled exception handled by callback",
				core.F("isolate", iso.id), core.F("message", se.Message))
			return true
		}
	}
	iso.fail(err)
	return false
}

// launch brings a loaded isolate from Initializing to Running. It must run
// on iso.runner. An isolate shut down before its launch ran stays down.
func (iso *Isolate) launch(snapshot *Snapshot) {
	if iso.Phase().Terminal() {
		return
	}
	settings := iso.group.settings

	script, err := settings.Engine.NewContext(ContextOptions{MemoryLimitMB: settings.MemoryLimitMB})
	if err != nil {
		iso.loadError(PhaseInitializing, err)
		return
	}
	iso.script = script

	if err := iso.setupLibraries(snapshot); err != nil {
		iso.loadError(PhaseInitializing, err)
		return
	}
	iso.transition(PhaseLibrariesSetup)

	ok, err := iso.script.HasFunction(iso.entrypoint)
	if err != nil {
		iso.loadError(PhaseLibrariesSetup, err)
		return
	}
	if !ok {
		iso.loadError(PhaseLibrariesSetup, fmt.Errorf("%w: %s", ErrEntrypointNotFound, iso.entrypoint))
		return
	}
	iso.transition(PhaseReady)
	iso.transition(PhaseRunning)

	if settings.RegistrantPolicy(iso.root, iso.optIn) {
		if !iso.callRegistrant(settings.RegistrantName) {
			return
		}
	}

	if err := iso.script.Invoke(iso.entrypoint, iso.args); err != nil {
		if !iso.handleScriptError(err) {
			return
		}
	}
	iso.ready.Signal()
}

func (iso *Isolate) callRegistrant(name string) bool {
	ok, err := iso.script.HasFunction(name)
	if err != nil {
		return iso.handleScriptError(err)
	}
	if !ok {
		iso.logger.Debug("no registrant", core.F("isolate", iso.id), core.F("name", name))
		return true
	}
	if err := iso.script.Invoke(name, nil); err != nil {
		return iso.handleScriptError(err)
	}
	return true
}

const isolateAPIJS = `(function(g, isRoot) {
	var spawn = g.__isolate_spawn;
	delete g.__isolate_spawn;
	g.Isolate = {
		isRoot: isRoot,
		spawn: function(entry, opts) {
			spawn(String(entry), JSON.stringify(opts || {}));
		}
	};
})(globalThis, %t);`

// registrantHookJS wraps the registrant so every call, including ones made
// by script, is reported to the host before it runs.
const registrantHookJS = `(function(g, path) {
	var hook = g.__harness_registrant_hook;
	delete g.__harness_registrant_hook;
	var parts = path.split(".");
	var owner = g;
	for (var i = 0; i < parts.length - 1; i++) {
		owner = owner[parts[i]];
		if (owner === null || owner === undefined) return;
	}
	var key = parts[parts.length - 1];
	var fn = owner[key];
	if (typeof fn !== "function") return;
	owner[key] = function() {
		hook();
		return fn.apply(this, arguments);
	};
})(globalThis, %s);`

type spawnOptions struct {
	CallRegistrant bool     `json:"callRegistrant"`
	Args           []string `json:"args"`
}

func (iso *Isolate) setupLibraries(snapshot *Snapshot) error {
	natives := iso.group.settings.NativeEntries
	names := make([]string, 0, len(natives))
	for name := range natives {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := iso.script.RegisterNative(name, natives[name]); err != nil {
			return err
		}
	}

	if err := iso.script.RegisterNative("__isolate_spawn", iso.spawnNative); err != nil {
		return err
	}
	if err := iso.script.Eval(fmt.Sprintf(isolateAPIJS, iso.root), "harness_isolate.js"); err != nil {
		return err
	}
	if err := iso.script.Eval(snapshot.Source, snapshot.Path); err != nil {
		return err
	}

	hook := func([]string) error {
		iso.group.recordRegistrant(iso)
		return nil
	}
	if err := iso.script.RegisterNative("__harness_registrant_hook", hook); err != nil {
		return err
	}
	return iso.script.Eval(fmt.Sprintf(registrantHookJS, jsString(iso.group.settings.RegistrantName)), "harness_registrant.js")
}

func (iso *Isolate) spawnNative(args []string) error {
	if len(args) < 1 || args[0] == "" {
		return errors.New("Isolate.spawn: missing entrypoint")
	}
	var opts spawnOptions
	if len(args) > 1 {
		if err := json.Unmarshal([]byte(args[1]), &opts); err != nil {
			return fmt.Errorf("Isolate.spawn: bad options: %v", err)
		}
	}
	iso.group.spawn(args[0], opts)
	return nil
}

// spawn starts a background isolate on the VM pool.
func (g *Group) spawn(entrypoint string, opts spawnOptions) *Isolate {
	iso := newIsolate(g, false, entrypoint, opts.Args, opts.CallRegistrant)
	iso.owned = core.NewSequencedTaskRunnerWithConfig("isolate-"+iso.id[:8], g.vm.pool,
		&core.RunnerConfig{Logger: g.settings.Logger})
	iso.runner = iso.owned
	g.add(iso)
	iso.transition(PhaseInitializing)

	iso.logger.Info("spawning background isolate",
		core.F("group", g.id), core.F("isolate", iso.id),
		core.F("entrypoint", entrypoint), core.F("callRegistrant", opts.CallRegistrant))
	iso.runner.PostTask(func(ctx context.Context) {
		iso.launch(g.snapshot)
	})
	return iso
}

// shutdown moves the isolate to Shutdown and closes its context. It must
// run on iso.runner.
func (iso *Isolate) shutdown() {
	if iso.Phase().Terminal() {
		return
	}
	iso.transition(PhaseShutdown)
	if iso.script != nil {
		iso.script.Close()
		iso.script = nil
	}
	iso.ready.Signal()
}
