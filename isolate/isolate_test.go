package isolate

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Swind/embedder-harness/runners"
)

type recorder struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recorder) passMessage(args []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, strings.Join(args, " "))
	return nil
}

func (r *recorder) messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.msgs...)
}

type env struct {
	vm       *VMRef
	runners  *runners.TaskRunners
	rec      *recorder
	settings Settings
}

func newEnv(t *testing.T) *env {
	t.Helper()
	require.False(t, IsInstanceRunning(), "a VM leaked from an earlier test")

	rec := &recorder{}
	settings := Settings{
		SnapshotPath: filepath.Join("testdata", "isolate.js"),
		NativeEntries: map[string]NativeFunction{
			"PassMessage": rec.passMessage,
			"Fail":        func(args []string) error { return errors.New(strings.Join(args, " ")) },
		},
	}
	vm, err := CreateVM(settings)
	require.NoError(t, err)

	host := runners.NewThreadHost(t.Name(), 0, nil)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = host.Shutdown(ctx)
		vm.Release()
	})
	return &env{vm: vm, runners: host.TaskRunners(), rec: rec, settings: settings}
}

func (e *env) run(t *testing.T, entrypoint string, args ...string) (*RunningIsolate, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	running, err := RunInIsolateContext(ctx, e.vm, e.settings, e.runners, entrypoint, args, "")
	if running != nil {
		t.Cleanup(func() {
			sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer scancel()
			_ = running.Shutdown(sctx)
		})
	}
	return running, err
}

func waitBackground(t *testing.T, r *RunningIsolate) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, r.Group().WaitBackground(ctx))
}

func TestPhase_Transitions(t *testing.T) {
	tests := []struct {
		from, to Phase
		want     bool
	}{
		{PhaseUnknown, PhaseInitializing, true},
		{PhaseInitializing, PhaseLibrariesSetup, true},
		{PhaseReady, PhaseRunning, true},
		{PhaseRunning, PhaseShutdown, true},
		{PhaseRunning, PhaseReady, false},
		{PhaseReady, PhaseReady, false},
		{PhaseLibrariesSetup, PhaseError, true},
		{PhaseUnknown, PhaseError, true},
		{PhaseShutdown, PhaseError, false},
		{PhaseError, PhaseShutdown, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestIsolate_InvalidTransitionPanics(t *testing.T) {
	g := newGroup(nil, Settings{}.withDefaults())
	iso := newIsolate(g, true, "main", nil, false)
	iso.transition(PhaseInitializing)

	assert.Panics(t, func() { iso.transition(PhaseUnknown) })
	assert.Equal(t, PhaseInitializing, iso.Phase())
}

func TestVM_SingletonLifecycle(t *testing.T) {
	require.False(t, IsInstanceRunning())

	a, err := CreateVM(Settings{})
	require.NoError(t, err)
	b, err := CreateVM(Settings{})
	require.NoError(t, err)
	assert.Same(t, a.VM(), b.VM())

	a.Release()
	a.Release()
	assert.True(t, IsInstanceRunning(), "second reference still holds the VM")
	assert.Nil(t, a.VM(), "released VMs are not handed out again")

	b.Release()
	assert.False(t, IsInstanceRunning())
	assert.Nil(t, b.VM())
}

func TestRunInIsolate_RequiresRunningVM(t *testing.T) {
	ref, err := CreateVM(Settings{})
	require.NoError(t, err)
	ref.Release()

	host := runners.NewThreadHost(t.Name(), 0, nil)
	defer host.Shutdown(context.Background())

	_, err = RunInIsolate(ref, Settings{}, host.TaskRunners(), "main", nil, "testdata/isolate.js")
	assert.ErrorIs(t, err, ErrVMNotRunning)
}

// TestRunInIsolate_RootCallsRegistrantOnce
// Given: a snapshot with a registrant
// When: the root isolate runs an entrypoint
// Then: the registrant ran once before the entrypoint and the isolate is Running
func TestRunInIsolate_RootCallsRegistrantOnce(t *testing.T) {
	e := newEnv(t)

	running, err := e.run(t, "reportRegistrant")

	require.NoError(t, err)
	assert.Equal(t, PhaseRunning, running.Phase())
	assert.Equal(t, []string{"root called"}, e.rec.messages())
	assert.Len(t, running.Group().RegistrantTrace(), 1)
	assert.NoError(t, running.Isolate().AuditRegistrant())
}

func TestRunInIsolate_PassesArguments(t *testing.T) {
	e := newEnv(t)

	_, err := e.run(t, "echoArgs", "a", "b")

	require.NoError(t, err)
	assert.Equal(t, []string{"a b"}, e.rec.messages())
}

func TestRunInIsolate_CustomPolicySkipsRegistrant(t *testing.T) {
	e := newEnv(t)
	e.settings.RegistrantPolicy = func(isRoot, optIn bool) bool { return false }

	running, err := e.run(t, "reportRegistrant")

	require.NoError(t, err)
	assert.Equal(t, []string{"root not called"}, e.rec.messages())
	assert.Empty(t, running.Group().RegistrantTrace())
}

func TestRunInIsolate_BackgroundOptIn(t *testing.T) {
	tests := []struct {
		entrypoint string
		want       string
		traceLen   int
	}{
		{"spawnsOptIn", "background called", 2},
		{"spawnsNoOptIn", "background not called", 1},
	}
	for _, tt := range tests {
		t.Run(tt.entrypoint, func(t *testing.T) {
			e := newEnv(t)

			running, err := e.run(t, tt.entrypoint)
			require.NoError(t, err)
			waitBackground(t, running)

			assert.Equal(t, []string{tt.want}, e.rec.messages())
			members := running.Group().Isolates()
			require.Len(t, members, 2)
			assert.True(t, members[0].IsRoot())
			assert.False(t, members[1].IsRoot())
			assert.Equal(t, PhaseRunning, members[1].Phase())
			assert.Len(t, running.Group().RegistrantTrace(), tt.traceLen)
			assert.NoError(t, AuditRegistrantTrace(running.Group().RegistrantTrace()))
		})
	}
}

func TestRunInIsolate_BackgroundArguments(t *testing.T) {
	e := newEnv(t)

	running, err := e.run(t, "spawnsWithArgs")
	require.NoError(t, err)
	waitBackground(t, running)

	assert.Equal(t, []string{"x y"}, e.rec.messages())
}

func TestRunInIsolate_AuditCatchesPolicyViolation(t *testing.T) {
	e := newEnv(t)
	e.settings.RegistrantPolicy = func(isRoot, optIn bool) bool { return true }

	running, err := e.run(t, "spawnsNoOptIn")
	require.NoError(t, err)
	waitBackground(t, running)

	assert.Error(t, AuditRegistrantTrace(running.Group().RegistrantTrace()))
	assert.NoError(t, running.Isolate().AuditRegistrant())
	assert.Error(t, running.Group().Isolates()[1].AuditRegistrant())
}

// TestRunInIsolate_AuditSeesScriptRegistrantCalls
// Given: entrypoints that call the registrant from script
// When: the root calls it again or a background isolate calls it unasked
// Then: the calls land in the trace and the audit reports them
func TestRunInIsolate_AuditSeesScriptRegistrantCalls(t *testing.T) {
	t.Run("root calls twice", func(t *testing.T) {
		// Arrange
		e := newEnv(t)

		// Act
		running, err := e.run(t, "callsRegistrantAgain")

		// Assert
		require.NoError(t, err)
		assert.Equal(t, []string{"registrant called twice", "done"}, e.rec.messages())
		assert.Len(t, running.Group().RegistrantTrace(), 2)
		err = running.Isolate().AuditRegistrant()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "called twice")
	})

	t.Run("background without opt-in", func(t *testing.T) {
		// Arrange
		e := newEnv(t)

		// Act
		running, err := e.run(t, "spawnsSelfRegistering")
		require.NoError(t, err)
		waitBackground(t, running)

		// Assert
		assert.Equal(t, []string{"background self registered"}, e.rec.messages())
		trace := running.Group().RegistrantTrace()
		require.Len(t, trace, 2)
		assert.False(t, trace[1].Root)
		err = AuditRegistrantTrace(trace)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "without opt-in")
		assert.NoError(t, running.Isolate().AuditRegistrant())
	})
}

func TestAuditRegistrantTrace(t *testing.T) {
	tests := []struct {
		name    string
		events  []RegistrantEvent
		wantErr bool
	}{
		{"empty", nil, false},
		{"root once", []RegistrantEvent{{IsolateID: "a", Root: true}}, false},
		{"root twice", []RegistrantEvent{{IsolateID: "a", Root: true}, {IsolateID: "a", Root: true}}, true},
		{"background opted in", []RegistrantEvent{{IsolateID: "b", OptIn: true}}, false},
		{"background without opt-in", []RegistrantEvent{{IsolateID: "b"}}, true},
	}
	for _, tt := range tests {
		err := AuditRegistrantTrace(tt.events)
		assert.Equal(t, tt.wantErr, err != nil, tt.name)
	}
}

func TestRunInIsolate_MissingEntrypoint(t *testing.T) {
	e := newEnv(t)
	var reported []error
	e.settings.OnIsolateError = func(iso *Isolate, err error) { reported = append(reported, err) }

	running, err := e.run(t, "doesNotExist")

	require.ErrorIs(t, err, ErrEntrypointNotFound)
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, PhaseLibrariesSetup, le.Phase)
	assert.Equal(t, PhaseError, running.Phase())
	assert.Len(t, reported, 1)
	assert.Empty(t, e.rec.messages())
}

func TestRunInIsolate_SnapshotErrors(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"missing file", filepath.Join("testdata", "absent.js")},
		{"syntax error", filepath.Join("testdata", "syntax_error.js")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			e.settings.SnapshotPath = tt.path

			running, err := e.run(t, "reportRegistrant")

			require.ErrorIs(t, err, ErrSnapshotLoad)
			assert.True(t, IsSnapshotError(err))
			assert.Equal(t, PhaseError, running.Phase())
		})
	}
}

func TestLoadSnapshot_MissingNativeLibrary(t *testing.T) {
	_, err := LoadSnapshot(filepath.Join("testdata", "isolate.js"), filepath.Join("testdata", "libapp.so"))
	assert.ErrorIs(t, err, ErrSnapshotLoad)
}

func TestRunInIsolate_UnhandledExceptions(t *testing.T) {
	tests := []struct {
		entrypoint  string
		wantMessage []string
	}{
		{"throwsError", []string{"TypeError: boom"}},
		{"rejectsPromise", []string{"RangeError: later"}},
		{"callsMissingNative", []string{"ReferenceError", "NoSuchNative"}},
		{"callsFailingNative", []string{"nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.entrypoint+"/handled", func(t *testing.T) {
			e := newEnv(t)
			var got []string
			e.settings.UnhandledExceptionCallback = func(message, stack string) bool {
				got = append(got, message)
				return true
			}

			running, err := e.run(t, tt.entrypoint)

			require.NoError(t, err)
			assert.Equal(t, PhaseRunning, running.Phase())
			require.Len(t, got, 1)
			for _, want := range tt.wantMessage {
				assert.Contains(t, got[0], want)
			}
		})
		t.Run(tt.entrypoint+"/unhandled", func(t *testing.T) {
			e := newEnv(t)
			e.settings.UnhandledExceptionCallback = func(message, stack string) bool { return false }
			var reported error
			e.settings.OnIsolateError = func(iso *Isolate, err error) { reported = err }

			running, err := e.run(t, tt.entrypoint)

			var se *ScriptError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, PhaseError, running.Phase())
			assert.Equal(t, err, reported)
		})
	}
}

func TestRunInIsolate_RunsMicrotasks(t *testing.T) {
	e := newEnv(t)

	_, err := e.run(t, "awaitsThenSends")

	require.NoError(t, err)
	assert.Equal(t, []string{"after await"}, e.rec.messages())
}

// TestRunInIsolate_BackgroundErrorStaysIsolated
// Given: a root isolate spawning a background isolate that throws
// When: nothing handles the exception
// Then: only the background isolate moves to Error
func TestRunInIsolate_BackgroundErrorStaysIsolated(t *testing.T) {
	// Arrange
	e := newEnv(t)
	var mu sync.Mutex
	var failed []*Isolate
	e.settings.OnIsolateError = func(iso *Isolate, err error) {
		mu.Lock()
		failed = append(failed, iso)
		mu.Unlock()
	}

	// Act
	running, err := e.run(t, "spawnsFailing")
	require.NoError(t, err)
	waitBackground(t, running)

	// Assert
	members := running.Group().Isolates()
	require.Len(t, members, 2)
	assert.Equal(t, PhaseRunning, members[0].Phase())
	assert.Equal(t, PhaseError, members[1].Phase())
	mu.Lock()
	assert.Equal(t, []*Isolate{members[1]}, failed)
	mu.Unlock()
	assert.Equal(t, []string{"root still running"}, e.rec.messages())
}

func TestRunningIsolate_Shutdown(t *testing.T) {
	e := newEnv(t)
	running, err := e.run(t, "spawnsOptIn")
	require.NoError(t, err)
	waitBackground(t, running)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, running.Shutdown(ctx))

	for _, iso := range running.Group().Isolates() {
		assert.Equal(t, PhaseShutdown, iso.Phase())
	}
	// idempotent
	assert.NoError(t, running.Shutdown(ctx))
}

// TestRunningIsolate_ShutdownCatchesLateSpawns
// Given: a background isolate that spawns another once a gate opens
// When: the group is shut down while the gate is still closed
// Then: the isolate spawned during shutdown is shut down as well
func TestRunningIsolate_ShutdownCatchesLateSpawns(t *testing.T) {
	// Arrange
	e := newEnv(t)
	entered := make(chan struct{})
	release := make(chan struct{})
	e.settings.NativeEntries["Gate"] = func([]string) error {
		close(entered)
		<-release
		return nil
	}
	running, err := e.run(t, "spawnsGated")
	require.NoError(t, err)
	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("background isolate never reached the gate")
	}

	// Act
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- running.Shutdown(ctx) }()
	time.Sleep(50 * time.Millisecond)
	close(release)

	// Assert
	require.NoError(t, <-done)
	members := running.Group().Isolates()
	require.Len(t, members, 3)
	for _, iso := range members {
		assert.Equal(t, PhaseShutdown, iso.Phase(), "isolate %s", iso.Entrypoint())
	}
}

// TestRunInIsolate_TimeoutReturnsIsolate
// Given: a UI runner that is busy
// When: the wait for the root isolate times out
// Then: the isolate is still returned and can be shut down
func TestRunInIsolate_TimeoutReturnsIsolate(t *testing.T) {
	// Arrange
	e := newEnv(t)
	release := make(chan struct{})
	e.runners.UI().PostTask(func(context.Context) { <-release })
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	// Act
	running, err := RunInIsolateContext(ctx, e.vm, e.settings, e.runners, "reportRegistrant", nil, "")
	close(release)

	// Assert
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.NotNil(t, running)
	sctx, scancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer scancel()
	require.NoError(t, running.Shutdown(sctx))
	assert.Equal(t, PhaseShutdown, running.Phase())
}

type phaseLog struct {
	mu     sync.Mutex
	phases []Phase
}

func (p *phaseLog) OnPhaseChange(iso *Isolate, from, to Phase) {
	if !iso.IsRoot() {
		return
	}
	p.mu.Lock()
	p.phases = append(p.phases, to)
	p.mu.Unlock()
}

func TestRunInIsolate_ObserverSeesForwardPhases(t *testing.T) {
	e := newEnv(t)
	obs := &phaseLog{}
	e.settings.Observer = obs

	_, err := e.run(t, "reportRegistrant")
	require.NoError(t, err)

	obs.mu.Lock()
	defer obs.mu.Unlock()
	assert.Equal(t, []Phase{PhaseInitializing, PhaseLibrariesSetup, PhaseReady, PhaseRunning}, obs.phases)
}
