package harness

import (
	"github.com/Swind/embedder-harness/core"
	"github.com/Swind/embedder-harness/isolate"
	"github.com/Swind/embedder-harness/platformview"
	"github.com/Swind/embedder-harness/runners"
)

// Re-export the types a harness user touches most, so simple tests only
// import this package.

// TaskRunner is the interface for posting tasks
type TaskRunner = core.TaskRunner

// TaskRunners maps the four roles to task runners
type TaskRunners = runners.TaskRunners

// ThreadMask selects which roles get dedicated threads
type ThreadMask = runners.ThreadMask

// NativeFunction is a host function callable from script
type NativeFunction = isolate.NativeFunction

// Settings configures the VM and its isolates
type Settings = isolate.Settings

// Phase is an isolate lifecycle phase
type Phase = isolate.Phase

// RunningIsolate is a launched root isolate with its group
type RunningIsolate = isolate.RunningIsolate

// PlatformView is the embedder surface a shell talks to
type PlatformView = platformview.PlatformView

// Phase constants
const (
	PhaseInitializing   Phase = isolate.PhaseInitializing
	PhaseLibrariesSetup Phase = isolate.PhaseLibrariesSetup
	PhaseReady          Phase = isolate.PhaseReady
	PhaseRunning        Phase = isolate.PhaseRunning
	PhaseShutdown       Phase = isolate.PhaseShutdown
	PhaseError          Phase = isolate.PhaseError
)

// Thread mask constants
const (
	PlatformThread ThreadMask = runners.PlatformThread
	UIThread       ThreadMask = runners.UIThread
	RasterThread   ThreadMask = runners.RasterThread
	IOThread       ThreadMask = runners.IOThread
	AllThreads     ThreadMask = runners.AllThreads
)

// GetCurrentTaskRunner retrieves the current TaskRunner from context
var GetCurrentTaskRunner = core.GetCurrentTaskRunner

// IsVMRunning reports whether the process-wide VM exists
var IsVMRunning = isolate.IsInstanceRunning
