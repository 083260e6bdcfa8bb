package isolate

import (
	"github.com/Swind/embedder-harness/core"
)

// DefaultRegistrantName is the global the registrant is looked up under.
const DefaultRegistrantName = "_PluginRegistrant.register"

// NativeFunction is a host function callable from script. Arguments arrive
// as strings. A non-nil error is thrown into the calling script.
type NativeFunction func(args []string) error

// RegistrantPolicy decides whether an isolate invokes the plugin registrant.
// optIn is the explicit request made when a background isolate was spawned.
type RegistrantPolicy func(isRoot, optIn bool) bool

// DefaultRegistrantPolicy: the root isolate always, a background isolate
// only when it opted in.
func DefaultRegistrantPolicy(isRoot, optIn bool) bool {
	return isRoot || optIn
}

// UnhandledExceptionCallback receives script exceptions nothing caught.
// Returning true marks the exception handled and keeps the isolate running.
type UnhandledExceptionCallback func(message, stack string) bool

// Observer is told about isolate lifecycle events.
type Observer interface {
	OnPhaseChange(iso *Isolate, from, to Phase)
}

// Settings configures the VM and the isolates launched in it.
type Settings struct {
	// SnapshotPath is the script loaded into every isolate.
	SnapshotPath string

	// NativeLibraryPath, when set, must exist. It is not loaded.
	NativeLibraryPath string

	// NativeEntries are installed as globals before the snapshot runs.
	NativeEntries map[string]NativeFunction

	// RegistrantPolicy defaults to DefaultRegistrantPolicy.
	RegistrantPolicy RegistrantPolicy

	// RegistrantName is the dotted global path of the registrant function.
	// Defaults to DefaultRegistrantName.
	RegistrantName string

	UnhandledExceptionCallback UnhandledExceptionCallback

	// OnIsolateError is called once when an isolate enters the Error phase.
	OnIsolateError func(iso *Isolate, err error)

	Observer Observer

	// Engine runs script. Defaults to the engine chosen at build time.
	Engine Engine

	// MemoryLimitMB caps each script heap. Zero means no limit.
	MemoryLimitMB int

	// BackgroundWorkers sizes the VM pool that runs background isolates.
	BackgroundWorkers int

	Logger core.Logger
}

func (s Settings) withDefaults() Settings {
	if s.RegistrantPolicy == nil {
		s.RegistrantPolicy = DefaultRegistrantPolicy
	}
	if s.RegistrantName == "" {
		s.RegistrantName = DefaultRegistrantName
	}
	if s.Engine == nil {
		s.Engine = DefaultEngine()
	}
	if s.BackgroundWorkers <= 0 {
		s.BackgroundWorkers = 2
	}
	if s.Logger == nil {
		s.Logger = core.NewNoOpLogger()
	}
	return s
}
