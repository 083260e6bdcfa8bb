package isolate

import "fmt"

// Phase is the lifecycle state of an isolate.
type Phase int32

const (
	PhaseUnknown Phase = iota
	PhaseInitializing
	PhaseLibrariesSetup
	PhaseReady
	PhaseRunning
	PhaseShutdown
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseUnknown:
		return "unknown"
	case PhaseInitializing:
		return "initializing"
	case PhaseLibrariesSetup:
		return "libraries_setup"
	case PhaseReady:
		return "ready"
	case PhaseRunning:
		return "running"
	case PhaseShutdown:
		return "shutdown"
	case PhaseError:
		return "error"
	default:
		return fmt.Sprintf("phase(%d)", int32(p))
	}
}

// Terminal reports whether no transition leaves p.
func (p Phase) Terminal() bool {
	return p == PhaseShutdown || p == PhaseError
}

// CanTransitionTo reports whether the lifecycle allows p -> next.
// Phases only move forward; Error is reachable from any non-terminal phase.
func (p Phase) CanTransitionTo(next Phase) bool {
	if p.Terminal() {
		return false
	}
	if next == PhaseError {
		return true
	}
	return next > p && next <= PhaseShutdown
}
