package isolate

import (
	"errors"
	"fmt"
)

var (
	// ErrEntrypointNotFound means the loaded snapshot does not define the
	// requested entrypoint function.
	ErrEntrypointNotFound = errors.New("entrypoint not found")

	// ErrSnapshotLoad means the snapshot could not be read or compiled.
	ErrSnapshotLoad = errors.New("snapshot load failed")

	// ErrVMNotRunning is returned when an isolate is launched without a VM.
	ErrVMNotRunning = errors.New("vm is not running")

	// ErrIsolateShutdown is returned by operations on a shut down isolate.
	ErrIsolateShutdown = errors.New("isolate is shut down")
)

// LoadError is a failure that kept an isolate from reaching Running.
type LoadError struct {
	Isolate string
	Phase   Phase
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("isolate %s failed during %s: %v", e.Isolate, e.Phase, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// ScriptError is an exception thrown by script code.
type ScriptError struct {
	Message string `json:"message"`
	Stack   string `json:"stack"`
}

func (e *ScriptError) Error() string {
	return "script error: " + e.Message
}
