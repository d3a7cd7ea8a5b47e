package process

import "fmt"

// SentinelExitCode is what ExitResult.ExitCode reports for a child that did
// not exit within the wait budget.
const SentinelExitCode = -999

// ExitResult is the outcome of stopping a child: either it exited with a
// code, or it did not exit in time.
type ExitResult struct {
	code   int
	exited bool
}

// Exited returns a result for a child that exited with code.
func Exited(code int) ExitResult {
	return ExitResult{code: code, exited: true}
}

// NotExited returns a result for a child that outlived the wait budget.
func NotExited() ExitResult {
	return ExitResult{}
}

// Code returns the exit code and whether the child exited in time.
func (r ExitResult) Code() (int, bool) {
	return r.code, r.exited
}

// HasExited reports whether the child exited in time
func (r ExitResult) HasExited() bool {
	return r.exited
}

// ExitCode returns the exit code, or SentinelExitCode if the child did not
// exit in time.
func (r ExitResult) ExitCode() int {
	if !r.exited {
		return SentinelExitCode
	}
	return r.code
}

func (r ExitResult) String() string {
	if !r.exited {
		return "did not exit in time"
	}
	return fmt.Sprintf("exited with code %d", r.code)
}

// State is a supervisor lifecycle state.
type State int32

const (
	// StateCreated is a supervisor that has not been started.
	StateCreated State = iota
	// StateRunning is a started supervisor with live workers.
	StateRunning
	// StateStoppingGraceful is a stop that flushes a final input first.
	StateStoppingGraceful
	// StateStoppingForced is a stop that raises shutdown immediately.
	StateStoppingForced
	// StateStopped is a supervisor whose stop has completed.
	StateStopped
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateStoppingGraceful:
		return "stopping-graceful"
	case StateStoppingForced:
		return "stopping-forced"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}
