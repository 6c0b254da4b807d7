package instance

import (
	"fmt"
	"time"
)

// Spec describes how to launch one endpoint process.
type Spec struct {
	// Role is the instance name within its scenario (e.g. "caller").
	Role string
	// Executable is a path or a name resolved through PATH.
	Executable string
	Args       []string
	// Env is added on top of the harness environment.
	Env map[string]string
	Dir string
	// Quit is written to stdin to request a graceful exit before signalling.
	Quit string
}

// Stream identifies the pipe a line was read from.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// Line is one line of process output.
type Line struct {
	Text   string
	Stream Stream
	At     time.Time
}

// State is the lifecycle state of an instance.
type State int

const (
	StateStarting State = iota
	StateRunning
	StateStopping
	StateExited
	StateKilled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "Starting"
	case StateRunning:
		return "Running"
	case StateStopping:
		return "Stopping"
	case StateExited:
		return "Exited"
	case StateKilled:
		return "Killed"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether the process is gone.
func (s State) Terminal() bool {
	return s == StateExited || s == StateKilled || s == StateFailed
}

// ExitStatus is what Wait reports once the process is gone.
type ExitStatus struct {
	// Code is the exit code, or -1 when the process died from a signal.
	Code     int
	Signaled bool
	// Err is set when waiting failed for a reason other than a non-zero exit.
	Err error
}

func (s ExitStatus) String() string {
	switch {
	case s.Err != nil:
		return fmt.Sprintf("wait failed: %v", s.Err)
	case s.Signaled:
		return "killed by signal"
	default:
		return fmt.Sprintf("exit code %d", s.Code)
	}
}

// LaunchError is returned when a process could not be started.
type LaunchError struct {
	Role       string
	Executable string
	Err        error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch %s (%s): %v", e.Role, e.Executable, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// TeardownError is returned when a process survived the forced kill.
type TeardownError struct {
	Role string
	PID  int
	Err  error
}

func (e *TeardownError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("process %s (PID %d) did not terminate: %v", e.Role, e.PID, e.Err)
	}
	return fmt.Sprintf("process %s (PID %d) did not terminate after SIGKILL", e.Role, e.PID)
}

func (e *TeardownError) Unwrap() error { return e.Err }
