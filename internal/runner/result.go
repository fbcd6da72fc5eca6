package runner

import (
	"errors"
	"fmt"
	"time"
)

// ExitKilled is the exit code reported whenever the child did not exit on
// its own.
const ExitKilled = -1

var (
	// ErrNotFound means the program could not be resolved to an executable
	// file. No process was created.
	ErrNotFound = errors.New("executable not found")
	// ErrSpawnIO covers pipe creation and process start failures.
	ErrSpawnIO = errors.New("process start failed")

	ErrTimeout   = errors.New("process timed out")
	ErrCancelled = errors.New("process cancelled")
	ErrAbnormal  = errors.New("process terminated abnormally")
)

// Status says how a run ended.
type Status int

const (
	Exited Status = iota
	Signaled
	TimedOut
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Exited:
		return "exited"
	case Signaled:
		return "signaled"
	case TimedOut:
		return "timed out"
	case Cancelled:
		return "cancelled"
	}
	return fmt.Sprintf("Status(%d)", int(s))
}

// Result is everything observed about one finished run.
type Result struct {
	Stdout []byte
	Stderr []byte // empty when Command.MergeOutput was set

	ExitCode int
	Status   Status
	Signal   string // set when Status is Signaled
	Duration time.Duration
}

// ExitError reports a normal exit with a non-zero code.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// Success reports a normal exit with code zero.
func (r Result) Success() bool {
	return r.Status == Exited && r.ExitCode == 0
}

// Err converts a non-successful result into an error, or returns nil.
func (r Result) Err() error {
	switch r.Status {
	case TimedOut:
		return fmt.Errorf("%w after %s", ErrTimeout, r.Duration.Round(time.Millisecond))
	case Cancelled:
		return ErrCancelled
	case Signaled:
		return fmt.Errorf("%w: %s", ErrAbnormal, r.Signal)
	}
	if r.ExitCode != 0 {
		return &ExitError{Code: r.ExitCode}
	}
	return nil
}

// Output returns stdout as a string.
func (r Result) Output() string {
	return string(r.Stdout)
}
