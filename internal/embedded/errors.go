package embedded

import (
	"errors"
	"fmt"
)

var (
	// ErrCallUnavailable means the program has not installed server.fetch.
	ErrCallUnavailable = errors.New("embedded process has no fetch function")
	// ErrExited is returned by calls on a process that has terminated.
	ErrExited = errors.New("embedded process exited")
	// ErrRestartRequested is the exit reason after server.restart().
	ErrRestartRequested = errors.New("embedded process requested restart")
	// ErrKilled is the exit reason after Close.
	ErrKilled = errors.New("embedded process killed")
)

// ProcessError is an error reported by the program itself, either through
// the error field of a fetch reply or by throwing.
type ProcessError struct {
	Message string
}

func (e *ProcessError) Error() string {
	return "embedded process error: " + e.Message
}

// ExitError is the exit reason after process.exit(code).
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("embedded process exited with code %d", e.Code)
}

// CrashError wraps an uncaught failure that terminated the process.
type CrashError struct {
	Where string
	Err   error
}

func (e *CrashError) Error() string {
	return fmt.Sprintf("embedded process crashed in %s: %v", e.Where, e.Err)
}

func (e *CrashError) Unwrap() error { return e.Err }
