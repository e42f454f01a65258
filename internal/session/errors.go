package session

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("session not found")
	ErrAlreadyExists = errors.New("session already exists")
)

// CreationError reports that the backing executor for a session could not be
// built. The session stays listable in ERROR status for diagnostics.
type CreationError struct {
	SessionID string
	Bundle    string
	Err       error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("create session %s (bundle %s): %v", e.SessionID, e.Bundle, e.Err)
}

func (e *CreationError) Unwrap() error { return e.Err }

// ExecutionError reports a failure during prompt execution. The session
// returns to a usable state; the underlying message is preserved in the
// session metadata and in Err.
type ExecutionError struct {
	SessionID string
	Err       error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execute in session %s: %v", e.SessionID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
