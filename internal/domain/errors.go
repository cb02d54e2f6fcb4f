package domain

import (
	"errors"
	"fmt"
)

// Category sentinels for the pipeline's error taxonomy. Callers classify
// failures with errors.Is against these.
var (
	// ErrValidation marks a malformed event record. Raised at ingestion,
	// before the event reaches the queue.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks an analytics query that matched no session or
	// events. It is a normal outcome for empty analytics, not a fault.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable marks a transient store or queue failure. The writer
	// reacts by not acknowledging, which triggers redelivery.
	ErrUnavailable = errors.New("store unavailable")
)

// StoreError wraps a failure from the session chain store with the operation
// and session it occurred in.
type StoreError struct {
	Op        string
	SessionID string
	Err       error
}

func (e *StoreError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("%s: session %s: %v", e.Op, e.SessionID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// NotFoundf builds an ErrNotFound with a formatted detail message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Unavailable wraps err as a transient store failure for operation op.
func Unavailable(op, sessionID string, err error) error {
	return &StoreError{Op: op, SessionID: sessionID, Err: fmt.Errorf("%w: %v", ErrUnavailable, err)}
}
