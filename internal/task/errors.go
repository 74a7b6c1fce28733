package task

import (
	"errors"
	"fmt"
)

var (
	// ErrAuth means the bearer credential is missing or was rejected
	ErrAuth = errors.New("authentication required")
	// ErrTransport covers network, HTTP and decoding failures
	ErrTransport = errors.New("transport error")
	// ErrConflict is returned locally when a job of the same kind is already running
	ErrConflict = errors.New("a task of this kind is already running")
	// ErrStalled means the job never became visible within the wait-attempt ceiling
	ErrStalled = errors.New("task stalled waiting to be scheduled")
	// ErrTaskFailed means the server reported the job as failed
	ErrTaskFailed = errors.New("task failed")
)

// TransportError describes a failed round-trip
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTransport}
	}
	return []error{ErrTransport, e.Err}
}
