package sandbox

import (
	"errors"
	"fmt"
)

// Sentinel errors for remote-unavailability conditions.
var (
	// ErrNotFound is returned when the remote service has no sandbox
	// with the requested name.
	ErrNotFound = errors.New("sandbox not found")
	// ErrProcessNotFound is returned when a named process does not
	// exist inside the sandbox.
	ErrProcessNotFound = errors.New("process not found")
)

// APIError represents an error response from the remote sandbox service.
type APIError struct {
	// Op is the operation that failed (e.g., "create", "fs.read").
	Op string
	// StatusCode is the HTTP status returned by the service.
	StatusCode int
	// Message is the error message from the service, if any.
	Message string
	// IsRetryable indicates whether the request may succeed if retried.
	IsRetryable bool
}

func (e *APIError) Error() string {
	return fmt.Sprintf("sandbox %s: %s (status %d)", e.Op, e.Message, e.StatusCode)
}

// Unwrap maps not-found responses onto the package sentinels so callers
// can use errors.Is without inspecting status codes.
func (e *APIError) Unwrap() error {
	if e.StatusCode == 404 {
		return ErrNotFound
	}
	return nil
}

// IsNotFound reports whether err (or anything it wraps) is a 404 from
// the sandbox service. Deletion paths use this to treat an absent
// sandbox as already deleted.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrProcessNotFound)
}

// ProcessTimeoutError is returned when a remote process did not reach a
// terminal state within the polling bound.
type ProcessTimeoutError struct {
	// Name is the remote process name.
	Name string
}

func (e *ProcessTimeoutError) Error() string {
	return fmt.Sprintf("process %q timed out waiting for terminal state", e.Name)
}

// ReadyTimeoutError is returned when a sandbox did not become ready
// within the readiness bound.
type ReadyTimeoutError struct {
	// Name is the sandbox name.
	Name string
}

func (e *ReadyTimeoutError) Error() string {
	return fmt.Sprintf("sandbox %q timed out waiting to become ready", e.Name)
}
