package job

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownJobType is returned when a job type has no catalog entry or
	// no registered handler. It is a configuration error and never retried.
	ErrUnknownJobType = errors.New("unknown job type")

	// ErrDuplicateHandler is returned when a second handler is registered for a type.
	ErrDuplicateHandler = errors.New("duplicate handler")

	// ErrRegistryFrozen is returned by Register after the registry has been frozen.
	ErrRegistryFrozen = errors.New("handler registry is frozen")

	// ErrLeaseConflict is returned by guarded store transitions when the
	// caller no longer owns the job's lease. It is not an operator-facing error.
	ErrLeaseConflict = errors.New("lease conflict")

	// ErrPermanentFailure marks a job whose retry budget is exhausted.
	ErrPermanentFailure = errors.New("job failed permanently")

	// ErrInvalidOptions is returned by Enqueue for out-of-range overrides.
	ErrInvalidOptions = errors.New("invalid enqueue options")

	// ErrStoreUnavailable wraps failures reaching the backing store.
	ErrStoreUnavailable = errors.New("job store unavailable")
)

// HandlerError is a business failure reported by a handler.
type HandlerError struct {
	Message string
	Err     error
}

// NewHandlerError creates a HandlerError with the given message.
func NewHandlerError(msg string) *HandlerError {
	return &HandlerError{Message: msg}
}

// Error implements the error interface.
func (e *HandlerError) Error() string {
	if e.Err != nil && e.Message == "" {
		return e.Err.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying cause, if any.
func (e *HandlerError) Unwrap() error {
	return e.Err
}

// AsHandlerError returns err as a *HandlerError, wrapping it if needed.
func AsHandlerError(err error) *HandlerError {
	if err == nil {
		return nil
	}
	var he *HandlerError
	if errors.As(err, &he) {
		return he
	}
	return &HandlerError{Err: err}
}

// IsStoreUnavailable reports whether err means the store could not be reached.
func IsStoreUnavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
