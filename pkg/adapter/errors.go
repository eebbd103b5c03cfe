package adapter

import (
	"errors"
	"fmt"
)

// ErrUnknownKind indicates no adapter is registered for a requested kind.
var ErrUnknownKind = errors.New("unknown adapter kind")

// ErrJobNotFound indicates the external service has no job for the id.
var ErrJobNotFound = errors.New("job not found")

// Error wraps an adapter failure with the operation and whether a retry can
// help. Transient errors are retried per the task's retry policy; permanent
// ones follow the state's failure edge.
type Error struct {
	Kind      string
	Op        string // "start" or "poll"
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("adapter %s: %s failed: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewTransient wraps a retryable failure (timeouts, 5xx, connection resets).
func NewTransient(kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Transient: true, Err: err}
}

// NewPermanent wraps a failure that retrying cannot fix.
func NewPermanent(kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// IsTransient reports whether an error is a retryable adapter failure.
func IsTransient(err error) bool {
	var adapterErr *Error

	return errors.As(err, &adapterErr) && adapterErr.Transient
}
