package store

import (
	"errors"
	"fmt"
)

// Standard store error types that all implementations must use.
var (
	// ErrNotFound indicates no execution exists for the given id. Ticking
	// an absent execution is a caller bug and is never retried.
	ErrNotFound = errors.New("execution not found")

	// ErrAlreadyExists indicates an execution with the same id is already
	// stored. Trigger redelivery surfaces this; it is benign.
	ErrAlreadyExists = errors.New("execution already exists")

	// ErrVersionConflict indicates a save lost the optimistic-concurrency
	// race against another tick of the same execution.
	ErrVersionConflict = errors.New("execution version conflict")
)

// ExecutionError wraps store failures with the operation and execution id.
type ExecutionError struct {
	Op          string
	ExecutionID string
	Err         error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s failed for execution %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

func (e *ExecutionError) Is(target error) bool { return errors.Is(e.Err, target) }

// NewExecutionError creates a store error with context.
func NewExecutionError(op, executionID string, err error) *ExecutionError {
	return &ExecutionError{Op: op, ExecutionID: executionID, Err: err}
}

// IsNotFound checks if an error indicates a missing execution.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsVersionConflict checks if an error indicates a lost save race.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}
