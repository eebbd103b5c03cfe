// Package graph builds and validates immutable workflow definitions.
package graph

import (
	"errors"
	"fmt"
)

// Validation failure categories. All of them are definition errors: they are
// raised once at build time and never at runtime.
var (
	ErrStartStateMissing  = errors.New("start state not declared")
	ErrDuplicateState     = errors.New("duplicate state name")
	ErrDanglingTransition = errors.New("transition targets an undeclared state")
	ErrUnmediatedCycle    = errors.New("cycle without a wait state")
	ErrChoiceExhaustible  = errors.New("choice has no rules and no default")
	ErrInvalidState       = errors.New("state spec does not match its type")
)

// DefinitionError wraps a validation failure with the workflow and state it
// was found in.
type DefinitionError struct {
	Workflow string
	State    string
	Err      error
}

func (e *DefinitionError) Error() string {
	if e.State != "" {
		return fmt.Sprintf("invalid workflow %q at state %q: %v", e.Workflow, e.State, e.Err)
	}

	return fmt.Sprintf("invalid workflow %q: %v", e.Workflow, e.Err)
}

func (e *DefinitionError) Unwrap() error { return e.Err }

func (e *DefinitionError) Is(target error) bool { return errors.Is(e.Err, target) }

func newDefinitionError(workflow, state string, err error) *DefinitionError {
	return &DefinitionError{Workflow: workflow, State: state, Err: err}
}
