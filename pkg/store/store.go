// Package store defines the durable execution store contract shared by all
// persistence backends.
package store

import (
	"context"

	"github.com/conveyorhq/conveyor/pkg/models"
)

// Store persists in-flight and terminated executions. It is the only shared
// mutable resource in the system; all mutation goes through the interpreter
// under the optimistic version check.
type Store interface {
	// Create inserts a new execution. ErrAlreadyExists signals an
	// idempotent redelivery and is not destructive.
	Create(ctx context.Context, execution *models.Execution) error

	// Load returns the execution for an id, or ErrNotFound.
	Load(ctx context.Context, id string) (*models.Execution, error)

	// Save persists an execution if its stored version still equals
	// expectedVersion, incrementing the version on success. A mismatch
	// returns ErrVersionConflict: another tick got there first.
	Save(ctx context.Context, execution *models.Execution, expectedVersion int64) error

	// ListByParent returns the branch executions forked by a parallel
	// state instance, ordered by branch index.
	ListByParent(ctx context.Context, parentID string) ([]*models.Execution, error)

	// ListByStatus returns executions with the given status, newest first.
	ListByStatus(ctx context.Context, status models.ExecutionStatus) ([]*models.Execution, error)

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}
