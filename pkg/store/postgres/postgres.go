// Package postgres provides the PostgreSQL execution store.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/conveyorhq/conveyor/pkg/models"
	"github.com/conveyorhq/conveyor/pkg/store"
	"github.com/conveyorhq/conveyor/pkg/store/sqlbase"
)

const uniqueViolationCode = "23505"

// Store implements the execution store on PostgreSQL.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore connects to the database and runs migrations.
func NewStore(ctx context.Context, logger *slog.Logger, databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	manager := sqlbase.NewMigrationManager(logger, db, sqlbase.DialectPostgres, migrations())
	if err := manager.RunMigrations(ctx); err != nil {
		return nil, err
	}

	return &Store{db: db, logger: logger}, nil
}

func migrations() map[int]string {
	return map[int]string{
		1: `
			CREATE TABLE IF NOT EXISTS executions (
				id TEXT PRIMARY KEY,
				workflow_name TEXT NOT NULL,
				current_state TEXT NOT NULL,
				status TEXT NOT NULL,
				data JSONB NOT NULL DEFAULT '{}',
				task_slots JSONB NOT NULL DEFAULT '{}',
				parent_id TEXT NOT NULL DEFAULT '',
				branch_index INTEGER NOT NULL DEFAULT 0,
				failure_reason TEXT NOT NULL DEFAULT '',
				failed_state TEXT NOT NULL DEFAULT '',
				version BIGINT NOT NULL DEFAULT 0,
				created_at TIMESTAMP WITH TIME ZONE NOT NULL,
				transition_at TIMESTAMP WITH TIME ZONE NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_executions_parent ON executions (parent_id);
			CREATE INDEX IF NOT EXISTS idx_executions_status ON executions (status);
		`,
	}
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error

	return errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolationCode
}

func (s *Store) Create(ctx context.Context, execution *models.Execution) error {
	data, err := json.Marshal(execution.Data)
	if err != nil {
		return store.NewExecutionError("Create", execution.ID, err)
	}

	slots, err := json.Marshal(execution.TaskSlots)
	if err != nil {
		return store.NewExecutionError("Create", execution.ID, err)
	}

	query := `
		INSERT INTO executions (
			id, workflow_name, current_state, status, data, task_slots,
			parent_id, branch_index, failure_reason, failed_state, version,
			created_at, transition_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = s.db.ExecContext(ctx, query,
		execution.ID,
		execution.WorkflowName,
		execution.CurrentState,
		string(execution.Status),
		data,
		slots,
		execution.ParentID,
		execution.BranchIndex,
		string(execution.FailureReason),
		execution.FailedState,
		execution.Version,
		execution.CreatedAt,
		execution.TransitionAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return store.NewExecutionError("Create", execution.ID, store.ErrAlreadyExists)
		}

		return store.NewExecutionError("Create", execution.ID, err)
	}

	return nil
}

const selectColumns = `
	id, workflow_name, current_state, status, data, task_slots,
	parent_id, branch_index, failure_reason, failed_state, version,
	created_at, transition_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*models.Execution, error) {
	var (
		execution models.Execution
		status    string
		reason    string
		data      []byte
		slots     []byte
	)

	err := row.Scan(
		&execution.ID,
		&execution.WorkflowName,
		&execution.CurrentState,
		&status,
		&data,
		&slots,
		&execution.ParentID,
		&execution.BranchIndex,
		&reason,
		&execution.FailedState,
		&execution.Version,
		&execution.CreatedAt,
		&execution.TransitionAt,
	)
	if err != nil {
		return nil, err
	}

	execution.Status = models.ExecutionStatus(status)
	execution.FailureReason = models.FailureReason(reason)

	if err := json.Unmarshal(data, &execution.Data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution data: %w", err)
	}

	if err := json.Unmarshal(slots, &execution.TaskSlots); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task slots: %w", err)
	}

	return &execution, nil
}

func (s *Store) Load(ctx context.Context, id string) (*models.Execution, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM executions WHERE id = $1", id)

	execution, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NewExecutionError("Load", id, store.ErrNotFound)
		}

		return nil, store.NewExecutionError("Load", id, err)
	}

	return execution, nil
}

func (s *Store) Save(ctx context.Context, execution *models.Execution, expectedVersion int64) error {
	data, err := json.Marshal(execution.Data)
	if err != nil {
		return store.NewExecutionError("Save", execution.ID, err)
	}

	slots, err := json.Marshal(execution.TaskSlots)
	if err != nil {
		return store.NewExecutionError("Save", execution.ID, err)
	}

	query := `
		UPDATE executions SET
			current_state = $1, status = $2, data = $3, task_slots = $4,
			failure_reason = $5, failed_state = $6, version = version + 1,
			transition_at = $7
		WHERE id = $8 AND version = $9
	`

	result, err := s.db.ExecContext(ctx, query,
		execution.CurrentState,
		string(execution.Status),
		data,
		slots,
		string(execution.FailureReason),
		execution.FailedState,
		execution.TransitionAt,
		execution.ID,
		expectedVersion,
	)
	if err != nil {
		return store.NewExecutionError("Save", execution.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return store.NewExecutionError("Save", execution.ID, err)
	}

	if affected == 0 {
		if _, loadErr := s.Load(ctx, execution.ID); loadErr != nil {
			return loadErr
		}

		return store.NewExecutionError("Save", execution.ID, store.ErrVersionConflict)
	}

	execution.Version = expectedVersion + 1

	return nil
}

func (s *Store) list(ctx context.Context, query string, arg any) ([]*models.Execution, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executions []*models.Execution

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, err
		}

		executions = append(executions, execution)
	}

	return executions, rows.Err()
}

func (s *Store) ListByParent(ctx context.Context, parentID string) ([]*models.Execution, error) {
	query := "SELECT " + selectColumns + " FROM executions WHERE parent_id = $1 ORDER BY branch_index ASC"

	executions, err := s.list(ctx, query, parentID)
	if err != nil {
		return nil, store.NewExecutionError("ListByParent", parentID, err)
	}

	return executions, nil
}

func (s *Store) ListByStatus(ctx context.Context, status models.ExecutionStatus) ([]*models.Execution, error) {
	query := "SELECT " + selectColumns + " FROM executions WHERE status = $1 ORDER BY created_at DESC"

	executions, err := s.list(ctx, query, string(status))
	if err != nil {
		return nil, store.NewExecutionError("ListByStatus", string(status), err)
	}

	return executions, nil
}

func (s *Store) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close(_ context.Context) error {
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			return fmt.Errorf("failed to close database connection: %w", err)
		}
	}

	return nil
}
