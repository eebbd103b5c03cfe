// Package sqlite provides the default single-file execution store backed by
// SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/conveyorhq/conveyor/pkg/models"
	"github.com/conveyorhq/conveyor/pkg/store"
	"github.com/conveyorhq/conveyor/pkg/store/sqlbase"
)

const (
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Store implements the execution store on a local SQLite database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewStore opens or creates the execution database and runs migrations.
func NewStore(ctx context.Context, logger *slog.Logger, databaseURL string) (*Store, error) {
	path := strings.TrimPrefix(databaseURL, "sqlite://")

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	manager := sqlbase.NewMigrationManager(logger, db, sqlbase.DialectSQLite, migrations())
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
				data TEXT NOT NULL DEFAULT '{}',
				task_slots TEXT NOT NULL DEFAULT '{}',
				parent_id TEXT NOT NULL DEFAULT '',
				branch_index INTEGER NOT NULL DEFAULT 0,
				failure_reason TEXT NOT NULL DEFAULT '',
				failed_state TEXT NOT NULL DEFAULT '',
				version INTEGER NOT NULL DEFAULT 0,
				created_at TIMESTAMP NOT NULL,
				transition_at TIMESTAMP NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_executions_parent ON executions (parent_id);
			CREATE INDEX IF NOT EXISTS idx_executions_status ON executions (status);
		`,
	}
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}

	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == 5 {
		return true
	}

	msg := err.Error()

	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff

	var lastErr error

	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil || !isBusy(lastErr) || attempt == busyRetryAttempts-1 {
			return lastErr
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}

	return lastErr
}

func marshalDocs(execution *models.Execution) (string, string, error) {
	data, err := json.Marshal(execution.Data)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal execution data: %w", err)
	}

	slots, err := json.Marshal(execution.TaskSlots)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal task slots: %w", err)
	}

	return string(data), string(slots), nil
}

func (s *Store) Create(ctx context.Context, execution *models.Execution) error {
	data, slots, err := marshalDocs(execution)
	if err != nil {
		return store.NewExecutionError("Create", execution.ID, err)
	}

	query := `
		INSERT INTO executions (
			id, workflow_name, current_state, status, data, task_slots,
			parent_id, branch_index, failure_reason, failed_state, version,
			created_at, transition_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err = retryOnBusy(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx, query,
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

		return execErr
	})
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
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
		data      string
		slots     string
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

	if err := json.Unmarshal([]byte(data), &execution.Data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution data: %w", err)
	}

	if err := json.Unmarshal([]byte(slots), &execution.TaskSlots); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task slots: %w", err)
	}

	return &execution, nil
}

func (s *Store) Load(ctx context.Context, id string) (*models.Execution, error) {
	var execution *models.Execution

	err := retryOnBusy(ctx, func() error {
		row := s.db.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM executions WHERE id = ?", id)

		var scanErr error

		execution, scanErr = scanExecution(row)

		return scanErr
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.NewExecutionError("Load", id, store.ErrNotFound)
		}

		return nil, store.NewExecutionError("Load", id, err)
	}

	return execution, nil
}

func (s *Store) Save(ctx context.Context, execution *models.Execution, expectedVersion int64) error {
	data, slots, err := marshalDocs(execution)
	if err != nil {
		return store.NewExecutionError("Save", execution.ID, err)
	}

	query := `
		UPDATE executions SET
			current_state = ?, status = ?, data = ?, task_slots = ?,
			failure_reason = ?, failed_state = ?, version = version + 1,
			transition_at = ?
		WHERE id = ? AND version = ?
	`

	var affected int64

	err = retryOnBusy(ctx, func() error {
		result, execErr := s.db.ExecContext(ctx, query,
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
		if execErr != nil {
			return execErr
		}

		affected, execErr = result.RowsAffected()

		return execErr
	})
	if err != nil {
		return store.NewExecutionError("Save", execution.ID, err)
	}

	if affected == 0 {
		// Distinguish a missing row from a lost version race.
		if _, loadErr := s.Load(ctx, execution.ID); loadErr != nil {
			return loadErr
		}

		return store.NewExecutionError("Save", execution.ID, store.ErrVersionConflict)
	}

	execution.Version = expectedVersion + 1

	return nil
}

func (s *Store) list(ctx context.Context, query string, arg any) ([]*models.Execution, error) {
	var executions []*models.Execution

	err := retryOnBusy(ctx, func() error {
		rows, queryErr := s.db.QueryContext(ctx, query, arg)
		if queryErr != nil {
			return queryErr
		}
		defer rows.Close()

		executions = executions[:0]

		for rows.Next() {
			execution, scanErr := scanExecution(rows)
			if scanErr != nil {
				return scanErr
			}

			executions = append(executions, execution)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	return executions, nil
}

func (s *Store) ListByParent(ctx context.Context, parentID string) ([]*models.Execution, error) {
	query := "SELECT " + selectColumns + " FROM executions WHERE parent_id = ? ORDER BY branch_index ASC"

	executions, err := s.list(ctx, query, parentID)
	if err != nil {
		return nil, store.NewExecutionError("ListByParent", parentID, err)
	}

	return executions, nil
}

func (s *Store) ListByStatus(ctx context.Context, status models.ExecutionStatus) ([]*models.Execution, error) {
	query := "SELECT " + selectColumns + " FROM executions WHERE status = ? ORDER BY created_at DESC"

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
	return s.db.Close()
}
