package postgres_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	pgcontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/conveyorhq/conveyor/pkg/models"
	"github.com/conveyorhq/conveyor/pkg/store"
	"github.com/conveyorhq/conveyor/pkg/store/postgres"
)

var postgresContainer *pgcontainer.PostgresContainer

func dropTables(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	for _, table := range []string{"executions", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	require.NoError(t, db.Close())
}

func setupTestStore(t *testing.T) (*postgres.Store, context.Context, string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = pgcontainer.Run(ctx,
			"postgres:16-alpine",
			pgcontainer.WithDatabase("conveyor_test"),
			pgcontainer.WithUsername("conveyor"),
			pgcontainer.WithPassword("conveyor"),
			pgcontainer.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropTables(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	s, err := postgres.NewStore(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropTables(ctx, t, databaseURL)

		require.NoError(t, s.Close(ctx))

		cancel()
	})

	return s, ctx, databaseURL
}

func newExecution(id string) *models.Execution {
	now := time.Now().UTC().Truncate(time.Millisecond)

	return &models.Execution{
		ID:           id,
		WorkflowName: "media-pipeline",
		CurrentState: "transcribe-start",
		Status:       models.ExecutionStatusRunning,
		Data:         map[string]any{"object_key": "clip.mp4"},
		TaskSlots:    map[string]*models.TaskSlot{},
		CreatedAt:    now,
		TransitionAt: now,
	}
}

func TestNewStore_Migrations(t *testing.T) {
	_, ctx, databaseURL := setupTestStore(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		require.NoError(t, db.Close())
	}()

	var exists bool

	err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM
information_schema.tables WHERE table_name = 'executions')`).Scan(&exists)
	require.NoError(t, err)
	assert.True(t, exists, "executions table should exist")

	var version int

	err = db.QueryRowContext(ctx, "SELECT version FROM schema_migrations WHERE version = 1").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}

func TestHealthCheck(t *testing.T) {
	s, ctx, _ := setupTestStore(t)

	assert.NoError(t, s.HealthCheck(ctx))
}

func TestRoundTrip(t *testing.T) {
	s, ctx, _ := setupTestStore(t)

	execution := newExecution("exec-1")
	execution.Slot("transcribe-start").JobID = "job-1"

	require.NoError(t, s.Create(ctx, execution))

	loaded, err := s.Load(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "media-pipeline", loaded.WorkflowName)
	assert.Equal(t, "clip.mp4", loaded.Data["object_key"])
	require.Contains(t, loaded.TaskSlots, "transcribe-start")
	assert.Equal(t, "job-1", loaded.TaskSlots["transcribe-start"].JobID)
}

func TestCreate_Duplicate(t *testing.T) {
	s, ctx, _ := setupTestStore(t)

	require.NoError(t, s.Create(ctx, newExecution("exec-1")))

	err := s.Create(ctx, newExecution("exec-1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrAlreadyExists)
}

func TestLoad_NotFound(t *testing.T) {
	s, ctx, _ := setupTestStore(t)

	_, err := s.Load(ctx, "absent")
	require.Error(t, err)
	assert.True(t, store.IsNotFound(err))
}

func TestSave_OptimisticConcurrency(t *testing.T) {
	s, ctx, _ := setupTestStore(t)
	execution := newExecution("exec-1")

	require.NoError(t, s.Create(ctx, execution))

	execution.CurrentState = "transcribe-wait"
	execution.TransitionAt = time.Now().UTC()
	require.NoError(t, s.Save(ctx, execution, 0))
	assert.EqualValues(t, 1, execution.Version)

	stale := newExecution("exec-1")
	err := s.Save(ctx, stale, 0)
	require.Error(t, err)
	assert.True(t, store.IsVersionConflict(err))

	loaded, err := s.Load(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "transcribe-wait", loaded.CurrentState)
	assert.EqualValues(t, 1, loaded.Version)
}

func TestSave_MissingExecution(t *testing.T) {
	s, ctx, _ := setupTestStore(t)

	err := s.Save(ctx, newExecution("ghost"), 0)
	require.Error(t, err)
	assert.True(t, store.IsNotFound(err))
}

func TestListByParent(t *testing.T) {
	s, ctx, _ := setupTestStore(t)

	require.NoError(t, s.Create(ctx, newExecution("parent")))

	for idx := 1; idx >= 0; idx-- {
		branch := newExecution("parent#branch-" + string(rune('0'+idx)))
		branch.ParentID = "parent"
		branch.BranchIndex = idx
		require.NoError(t, s.Create(ctx, branch))
	}

	branches, err := s.ListByParent(ctx, "parent")
	require.NoError(t, err)
	require.Len(t, branches, 2)
	assert.Equal(t, 0, branches[0].BranchIndex)
	assert.Equal(t, 1, branches[1].BranchIndex)
}

func TestListByStatus(t *testing.T) {
	s, ctx, _ := setupTestStore(t)

	require.NoError(t, s.Create(ctx, newExecution("exec-1")))

	failed := newExecution("exec-2")
	failed.Status = models.ExecutionStatusFailed
	failed.FailureReason = models.FailureReasonAdapterPermanent
	failed.FailedState = "transcribe-poll"
	require.NoError(t, s.Create(ctx, failed))

	matched, err := s.ListByStatus(ctx, models.ExecutionStatusFailed)
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, "exec-2", matched[0].ID)
	assert.Equal(t, models.FailureReasonAdapterPermanent, matched[0].FailureReason)
	assert.Equal(t, "transcribe-poll", matched[0].FailedState)
}
