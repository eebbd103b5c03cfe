package sqlite

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyorhq/conveyor/pkg/models"
	"github.com/conveyorhq/conveyor/pkg/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	path := filepath.Join(t.TempDir(), "conveyor.db")

	s, err := NewStore(context.Background(), logger, "sqlite://"+path)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = s.Close(context.Background())
	})

	return s
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

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

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
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.Create(ctx, newExecution("exec-1")))

	err := s.Create(ctx, newExecution("exec-1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrAlreadyExists)
}

func TestLoad_NotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Load(context.Background(), "absent")
	require.Error(t, err)
	assert.True(t, store.IsNotFound(err))
}

func TestSave_OptimisticConcurrency(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
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
}

func TestSave_MissingExecution(t *testing.T) {
	s := newTestStore(t)

	err := s.Save(context.Background(), newExecution("ghost"), 0)
	require.Error(t, err)
	assert.True(t, store.IsNotFound(err))
}

func TestListByParent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

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
	ctx := context.Background()
	s := newTestStore(t)

	running := newExecution("exec-1")
	require.NoError(t, s.Create(ctx, running))

	failed := newExecution("exec-2")
	failed.Status = models.ExecutionStatusFailed
	failed.FailureReason = models.FailureReasonAdapterPermanent
	require.NoError(t, s.Create(ctx, failed))

	matched, err := s.ListByStatus(ctx, models.ExecutionStatusFailed)
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, "exec-2", matched[0].ID)
	assert.Equal(t, models.FailureReasonAdapterPermanent, matched[0].FailureReason)
}
