package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyorhq/conveyor/pkg/models"
	"github.com/conveyorhq/conveyor/pkg/store"
)

func newExecution(id string) *models.Execution {
	now := time.Now().UTC()

	return &models.Execution{
		ID:           id,
		WorkflowName: "media-pipeline",
		CurrentState: "transcribe-start",
		Status:       models.ExecutionStatusRunning,
		Data:         map[string]any{"bucket_name": "m", "object_key": "clip.mp4"},
		CreatedAt:    now,
		TransitionAt: now,
	}
}

func TestCreateAndLoad(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	require.NoError(t, s.Create(ctx, newExecution("exec-1")))

	loaded, err := s.Load(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "media-pipeline", loaded.WorkflowName)
	assert.Equal(t, models.ExecutionStatusRunning, loaded.Status)
	assert.EqualValues(t, 0, loaded.Version)
}

func TestCreate_Duplicate(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	require.NoError(t, s.Create(ctx, newExecution("exec-1")))

	err := s.Create(ctx, newExecution("exec-1"))
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrAlreadyExists)
}

func TestLoad_NotFound(t *testing.T) {
	_, err := NewStore().Load(context.Background(), "absent")

	require.Error(t, err)
	assert.True(t, store.IsNotFound(err))
}

func TestSave_IncrementsVersion(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	execution := newExecution("exec-1")

	require.NoError(t, s.Create(ctx, execution))

	execution.CurrentState = "transcribe-wait"
	require.NoError(t, s.Save(ctx, execution, 0))
	assert.EqualValues(t, 1, execution.Version)

	loaded, err := s.Load(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "transcribe-wait", loaded.CurrentState)
	assert.EqualValues(t, 1, loaded.Version)
}

func TestSave_VersionConflict(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	execution := newExecution("exec-1")

	require.NoError(t, s.Create(ctx, execution))
	require.NoError(t, s.Save(ctx, execution, 0))

	stale := newExecution("exec-1")
	err := s.Save(ctx, stale, 0)

	require.Error(t, err)
	assert.True(t, store.IsVersionConflict(err))
}

func TestSave_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	require.NoError(t, s.Create(ctx, newExecution("exec-1")))

	first, err := s.Load(ctx, "exec-1")
	require.NoError(t, err)

	first.Data["mutated"] = true

	second, err := s.Load(ctx, "exec-1")
	require.NoError(t, err)
	assert.NotContains(t, second.Data, "mutated")
}

func TestListByParent_OrderedByBranchIndex(t *testing.T) {
	ctx := context.Background()
	s := NewStore()

	parent := newExecution("parent")
	require.NoError(t, s.Create(ctx, parent))

	for _, idx := range []int{1, 0} {
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
	s := NewStore()

	running := newExecution("exec-1")
	require.NoError(t, s.Create(ctx, running))

	done := newExecution("exec-2")
	done.Status = models.ExecutionStatusSucceeded
	require.NoError(t, s.Create(ctx, done))

	matched, err := s.ListByStatus(ctx, models.ExecutionStatusSucceeded)
	require.NoError(t, err)
	require.Len(t, matched, 1)
	assert.Equal(t, "exec-2", matched[0].ID)
}
