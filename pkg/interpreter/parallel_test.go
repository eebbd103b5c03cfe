package interpreter

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyorhq/conveyor/pkg/adapter"
	"github.com/conveyorhq/conveyor/pkg/graph"
	"github.com/conveyorhq/conveyor/pkg/models"
)

func fanOutStates() []*models.State {
	return []*models.State{
		{
			Name: "fan-out",
			Type: models.StateTypeParallel,
			Next: "done",
			Parallel: &models.ParallelSpec{
				Branches: []models.BranchSpec{
					{
						Start: "left-work",
						States: []*models.State{
							{
								Name: "left-work",
								Type: models.StateTypeTask,
								Next: "left-done",
								Task: &models.TaskSpec{AdapterKind: "left", Mode: models.TaskModeInvoke},
							},
							passState("left-done"),
						},
					},
					{
						Start: "right-work",
						States: []*models.State{
							{
								Name: "right-work",
								Type: models.StateTypeTask,
								Next: "right-done",
								Task: &models.TaskSpec{AdapterKind: "right", Mode: models.TaskModeInvoke},
							},
							passState("right-done"),
						},
					},
				},
			},
		},
		passState("done"),
	}
}

func buildFanOut(t *testing.T) *graph.Definition {
	t.Helper()

	def, err := graph.Build("fan-out-flow", fanOutStates(), "fan-out")
	require.NoError(t, err)

	return def
}

func TestParallel_JoinMergesBranchResults(t *testing.T) {
	h := newHarness(t)
	h.interp.RegisterWorkflow(buildFanOut(t))

	left := &scriptedInvoker{output: map[string]any{"winner": "left", "left_artifact": "l"}}
	right := &scriptedInvoker{output: map[string]any{"winner": "right", "right_artifact": "r"}}
	h.registry.RegisterInvoker("left", left)
	h.registry.RegisterInvoker("right", right)

	execution, err := h.interp.Start(context.Background(), "fan-out-flow", "exec-par-1", map[string]any{"seed": "s"})
	require.NoError(t, err)

	h.pump(t)

	final, err := h.store.Load(context.Background(), execution.ID)
	require.NoError(t, err)

	assert.Equal(t, models.ExecutionStatusSucceeded, final.Status)
	assert.Equal(t, 1, left.calls)
	assert.Equal(t, 1, right.calls)

	assert.Equal(t, "s", final.Data["seed"])
	assert.Equal(t, "l", final.Data["left_artifact"])
	assert.Equal(t, "r", final.Data["right_artifact"])
	assert.Equal(t, "left", final.Data["winner"], "on key overlap the first branch wins")
}

func TestParallel_ForkIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.interp.RegisterWorkflow(buildFanOut(t))

	h.registry.RegisterInvoker("left", &scriptedInvoker{output: map[string]any{"left_artifact": "l"}})
	h.registry.RegisterInvoker("right", &scriptedInvoker{output: map[string]any{"right_artifact": "r"}})

	execution, err := h.interp.Start(context.Background(), "fan-out-flow", "exec-par-2", nil)
	require.NoError(t, err)

	// First parent tick forks the branches; a duplicate delivery must not
	// fork a second set.
	require.NoError(t, h.interp.Tick(context.Background(), execution.ID))
	require.NoError(t, h.interp.Tick(context.Background(), execution.ID))

	children, err := h.store.ListByParent(context.Background(), execution.ID)
	require.NoError(t, err)
	require.Len(t, children, 2)
	assert.Equal(t, BranchID(execution.ID, 0), children[0].ID)
	assert.Equal(t, BranchID(execution.ID, 1), children[1].ID)
}

func TestParallel_BranchFailureFailsParentAndCancelsSibling(t *testing.T) {
	h := newHarness(t)
	h.interp.RegisterWorkflow(buildFanOut(t))

	left := &scriptedInvoker{output: map[string]any{"left_artifact": "l"}}
	right := &scriptedInvoker{err: adapter.NewPermanent("right", "invoke", errors.New("boom"))}
	h.registry.RegisterInvoker("left", left)
	h.registry.RegisterInvoker("right", right)

	execution, err := h.interp.Start(context.Background(), "fan-out-flow", "exec-par-3", nil)
	require.NoError(t, err)

	ctx := context.Background()
	rightID := BranchID(execution.ID, 1)
	leftID := BranchID(execution.ID, 0)

	// Fork, then fail the right branch before the left one ever runs.
	require.NoError(t, h.interp.Tick(ctx, execution.ID))
	require.NoError(t, h.interp.Tick(ctx, rightID))
	require.NoError(t, h.interp.Tick(ctx, execution.ID))

	parent, err := h.store.Load(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, parent.Status)
	assert.Equal(t, models.FailureReasonBranchFailed, parent.FailureReason)
	assert.Equal(t, "fan-out", parent.FailedState)

	// The surviving sibling observes the failed parent at its next tick
	// and stands down without running its work.
	require.NoError(t, h.interp.Tick(ctx, leftID))

	sibling, err := h.store.Load(ctx, leftID)
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, sibling.Status)
	assert.Equal(t, models.FailureReasonCancelled, sibling.FailureReason)
	assert.Equal(t, 0, left.calls)
}
