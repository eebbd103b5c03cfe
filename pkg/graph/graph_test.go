package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyorhq/conveyor/pkg/models"
)

func taskState(name, next, kind string) *models.State {
	return &models.State{
		Name: name,
		Type: models.StateTypeTask,
		Next: next,
		Task: &models.TaskSpec{AdapterKind: kind, Mode: models.TaskModeStart},
	}
}

func terminalPass(name string) *models.State {
	return &models.State{
		Name: name,
		Type: models.StateTypePass,
		Pass: &models.PassSpec{Terminal: true},
	}
}

func TestBuild_Valid(t *testing.T) {
	def, err := Build("pipeline", []*models.State{
		taskState("submit", "done", "transcribe"),
		terminalPass("done"),
	}, "submit")

	require.NoError(t, err)
	assert.Equal(t, "pipeline", def.Name())
	assert.Equal(t, "submit", def.Start())

	state, ok := def.StateNamed("submit")
	require.True(t, ok)
	assert.Equal(t, models.StateTypeTask, state.Type)
}

func TestBuild_StartStateMissing(t *testing.T) {
	_, err := Build("pipeline", []*models.State{terminalPass("done")}, "absent")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrStartStateMissing)

	var defErr *DefinitionError

	require.ErrorAs(t, err, &defErr)
	assert.Equal(t, "absent", defErr.State)
}

func TestBuild_DanglingTransition(t *testing.T) {
	_, err := Build("pipeline", []*models.State{
		taskState("submit", "nowhere", "transcribe"),
	}, "submit")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDanglingTransition)
}

func TestBuild_DanglingChoiceTarget(t *testing.T) {
	_, err := Build("pipeline", []*models.State{
		{
			Name: "decide",
			Type: models.StateTypeChoice,
			Choice: &models.ChoiceSpec{
				Rules:       []models.ChoiceRule{{Variable: "status", Equals: "COMPLETED", Next: "missing"}},
				DefaultNext: "done",
			},
		},
		terminalPass("done"),
	}, "decide")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDanglingTransition)
}

func TestBuild_ChoiceWithoutRulesOrDefault(t *testing.T) {
	_, err := Build("pipeline", []*models.State{
		{Name: "decide", Type: models.StateTypeChoice, Choice: &models.ChoiceSpec{}},
	}, "decide")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrChoiceExhaustible)
}

func TestBuild_DuplicateStateName(t *testing.T) {
	_, err := Build("pipeline", []*models.State{
		terminalPass("done"),
		terminalPass("done"),
	}, "done")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateState)
}

func TestBuild_RejectsUnmediatedCycle(t *testing.T) {
	_, err := Build("pipeline", []*models.State{
		{Name: "a", Type: models.StateTypePass, Next: "b", Pass: &models.PassSpec{}},
		{Name: "b", Type: models.StateTypePass, Next: "a", Pass: &models.PassSpec{}},
	}, "a")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnmediatedCycle)
}

func TestBuild_AcceptsWaitMediatedCycle(t *testing.T) {
	// The canonical poll loop: wait -> poll -> decide -> wait.
	def, err := Build("pipeline", []*models.State{
		{
			Name: "wait",
			Type: models.StateTypeWait,
			Next: "poll",
			Wait: &models.WaitSpec{Duration: models.Duration(10_000_000_000)},
		},
		{
			Name: "poll",
			Type: models.StateTypeTask,
			Next: "decide",
			Task: &models.TaskSpec{AdapterKind: "transcribe", Mode: models.TaskModePoll},
		},
		{
			Name: "decide",
			Type: models.StateTypeChoice,
			Choice: &models.ChoiceSpec{
				Rules: []models.ChoiceRule{
					{Variable: "status", Equals: "COMPLETED", Next: "done"},
				},
				DefaultNext: "wait",
			},
		},
		terminalPass("done"),
	}, "wait")

	require.NoError(t, err)
	assert.Len(t, def.StateNames(), 4)
}

func TestBuild_FlattensParallelBranches(t *testing.T) {
	def, err := Build("pipeline", []*models.State{
		{
			Name: "fanout",
			Type: models.StateTypeParallel,
			Next: "done",
			Parallel: &models.ParallelSpec{
				Branches: []models.BranchSpec{
					{Start: "left", States: []*models.State{terminalPass("left")}},
					{Start: "right", States: []*models.State{terminalPass("right")}},
				},
			},
		},
		terminalPass("done"),
	}, "fanout")

	require.NoError(t, err)

	_, ok := def.StateNamed("left")
	assert.True(t, ok)
	_, ok = def.StateNamed("right")
	assert.True(t, ok)
}

func TestBuild_ParallelBranchWithDanglingTarget(t *testing.T) {
	_, err := Build("pipeline", []*models.State{
		{
			Name: "fanout",
			Type: models.StateTypeParallel,
			Next: "done",
			Parallel: &models.ParallelSpec{
				Branches: []models.BranchSpec{
					{Start: "left", States: []*models.State{
						taskState("left", "missing", "ingest"),
					}},
				},
			},
		},
		terminalPass("done"),
	}, "fanout")

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDanglingTransition)
}
