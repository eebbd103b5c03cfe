package interpreter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/conveyorhq/conveyor/pkg/events"
	"github.com/conveyorhq/conveyor/pkg/models"
	"github.com/conveyorhq/conveyor/pkg/store"
)

// BranchID names the execution forked for one branch of a parallel state.
// Ids are deterministic so that a replayed fork collides with the existing
// branch instead of creating a second one.
func BranchID(parentID string, index int) string {
	return fmt.Sprintf("%s#branch-%d", parentID, index)
}

// stepParallel forks one child execution per branch, then evaluates the
// join. The parent suspends while branches run; each branch wakes the parent
// when it terminates.
func (i *Interpreter) stepParallel(
	ctx context.Context,
	execution *models.Execution,
	state *models.State,
	logger *slog.Logger,
) (tickOutcome, error) {
	for index, branch := range state.Parallel.Branches {
		if err := i.forkBranch(ctx, execution, branch, index, logger); err != nil {
			return outcomeSuspend, err
		}
	}

	children, err := i.store.ListByParent(ctx, execution.ID)
	if err != nil {
		return outcomeSuspend, fmt.Errorf("failed to list branches of %s: %w", execution.ID, err)
	}

	succeeded := 0

	for _, child := range children {
		if child.Status == models.ExecutionStatusFailed {
			logger.Warn("Branch failed", "branch_id", child.ID, "reason", child.FailureReason)
			i.fail(execution, state.Name, models.FailureReasonBranchFailed)

			return outcomeTerminal, nil
		}

		if child.Status == models.ExecutionStatusSucceeded {
			succeeded++
		}
	}

	if succeeded < len(state.Parallel.Branches) {
		logger.Debug("Waiting on branches", "succeeded", succeeded, "total", len(state.Parallel.Branches))

		return outcomeSuspend, nil
	}

	// Merge branch results back in reverse index order, so on key overlap
	// the first branch has the last word.
	for index := len(children) - 1; index >= 0; index-- {
		execution.MergeData(children[index].Data)
	}

	logger.Info("All branches succeeded", "branches", len(children))
	execution.CurrentState = state.Next

	return outcomeContinue, nil
}

func (i *Interpreter) forkBranch(
	ctx context.Context,
	execution *models.Execution,
	branch models.BranchSpec,
	index int,
	logger *slog.Logger,
) error {
	child := &models.Execution{
		ID:           BranchID(execution.ID, index),
		WorkflowName: execution.WorkflowName,
		CurrentState: branch.Start,
		Status:       models.ExecutionStatusRunning,
		Data:         cloneData(execution.Data),
		ParentID:     execution.ID,
		BranchIndex:  index,
		Version:      1,
		CreatedAt:    time.Now().UTC(),
		TransitionAt: time.Now().UTC(),
	}

	if err := i.store.Create(ctx, child); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil
		}

		return fmt.Errorf("failed to fork branch %s: %w", child.ID, err)
	}

	logger.Info("Forked branch", "branch_id", child.ID)

	tick := events.TickRequested{
		BaseEvent:   events.NewBaseEvent(events.TickRequestedEvent),
		ExecutionID: child.ID,
	}

	return i.publisher.Publish(ctx, events.TickTopic, child.ID, tick)
}

func cloneData(data map[string]any) map[string]any {
	cloned := make(map[string]any, len(data))
	for k, v := range data {
		cloned[k] = v
	}

	return cloned
}
