package interpreter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/conveyorhq/conveyor/pkg/events"
	"github.com/conveyorhq/conveyor/pkg/models"
	"github.com/conveyorhq/conveyor/pkg/store"
)

// Start creates a new execution of a registered workflow and requests its
// first tick. A caller-provided id makes the start idempotent: a second
// Start with the same id returns the existing execution untouched.
func (i *Interpreter) Start(
	ctx context.Context,
	workflowName string,
	executionID string,
	input map[string]any,
) (*models.Execution, error) {
	def, ok := i.workflows[workflowName]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownWorkflow, workflowName)
	}

	if executionID == "" {
		executionID = uuid.New().String()
	}

	now := time.Now().UTC()
	execution := &models.Execution{
		ID:           executionID,
		WorkflowName: workflowName,
		CurrentState: def.Start(),
		Status:       models.ExecutionStatusRunning,
		Data:         cloneData(input),
		Version:      1,
		CreatedAt:    now,
		TransitionAt: now,
	}

	if err := i.store.Create(ctx, execution); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			i.logger.Info("Execution already exists, not restarting", "execution_id", executionID)

			return i.store.Load(ctx, executionID)
		}

		return nil, fmt.Errorf("failed to create execution %s: %w", executionID, err)
	}

	i.logger.Info("Started execution",
		"execution_id", executionID, "workflow_name", workflowName)

	started := events.ExecutionStarted{
		BaseEvent:    events.NewBaseEvent(events.ExecutionStartedEvent),
		ExecutionID:  executionID,
		WorkflowName: workflowName,
	}
	if err := i.publisher.Publish(ctx, events.LifecycleTopic, executionID, started); err != nil {
		i.logger.Error("Failed to publish start event", "execution_id", executionID, "error", err)
	}

	tick := events.TickRequested{
		BaseEvent:   events.NewBaseEvent(events.TickRequestedEvent),
		ExecutionID: executionID,
	}
	if err := i.publisher.Publish(ctx, events.TickTopic, executionID, tick); err != nil {
		return nil, fmt.Errorf("failed to request first tick for %s: %w", executionID, err)
	}

	return execution, nil
}

// Cancel marks a running execution failed with the cancelled reason.
// Branches pick the cancellation up at their next tick. Cancelling an
// already terminal execution is a no-op.
func (i *Interpreter) Cancel(ctx context.Context, executionID string) error {
	execution, err := i.store.Load(ctx, executionID)
	if err != nil {
		return err
	}

	if execution.Terminal() {
		return nil
	}

	loadedVersion := execution.Version
	execution.Status = models.ExecutionStatusFailed
	execution.FailureReason = models.FailureReasonCancelled

	if err := i.store.Save(ctx, execution, loadedVersion); err != nil {
		return fmt.Errorf("failed to cancel execution %s: %w", executionID, err)
	}

	i.logger.Info("Cancelled execution", "execution_id", executionID)

	cancelled := events.ExecutionCancelled{
		BaseEvent:   events.NewBaseEvent(events.ExecutionCancelledEvent),
		ExecutionID: executionID,
	}
	if err := i.publisher.Publish(ctx, events.LifecycleTopic, executionID, cancelled); err != nil {
		i.logger.Error("Failed to publish cancellation", "execution_id", executionID, "error", err)
	}

	return nil
}
