package interpreter

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/conveyorhq/conveyor/pkg/adapter"
	"github.com/conveyorhq/conveyor/pkg/backoff"
	"github.com/conveyorhq/conveyor/pkg/models"
	"github.com/conveyorhq/conveyor/pkg/template"
)

func (i *Interpreter) stepTask(
	ctx context.Context,
	execution *models.Execution,
	state *models.State,
	delay *pendingDelay,
	logger *slog.Logger,
) (tickOutcome, error) {
	switch state.Task.Mode {
	case models.TaskModeStart:
		return i.startJob(ctx, execution, state, delay, logger)
	case models.TaskModePoll:
		return i.pollJob(ctx, execution, state, delay, logger)
	case models.TaskModeInvoke:
		return i.invoke(ctx, execution, state, delay, logger)
	default:
		return outcomeSuspend, fmt.Errorf("execution %s: task %q has unknown mode %q",
			execution.ID, state.Name, state.Task.Mode)
	}
}

// startJob submits the external job for a task state. The recorded job id is
// the idempotency guard: once it is set, a replayed tick for this state
// advances without calling the service again.
func (i *Interpreter) startJob(
	ctx context.Context,
	execution *models.Execution,
	state *models.State,
	delay *pendingDelay,
	logger *slog.Logger,
) (tickOutcome, error) {
	spec := state.Task
	slot := execution.Slot(state.Name)

	if slot.JobID != "" {
		logger.Debug("Job already submitted, advancing", "job_id", slot.JobID)
		execution.CurrentState = state.Next

		return outcomeContinue, nil
	}

	jobAdapter, err := i.registry.Resolve(spec.AdapterKind)
	if err != nil {
		return outcomeSuspend, err
	}

	params, err := template.RenderParams(spec.Parameters, execution)
	if err != nil {
		logger.Error("Failed to render task parameters", "error", err)

		return i.failTask(execution, state, logger), nil
	}

	jobID, err := jobAdapter.Start(ctx, params)
	if err != nil {
		return i.handleAdapterError(execution, state, slot, delay, err, logger)
	}

	slot.JobID = jobID
	slot.Attempts = 0

	if spec.JobIDFrom != "" {
		execution.MergeData(map[string]any{spec.JobIDFrom: jobID})
	}

	logger.Info("Started external job", "adapter_kind", spec.AdapterKind, "job_id", jobID)
	execution.CurrentState = state.Next

	return outcomeContinue, nil
}

// pollJob queries a previously started job once and folds its output into
// the execution data. The state's successor (normally a choice on the raw
// status) decides whether to loop back through the wait or move on; only a
// canonically failed job is intercepted here, so retrying the choice can
// never resurrect a dead job.
func (i *Interpreter) pollJob(
	ctx context.Context,
	execution *models.Execution,
	state *models.State,
	delay *pendingDelay,
	logger *slog.Logger,
) (tickOutcome, error) {
	spec := state.Task
	slot := execution.Slot(state.Name)

	jobID, ok := execution.DataString(spec.JobIDFrom)
	if !ok || jobID == "" {
		logger.Error("No job id to poll", "key", spec.JobIDFrom)

		return i.failTask(execution, state, logger), nil
	}

	jobAdapter, err := i.registry.Resolve(spec.AdapterKind)
	if err != nil {
		return outcomeSuspend, err
	}

	status, output, err := jobAdapter.Poll(ctx, jobID)
	if err != nil {
		return i.handleAdapterError(execution, state, slot, delay, err, logger)
	}

	slot.Polls++
	slot.Attempts = 0
	execution.MergeData(mapResult(spec.ResultMapping, output))

	logger.Debug("Polled external job", "job_id", jobID, "status", status, "polls", slot.Polls)

	if status == models.JobStatusFailed {
		logger.Warn("External job failed", "adapter_kind", spec.AdapterKind, "job_id", jobID)

		return i.failTask(execution, state, logger), nil
	}

	execution.CurrentState = state.Next

	return outcomeContinue, nil
}

// invoke runs a synchronous step and merges its output in the same tick.
func (i *Interpreter) invoke(
	ctx context.Context,
	execution *models.Execution,
	state *models.State,
	delay *pendingDelay,
	logger *slog.Logger,
) (tickOutcome, error) {
	spec := state.Task
	slot := execution.Slot(state.Name)

	invoker, err := i.registry.ResolveInvoker(spec.AdapterKind)
	if err != nil {
		return outcomeSuspend, err
	}

	params, err := template.RenderParams(spec.Parameters, execution)
	if err != nil {
		logger.Error("Failed to render task parameters", "error", err)

		return i.failTask(execution, state, logger), nil
	}

	output, err := invoker.Invoke(ctx, params)
	if err != nil {
		return i.handleAdapterError(execution, state, slot, delay, err, logger)
	}

	slot.Attempts = 0
	execution.MergeData(mapResult(spec.ResultMapping, output))

	logger.Info("Invoked synchronous step", "adapter_kind", spec.AdapterKind)
	execution.CurrentState = state.Next

	return outcomeContinue, nil
}

// handleAdapterError routes a failed adapter call. Transient errors consume
// a retry attempt and suspend until the backoff elapses; permanent errors
// and exhausted retries take the task's failure edge.
func (i *Interpreter) handleAdapterError(
	execution *models.Execution,
	state *models.State,
	slot *models.TaskSlot,
	delay *pendingDelay,
	err error,
	logger *slog.Logger,
) (tickOutcome, error) {
	spec := state.Task

	if adapter.IsTransient(err) {
		slot.Attempts++

		policy := spec.Retry
		if policy == nil {
			policy = models.DefaultRetryPolicy()
		}

		if slot.Attempts >= policy.MaxAttempts {
			logger.Error("Retries exhausted",
				"adapter_kind", spec.AdapterKind, "attempts", slot.Attempts, "error", err)
			i.fail(execution, state.Name, models.FailureReasonRetriesExhausted)

			return outcomeTerminal, nil
		}

		retryIn := backoff.FromPolicy(policy).Delay(slot.Attempts)
		delay.set = true
		delay.after = models.Duration(retryIn)

		logger.Warn("Transient adapter error, retrying",
			"adapter_kind", spec.AdapterKind, "attempt", slot.Attempts, "retry_in", retryIn, "error", err)

		return outcomeSuspend, nil
	}

	logger.Error("Permanent adapter error", "adapter_kind", spec.AdapterKind, "error", err)

	return i.failTask(execution, state, logger), nil
}

// failTask takes the task's failure edge when one is declared, otherwise
// fails the whole execution.
func (i *Interpreter) failTask(
	execution *models.Execution,
	state *models.State,
	logger *slog.Logger,
) tickOutcome {
	if state.Task.OnFailure != "" {
		logger.Info("Taking failure edge", "on_failure", state.Task.OnFailure)
		execution.CurrentState = state.Task.OnFailure

		return outcomeContinue
	}

	i.fail(execution, state.Name, models.FailureReasonAdapterPermanent)

	return outcomeTerminal
}

// mapResult renames adapter output keys into execution data keys. An empty
// mapping passes the output through under its own keys.
func mapResult(mapping map[string]string, output map[string]any) map[string]any {
	if len(mapping) == 0 {
		return output
	}

	mapped := make(map[string]any, len(mapping))

	for outputKey, dataKey := range mapping {
		if value, ok := output[outputKey]; ok {
			mapped[dataKey] = value
		}
	}

	return mapped
}
