// Package interpreter advances executions through their workflow graph one
// tick at a time. A tick loads the execution, walks states until the next
// suspension point (a started job, a scheduled wait, a pending parallel
// join, or a terminal state), then persists the result behind the store's
// optimistic version check. Ticks are idempotent, so at-least-once delivery
// of tick events is safe.
package interpreter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/conveyorhq/conveyor/pkg/adapter"
	"github.com/conveyorhq/conveyor/pkg/eventbus"
	"github.com/conveyorhq/conveyor/pkg/events"
	"github.com/conveyorhq/conveyor/pkg/graph"
	"github.com/conveyorhq/conveyor/pkg/models"
	"github.com/conveyorhq/conveyor/pkg/otelhelper"
	"github.com/conveyorhq/conveyor/pkg/store"
	"github.com/conveyorhq/conveyor/pkg/timer"
)

// ErrUnknownWorkflow indicates an execution references a workflow name the
// interpreter has no definition for.
var ErrUnknownWorkflow = errors.New("unknown workflow")

// Interpreter drives executions against their workflow definitions. It owns
// no state of its own; everything durable lives in the store.
type Interpreter struct {
	store     store.Store
	registry  *adapter.Registry
	scheduler timer.Scheduler
	publisher eventbus.EventPublisher
	workflows map[string]*graph.Definition
	tracer    trace.Tracer
	logger    *slog.Logger
}

func New(
	executionStore store.Store,
	registry *adapter.Registry,
	scheduler timer.Scheduler,
	publisher eventbus.EventPublisher,
	tracer trace.Tracer,
	logger *slog.Logger,
) *Interpreter {
	return &Interpreter{
		store:     executionStore,
		registry:  registry,
		scheduler: scheduler,
		publisher: publisher,
		workflows: make(map[string]*graph.Definition),
		tracer:    tracer,
		logger:    logger.With("module", "interpreter"),
	}
}

// RegisterWorkflow makes a definition available to executions by name.
func (i *Interpreter) RegisterWorkflow(def *graph.Definition) {
	i.workflows[def.Name()] = def
}

// tickOutcome is what a state handler decided the tick should do next.
type tickOutcome int

const (
	outcomeContinue tickOutcome = iota // keep walking states in this tick
	outcomeSuspend                     // save and stop; something external resumes us
	outcomeTerminal                    // execution reached a final status
)

// Tick advances one execution by one step of durable progress. A version
// conflict on save means a concurrent tick already advanced the execution;
// the losing tick drops its work and returns nil.
func (i *Interpreter) Tick(ctx context.Context, executionID string) error {
	execution, err := i.store.Load(ctx, executionID)
	if err != nil {
		if store.IsNotFound(err) {
			i.logger.Warn("Tick for unknown execution", "execution_id", executionID)

			return nil
		}

		return fmt.Errorf("failed to load execution %s: %w", executionID, err)
	}

	if execution.Terminal() {
		return nil
	}

	loadedVersion := execution.Version

	ctx, span := otelhelper.StartSpan(ctx, i.tracer, "interpreter.tick",
		attribute.String(otelhelper.ExecutionIDKey, execution.ID),
		attribute.String(otelhelper.WorkflowNameKey, execution.WorkflowName),
		attribute.String(otelhelper.StateNameKey, execution.CurrentState),
	)
	defer span.End()

	logger := i.logger.With(
		"execution_id", execution.ID,
		"workflow_name", execution.WorkflowName,
	)

	if cancelled, err := i.cancelIfOrphaned(ctx, execution, loadedVersion, logger); err != nil || cancelled {
		return err
	}

	def, ok := i.workflows[execution.WorkflowName]
	if !ok {
		otelhelper.SetError(span, ErrUnknownWorkflow)

		return fmt.Errorf("%w: %s", ErrUnknownWorkflow, execution.WorkflowName)
	}

	var delay pendingDelay

	for {
		state, ok := def.StateNamed(execution.CurrentState)
		if !ok {
			return fmt.Errorf("execution %s: state %q not in workflow %s",
				execution.ID, execution.CurrentState, execution.WorkflowName)
		}

		outcome, err := i.step(ctx, def, execution, state, &delay, logger)
		if err != nil {
			otelhelper.SetError(span, err,
				attribute.String(otelhelper.StateNameKey, state.Name))

			return err
		}

		if outcome == outcomeContinue {
			continue
		}

		if err := i.commit(ctx, execution, loadedVersion, delay, logger); err != nil {
			return err
		}

		if outcome == outcomeTerminal {
			return i.publishOutcome(ctx, execution, logger)
		}

		return nil
	}
}

// pendingDelay is a wake-up to schedule after the save succeeds. Scheduling
// before the save could wake a version of the execution that never existed.
type pendingDelay struct {
	set   bool
	after models.Duration
}

func (i *Interpreter) commit(
	ctx context.Context,
	execution *models.Execution,
	loadedVersion int64,
	delay pendingDelay,
	logger *slog.Logger,
) error {
	execution.TransitionAt = time.Now().UTC()

	if err := i.store.Save(ctx, execution, loadedVersion); err != nil {
		if store.IsVersionConflict(err) {
			logger.Debug("Dropping tick after version conflict", "version", loadedVersion)

			return nil
		}

		return fmt.Errorf("failed to save execution %s: %w", execution.ID, err)
	}

	if delay.set {
		if err := i.scheduler.ScheduleAfter(ctx, execution.ID, delay.after.Std()); err != nil {
			return fmt.Errorf("failed to schedule wake-up for %s: %w", execution.ID, err)
		}
	}

	return nil
}

// cancelIfOrphaned fails a branch execution whose parent has already failed.
// Branches observe the parent at tick boundaries rather than being torn down
// in place, so a branch mid-poll finishes its current step at most once more.
func (i *Interpreter) cancelIfOrphaned(
	ctx context.Context,
	execution *models.Execution,
	loadedVersion int64,
	logger *slog.Logger,
) (bool, error) {
	if execution.ParentID == "" {
		return false, nil
	}

	parent, err := i.store.Load(ctx, execution.ParentID)
	if err != nil {
		return false, fmt.Errorf("failed to load parent of %s: %w", execution.ID, err)
	}

	if parent.Status != models.ExecutionStatusFailed {
		return false, nil
	}

	execution.Status = models.ExecutionStatusFailed
	execution.FailureReason = models.FailureReasonCancelled

	if err := i.commit(ctx, execution, loadedVersion, pendingDelay{}, logger); err != nil {
		return true, err
	}

	logger.Info("Cancelled branch of failed parent", "parent_id", execution.ParentID)

	cancelled := events.ExecutionCancelled{
		BaseEvent:   events.NewBaseEvent(events.ExecutionCancelledEvent),
		ExecutionID: execution.ID,
	}
	if err := i.publisher.Publish(ctx, events.LifecycleTopic, execution.ID, cancelled); err != nil {
		logger.Error("Failed to publish cancellation", "error", err)
	}

	return true, nil
}

func (i *Interpreter) step(
	ctx context.Context,
	def *graph.Definition,
	execution *models.Execution,
	state *models.State,
	delay *pendingDelay,
	logger *slog.Logger,
) (tickOutcome, error) {
	logger = logger.With("state", state.Name, "state_type", state.Type)

	switch state.Type {
	case models.StateTypeTask:
		return i.stepTask(ctx, execution, state, delay, logger)
	case models.StateTypeWait:
		// Advance past the wait before sleeping, so a duplicate wake-up
		// finds the execution already on the next state.
		execution.CurrentState = state.Next
		delay.set = true
		delay.after = state.Wait.Duration

		logger.Debug("Suspending for wait", "duration", state.Wait.Duration.Std())

		return outcomeSuspend, nil
	case models.StateTypeChoice:
		return i.stepChoice(execution, state, logger)
	case models.StateTypeParallel:
		return i.stepParallel(ctx, execution, state, logger)
	case models.StateTypePass:
		return i.stepPass(execution, state, logger)
	default:
		return outcomeSuspend, fmt.Errorf("execution %s: state %q has unknown type %q",
			execution.ID, state.Name, state.Type)
	}
}

func (i *Interpreter) stepChoice(
	execution *models.Execution,
	state *models.State,
	logger *slog.Logger,
) (tickOutcome, error) {
	// Rules are evaluated strictly in declared order; the first match wins
	// even when a later rule would also match.
	for _, rule := range state.Choice.Rules {
		value, _ := execution.DataString(rule.Variable)
		if value == rule.Equals {
			execution.CurrentState = rule.Next

			return outcomeContinue, nil
		}
	}

	if state.Choice.DefaultNext != "" {
		execution.CurrentState = state.Choice.DefaultNext

		return outcomeContinue, nil
	}

	logger.Error("Choice matched no rule and has no default")
	i.fail(execution, state.Name, models.FailureReasonChoiceUnmatched)

	return outcomeTerminal, nil
}

func (i *Interpreter) stepPass(
	execution *models.Execution,
	state *models.State,
	logger *slog.Logger,
) (tickOutcome, error) {
	if !state.Pass.Terminal {
		execution.CurrentState = state.Next

		return outcomeContinue, nil
	}

	if state.Pass.Failure {
		i.fail(execution, state.Name, models.FailureReasonTerminalPass)

		return outcomeTerminal, nil
	}

	execution.Status = models.ExecutionStatusSucceeded
	logger.Info("Execution succeeded")

	return outcomeTerminal, nil
}

func (i *Interpreter) fail(execution *models.Execution, stateName string, reason models.FailureReason) {
	execution.Status = models.ExecutionStatusFailed
	execution.FailureReason = reason
	execution.FailedState = stateName
}

// publishOutcome emits the lifecycle event for a freshly terminal execution
// and, for branches, pokes the parent so its join can be re-evaluated.
// Publishing happens after the save, so a crash in between is repaired by
// redelivering the tick, which finds the execution terminal and re-emits
// nothing; the parent is instead woken by the worker's overdue sweep.
func (i *Interpreter) publishOutcome(ctx context.Context, execution *models.Execution, logger *slog.Logger) error {
	var event eventbus.Event

	switch execution.Status {
	case models.ExecutionStatusSucceeded:
		event = events.ExecutionCompleted{
			BaseEvent:   events.NewBaseEvent(events.ExecutionCompletedEvent),
			ExecutionID: execution.ID,
			Result:      execution.Data,
		}
	case models.ExecutionStatusFailed:
		event = events.ExecutionFailed{
			BaseEvent:   events.NewBaseEvent(events.ExecutionFailedEvent),
			ExecutionID: execution.ID,
			Reason:      string(execution.FailureReason),
			FailedState: execution.FailedState,
		}
	default:
		return nil
	}

	if err := i.publisher.Publish(ctx, events.LifecycleTopic, execution.ID, event); err != nil {
		logger.Error("Failed to publish lifecycle event", "error", err)
	}

	if execution.ParentID != "" {
		tick := events.TickRequested{
			BaseEvent:   events.NewBaseEvent(events.TickRequestedEvent),
			ExecutionID: execution.ParentID,
		}
		if err := i.publisher.Publish(ctx, events.TickTopic, execution.ParentID, tick); err != nil {
			return fmt.Errorf("failed to wake parent %s: %w", execution.ParentID, err)
		}
	}

	return nil
}
