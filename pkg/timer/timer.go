// Package timer schedules delayed interpreter re-entries. A scheduled
// wake-up is a TickRequested event published after the delay elapses; ticks
// are idempotent, so at-least-once (and duplicate) delivery is harmless.
package timer

import (
	"context"
	"log/slog"
	"time"

	"github.com/conveyorhq/conveyor/pkg/eventbus"
	"github.com/conveyorhq/conveyor/pkg/events"
)

// Scheduler defers a tick for an execution. Implementations must not
// busy-wait and must not block the caller for the delay.
type Scheduler interface {
	ScheduleAfter(ctx context.Context, executionID string, delay time.Duration) error
}

// Sweeper publishes ticks for wake-ups that came due while no worker was
// watching. Durable schedulers implement it; the worker sweeps on a cron.
type Sweeper interface {
	SweepDue(ctx context.Context) (int, error)
}

// InProcess schedules wake-ups on the local clock. Pending wake-ups do not
// survive a process restart; the worker's overdue-execution sweep covers
// that gap.
type InProcess struct {
	publisher eventbus.EventPublisher
	logger    *slog.Logger
}

func NewInProcess(publisher eventbus.EventPublisher, logger *slog.Logger) *InProcess {
	return &InProcess{
		publisher: publisher,
		logger:    logger.With("module", "timer"),
	}
}

func (t *InProcess) ScheduleAfter(ctx context.Context, executionID string, delay time.Duration) error {
	if delay <= 0 {
		return t.publish(ctx, executionID)
	}

	time.AfterFunc(delay, func() {
		// The tick context is detached from the scheduling call, which
		// has long since returned.
		if err := t.publish(context.Background(), executionID); err != nil {
			t.logger.Error("Failed to publish scheduled tick", "execution_id", executionID, "error", err)
		}
	})

	return nil
}

func (t *InProcess) publish(ctx context.Context, executionID string) error {
	tick := events.TickRequested{
		BaseEvent:   events.NewBaseEvent(events.TickRequestedEvent),
		ExecutionID: executionID,
	}

	return t.publisher.Publish(ctx, events.TickTopic, executionID, tick)
}
