// Package sweep re-drives executions whose wake-ups were lost. In-process
// timers die with their worker and publishes can fail after a save; the
// sweep is the at-least-once backstop that turns both into extra ticks.
package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/conveyorhq/conveyor/pkg/eventbus"
	"github.com/conveyorhq/conveyor/pkg/events"
	"github.com/conveyorhq/conveyor/pkg/models"
	"github.com/conveyorhq/conveyor/pkg/store"
	"github.com/conveyorhq/conveyor/pkg/timer"
)

// DefaultStaleAfter is how long a running execution may sit untouched
// before the sweep re-ticks it. It must exceed the longest wait in any
// shipped workflow.
const DefaultStaleAfter = 2 * time.Minute

// Sweep periodically re-ticks overdue work. It is safe to run on every
// worker at once: duplicate ticks are idempotent.
type Sweep struct {
	store      store.Store
	publisher  eventbus.EventPublisher
	sweeper    timer.Sweeper
	staleAfter time.Duration
	cron       *cron.Cron
	logger     *slog.Logger
}

// New builds a sweep. sweeper may be nil when the configured scheduler has
// no durable backlog to drain.
func New(
	executionStore store.Store,
	publisher eventbus.EventPublisher,
	sweeper timer.Sweeper,
	staleAfter time.Duration,
	logger *slog.Logger,
) *Sweep {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}

	return &Sweep{
		store:      executionStore,
		publisher:  publisher,
		sweeper:    sweeper,
		staleAfter: staleAfter,
		cron:       cron.New(),
		logger:     logger.With("module", "sweep"),
	}
}

// Start schedules the sweep every 30 seconds until Stop is called.
func (s *Sweep) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc("@every 30s", func() {
		s.Run(ctx)
	})
	if err != nil {
		return err
	}

	s.cron.Start()
	s.logger.Info("Sweep started", "stale_after", s.staleAfter)

	return nil
}

// Stop halts the cron and waits for a running sweep to finish.
func (s *Sweep) Stop() {
	<-s.cron.Stop().Done()
}

// Run performs a single sweep pass.
func (s *Sweep) Run(ctx context.Context) {
	if s.sweeper != nil {
		published, err := s.sweeper.SweepDue(ctx)
		if err != nil {
			s.logger.Error("Failed to drain due timers", "error", err)
		} else if published > 0 {
			s.logger.Info("Drained due timers", "published", published)
		}
	}

	s.retickStale(ctx)
}

func (s *Sweep) retickStale(ctx context.Context) {
	running, err := s.store.ListByStatus(ctx, models.ExecutionStatusRunning)
	if err != nil {
		s.logger.Error("Failed to list running executions", "error", err)

		return
	}

	cutoff := time.Now().UTC().Add(-s.staleAfter)

	for _, execution := range running {
		last := execution.TransitionAt
		if last.IsZero() {
			last = execution.CreatedAt
		}

		if last.After(cutoff) {
			continue
		}

		tick := events.TickRequested{
			BaseEvent:   events.NewBaseEvent(events.TickRequestedEvent),
			ExecutionID: execution.ID,
		}
		if err := s.publisher.Publish(ctx, events.TickTopic, execution.ID, tick); err != nil {
			s.logger.Error("Failed to re-tick stale execution", "execution_id", execution.ID, "error", err)

			continue
		}

		s.logger.Warn("Re-ticked stale execution",
			"execution_id", execution.ID, "last_transition", last)
	}
}
