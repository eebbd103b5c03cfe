// Package redis provides a durable timer backed by a Redis sorted set.
// Scheduled wake-ups survive worker restarts; the worker's cron sweep
// publishes the due ones.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/conveyorhq/conveyor/pkg/eventbus"
	"github.com/conveyorhq/conveyor/pkg/events"
)

const timersKey = "conveyor:timers"

// Scheduler stores wake-ups as sorted-set members scored by due time in
// unix milliseconds.
type Scheduler struct {
	client    *redis.Client
	publisher eventbus.EventPublisher
	logger    *slog.Logger
}

func NewScheduler(redisURL string, publisher eventbus.EventPublisher, logger *slog.Logger) (*Scheduler, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	return &Scheduler{
		client:    redis.NewClient(opts),
		publisher: publisher,
		logger:    logger.With("module", "redis_timer"),
	}, nil
}

func (s *Scheduler) ScheduleAfter(ctx context.Context, executionID string, delay time.Duration) error {
	due := time.Now().Add(delay).UnixMilli()

	err := s.client.ZAdd(ctx, timersKey, redis.Z{
		Score:  float64(due),
		Member: executionID,
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to schedule timer for %s: %w", executionID, err)
	}

	return nil
}

// SweepDue publishes ticks for every wake-up whose due time has passed and
// removes them from the set. Two workers sweeping concurrently can both
// publish the same tick; that duplicate is harmless.
func (s *Scheduler) SweepDue(ctx context.Context) (int, error) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)

	due, err := s.client.ZRangeByScore(ctx, timersKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read due timers: %w", err)
	}

	for _, executionID := range due {
		tick := events.TickRequested{
			BaseEvent:   events.NewBaseEvent(events.TickRequestedEvent),
			ExecutionID: executionID,
		}

		if err := s.publisher.Publish(ctx, events.TickTopic, executionID, tick); err != nil {
			return 0, fmt.Errorf("failed to publish due tick for %s: %w", executionID, err)
		}

		if err := s.client.ZRem(ctx, timersKey, executionID).Err(); err != nil {
			s.logger.Warn("Failed to remove published timer", "execution_id", executionID, "error", err)
		}
	}

	return len(due), nil
}

func (s *Scheduler) Close() error {
	return s.client.Close()
}
