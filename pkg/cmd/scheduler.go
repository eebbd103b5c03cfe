package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/conveyorhq/conveyor/pkg/eventbus"
	"github.com/conveyorhq/conveyor/pkg/timer"
	redistimer "github.com/conveyorhq/conveyor/pkg/timer/redis"
)

// NewScheduler builds the wake-up scheduler for a timer URL. redis:// timers
// survive worker restarts; memory:// timers rely on the overdue sweep.
func NewScheduler(timerURL string, publisher eventbus.EventPublisher, logger *slog.Logger) (timer.Scheduler, error) {
	switch {
	case strings.HasPrefix(timerURL, "redis://"), strings.HasPrefix(timerURL, "rediss://"):
		return redistimer.NewScheduler(timerURL, publisher, logger)
	case timerURL == "memory://", timerURL == "":
		return timer.NewInProcess(publisher, logger), nil
	default:
		return nil, fmt.Errorf("unsupported timer URL %q", timerURL)
	}
}
