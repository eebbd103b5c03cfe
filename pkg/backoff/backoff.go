// Package backoff computes retry delays for task states. Strategies are
// stateless and safe for concurrent use.
package backoff

import (
	"math"
	"time"

	"github.com/conveyorhq/conveyor/pkg/models"
)

// Strategy computes the delay before retry attempt n (1-indexed). Attempt 1
// is the first retry after the initial failure.
type Strategy interface {
	Delay(attempt int) time.Duration
}

// Constant always returns the same delay.
type Constant struct {
	Interval time.Duration
}

func (c Constant) Delay(_ int) time.Duration { return c.Interval }

// Linear returns Initial * attempt, capped at Max.
type Linear struct {
	Initial time.Duration
	Max     time.Duration
}

func (l Linear) Delay(attempt int) time.Duration {
	d := l.Initial * time.Duration(attempt)
	if l.Max > 0 && d > l.Max {
		return l.Max
	}

	return d
}

// Exponential returns Initial * 2^(attempt-1), capped at Max.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

func (e Exponential) Delay(attempt int) time.Duration {
	d := time.Duration(float64(e.Initial) * math.Pow(2, float64(attempt-1)))
	if e.Max > 0 && d > e.Max {
		return e.Max
	}

	return d
}

// FromPolicy builds the strategy configured on a retry policy. A nil policy
// yields the default policy's strategy.
func FromPolicy(policy *models.RetryPolicy) Strategy {
	if policy == nil {
		policy = models.DefaultRetryPolicy()
	}

	initial := policy.InitialInterval.Std()
	if initial <= 0 {
		initial = time.Second
	}

	maxInterval := policy.MaxInterval.Std()

	switch policy.Strategy {
	case models.BackoffConstant:
		return Constant{Interval: initial}
	case models.BackoffLinear:
		return Linear{Initial: initial, Max: maxInterval}
	default:
		return Exponential{Initial: initial, Max: maxInterval}
	}
}
