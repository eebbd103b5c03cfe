package models

// BackoffStrategy names the delay curve used between retry attempts.
type BackoffStrategy string

const (
	BackoffConstant    BackoffStrategy = "constant"
	BackoffLinear      BackoffStrategy = "linear"
	BackoffExponential BackoffStrategy = "exponential"
)

// RetryPolicy bounds how transient adapter errors are retried for a task
// state before the error is treated as permanent.
type RetryPolicy struct {
	MaxAttempts     int             `json:"max_attempts"     validate:"min=1"`
	InitialInterval Duration        `json:"initial_interval"`
	MaxInterval     Duration        `json:"max_interval,omitempty"`
	Strategy        BackoffStrategy `json:"strategy,omitempty"`
}

// DefaultRetryPolicy matches the poll cadence of the shipped pipelines:
// three attempts with exponential backoff starting at two seconds.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: Duration(2_000_000_000),
		Strategy:        BackoffExponential,
	}
}
