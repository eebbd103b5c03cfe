// Package models defines the core domain models for durable workflow execution.
package models

import "time"

// StateType discriminates the kinds of nodes a workflow graph can contain.
type StateType string

const (
	StateTypeTask     StateType = "task"     // Delegates to an external asynchronous job
	StateTypeWait     StateType = "wait"     // Suspends the execution for a fixed delay
	StateTypeChoice   StateType = "choice"   // Branches on the execution data
	StateTypeParallel StateType = "parallel" // Forks into concurrent branch executions
	StateTypePass     StateType = "pass"     // No-op marker, optionally terminal
)

// TaskMode distinguishes the two halves of the start/poll protocol.
type TaskMode string

const (
	// TaskModeStart submits the external job and records its id.
	TaskModeStart TaskMode = "start"
	// TaskModePoll queries a previously started job for its status.
	TaskModePoll TaskMode = "poll"
	// TaskModeInvoke runs a synchronous call and merges its output in the
	// same tick. Used for the transform step between the two job kinds.
	TaskModeInvoke TaskMode = "invoke"
)

// TaskSpec configures a task state: which adapter to call, how to build its
// parameters, and how to fold the response back into the execution data.
type TaskSpec struct {
	// AdapterKind selects the registered job adapter (e.g. "transcribe").
	AdapterKind string   `json:"adapter_kind" validate:"required"`
	Mode        TaskMode `json:"mode"         validate:"required,oneof=start poll invoke"`
	// Parameters are template strings rendered against the execution data
	// before being handed to the adapter.
	Parameters map[string]string `json:"parameters,omitempty"`
	// ResultMapping renames adapter output keys into execution data keys.
	// An empty mapping merges the output under its own keys.
	ResultMapping map[string]string `json:"result_mapping,omitempty"`
	// JobIDFrom names the data key holding the job id for poll-mode tasks.
	// Start-mode tasks record their job id under this key.
	JobIDFrom string `json:"job_id_from,omitempty"`
	// OnFailure is the state to advance to when the job reports a permanent
	// failure. Empty means the whole execution fails.
	OnFailure string       `json:"on_failure,omitempty"`
	Retry     *RetryPolicy `json:"retry,omitempty"`
}

// WaitSpec configures a wait state.
type WaitSpec struct {
	Duration Duration `json:"duration" validate:"required"`
}

// ChoiceRule matches a single data key against an expected string value.
// Rules are evaluated strictly in declared order; the first match wins.
type ChoiceRule struct {
	Variable string `json:"variable" validate:"required"`
	Equals   string `json:"equals"`
	Next     string `json:"next"     validate:"required"`
}

// ChoiceSpec configures a choice state.
type ChoiceSpec struct {
	Rules       []ChoiceRule `json:"rules"`
	DefaultNext string       `json:"default_next,omitempty"`
}

// BranchSpec is one sub-graph of a parallel state.
type BranchSpec struct {
	Start  string   `json:"start"  validate:"required"`
	States []*State `json:"states" validate:"required,dive"`
}

// ParallelSpec configures a parallel state.
type ParallelSpec struct {
	Branches []BranchSpec `json:"branches" validate:"required,min=1,dive"`
}

// PassSpec configures a pass state. Terminal passes end the execution.
type PassSpec struct {
	Terminal bool `json:"terminal"`
	// Failure marks a terminal pass as a failure sentinel.
	Failure bool `json:"failure,omitempty"`
}

// State is one node of a workflow graph. Exactly one of the spec fields
// matching Type is set; the others are nil.
type State struct {
	Name string    `json:"name" validate:"required,min=1"`
	Type StateType `json:"type" validate:"required"`
	// Next is the outgoing edge taken after the state completes. Terminal
	// passes and choices leave it empty.
	Next string `json:"next,omitempty"`

	Task     *TaskSpec     `json:"task,omitempty"`
	Wait     *WaitSpec     `json:"wait,omitempty"`
	Choice   *ChoiceSpec   `json:"choice,omitempty"`
	Parallel *ParallelSpec `json:"parallel,omitempty"`
	Pass     *PassSpec     `json:"pass,omitempty"`
}

// Duration wraps time.Duration with JSON string encoding ("10s").
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}

	*d = Duration(parsed)

	return nil
}
