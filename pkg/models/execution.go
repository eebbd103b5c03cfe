package models

import "time"

// ExecutionStatus represents the lifecycle state of an execution.
type ExecutionStatus string

const (
	ExecutionStatusRunning   ExecutionStatus = "RUNNING"
	ExecutionStatusSucceeded ExecutionStatus = "SUCCEEDED"
	ExecutionStatusFailed    ExecutionStatus = "FAILED"
)

// FailureReason is the machine-readable reason recorded on a failed execution.
type FailureReason string

const (
	FailureReasonAdapterPermanent FailureReason = "adapter_permanent"
	FailureReasonRetriesExhausted FailureReason = "retries_exhausted"
	FailureReasonBranchFailed     FailureReason = "branch_failed"
	FailureReasonChoiceUnmatched  FailureReason = "choice_unmatched"
	FailureReasonCancelled        FailureReason = "cancelled"
	FailureReasonTerminalPass     FailureReason = "terminal_failure_state"
)

// TaskSlot tracks the per-state-instance progress of a task state: the job
// id once the external job has been started, and retry bookkeeping. The
// recorded JobID is the idempotency guard that keeps a crashed-and-retried
// tick from submitting the same job twice.
type TaskSlot struct {
	JobID    string `json:"job_id,omitempty"`
	Attempts int    `json:"attempts,omitempty"`
	Polls    int    `json:"polls,omitempty"`
}

// Execution is one run of a workflow definition. It is mutated exclusively
// by the interpreter under the store's optimistic-concurrency version, one
// tick at a time.
type Execution struct {
	ID           string          `json:"id"`
	WorkflowName string          `json:"workflow_name"`
	CurrentState string          `json:"current_state"`
	Status       ExecutionStatus `json:"status"`

	// Data is the accumulated execution document. Keys are added by task
	// results and branch merges and never silently dropped, so downstream
	// states can reference earlier outputs.
	Data map[string]any `json:"data"`

	// TaskSlots maps task state names to their start/poll progress.
	TaskSlots map[string]*TaskSlot `json:"task_slots,omitempty"`

	// ParentID and BranchIndex link a branch execution to the parallel
	// state instance that forked it.
	ParentID    string `json:"parent_id,omitempty"`
	BranchIndex int    `json:"branch_index,omitempty"`

	FailureReason FailureReason `json:"failure_reason,omitempty"`
	FailedState   string        `json:"failed_state,omitempty"`

	// Version implements the per-execution lease: saves carry the version
	// they loaded, and a mismatch aborts the tick.
	Version int64 `json:"version"`

	CreatedAt    time.Time `json:"created_at"`
	TransitionAt time.Time `json:"transition_at"`
}

// Terminal reports whether the execution has reached a final status.
func (e *Execution) Terminal() bool {
	return e.Status == ExecutionStatusSucceeded || e.Status == ExecutionStatusFailed
}

// Slot returns the task slot for a state, allocating it on first use.
func (e *Execution) Slot(stateName string) *TaskSlot {
	if e.TaskSlots == nil {
		e.TaskSlots = make(map[string]*TaskSlot)
	}

	slot, ok := e.TaskSlots[stateName]
	if !ok {
		slot = &TaskSlot{}
		e.TaskSlots[stateName] = slot
	}

	return slot
}

// MergeData folds a result document into the execution data. Merging is
// last-write-wins per key and idempotent under duplicate application, which
// keeps at-least-once tick delivery safe.
func (e *Execution) MergeData(result map[string]any) {
	if len(result) == 0 {
		return
	}

	if e.Data == nil {
		e.Data = make(map[string]any, len(result))
	}

	for k, v := range result {
		e.Data[k] = v
	}
}

// DataString returns the string value of a data key, if present.
func (e *Execution) DataString(key string) (string, bool) {
	v, ok := e.Data[key]
	if !ok {
		return "", false
	}

	s, ok := v.(string)

	return s, ok
}
