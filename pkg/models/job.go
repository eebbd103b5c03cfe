package models

// JobStatus is the canonical status of an external asynchronous job. Each
// adapter maps its own service vocabulary onto these three values.
type JobStatus string

const (
	JobStatusInProgress JobStatus = "IN_PROGRESS"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)
