// Package adapter defines the uniform interface to external asynchronous
// jobs and the registry the interpreter resolves adapters from.
package adapter

import (
	"context"

	"github.com/conveyorhq/conveyor/pkg/models"
)

// Adapter starts and queries one kind of external asynchronous job. Start
// and Poll may block for network I/O only, never for job completion.
//
// Start must be safe to retry with the same parameters: the interpreter
// never re-issues Start once a job id has been persisted, but a crash
// between the external call and the save can lead to a second Start for the
// same state instance.
type Adapter interface {
	Start(ctx context.Context, params map[string]any) (string, error)
	Poll(ctx context.Context, jobID string) (models.JobStatus, map[string]any, error)
}

// Invoker runs a synchronous step through the same parameter/result shape
// as asynchronous jobs. The transformation between transcription output and
// ingestion input is exposed this way.
type Invoker interface {
	Invoke(ctx context.Context, params map[string]any) (map[string]any, error)
}

// Vocabulary maps a service's own status strings onto the canonical job
// statuses. The two job kinds in the media pipeline use different words for
// the same terminal state ("COMPLETED" vs "COMPLETE"), so the mapping is
// configuration, never a constant.
type Vocabulary struct {
	InProgress []string `json:"in_progress"`
	Completed  []string `json:"completed"`
	Failed     []string `json:"failed"`
}

// Canonical translates a raw service status. Unknown strings map to
// IN_PROGRESS so that a vocabulary gap degrades to more polling instead of
// a wrong terminal decision.
func (v Vocabulary) Canonical(raw string) models.JobStatus {
	for _, s := range v.Completed {
		if s == raw {
			return models.JobStatusCompleted
		}
	}

	for _, s := range v.Failed {
		if s == raw {
			return models.JobStatusFailed
		}
	}

	return models.JobStatusInProgress
}

// TranscribeVocabulary matches the transcription service's status words.
func TranscribeVocabulary() Vocabulary {
	return Vocabulary{
		InProgress: []string{"QUEUED", "IN_PROGRESS"},
		Completed:  []string{"COMPLETED"},
		Failed:     []string{"FAILED"},
	}
}

// IngestVocabulary matches the ingestion service's status words.
func IngestVocabulary() Vocabulary {
	return Vocabulary{
		InProgress: []string{"STARTING", "IN_PROGRESS"},
		Completed:  []string{"COMPLETE"},
		Failed:     []string{"FAILED"},
	}
}
