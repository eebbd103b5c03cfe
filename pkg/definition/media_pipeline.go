package definition

import (
	"time"

	"github.com/conveyorhq/conveyor/pkg/graph"
	"github.com/conveyorhq/conveyor/pkg/models"
)

// MediaPipelineName is the workflow the trigger gateway starts by default.
const MediaPipelineName = "media-pipeline"

const pollInterval = 10 * time.Second

// MediaPipeline is the shipped transcription-then-ingestion workflow. Each
// external job runs as start, wait, poll, decide; the decide state loops
// back through the wait until the job reports its terminal status. A
// synchronous transform reshapes the transcript before ingestion.
func MediaPipeline() (*graph.Definition, error) {
	states := []*models.State{
		{
			Name: "transcribe-start",
			Type: models.StateTypeTask,
			Next: "transcribe-wait",
			Task: &models.TaskSpec{
				AdapterKind: "transcribe",
				Mode:        models.TaskModeStart,
				Parameters: map[string]string{
					"job_name":  "{{.execution_id}}",
					"media_uri": "s3://{{.bucket_name}}/{{.object_key}}",
				},
				JobIDFrom: "transcription_job_name",
			},
		},
		{
			Name: "transcribe-wait",
			Type: models.StateTypeWait,
			Next: "transcribe-poll",
			Wait: &models.WaitSpec{Duration: models.Duration(pollInterval)},
		},
		{
			Name: "transcribe-poll",
			Type: models.StateTypeTask,
			Next: "transcribe-decide",
			Task: &models.TaskSpec{
				AdapterKind: "transcribe",
				Mode:        models.TaskModePoll,
				JobIDFrom:   "transcription_job_name",
				ResultMapping: map[string]string{
					"status":         "transcription_status",
					"transcript_uri": "transcript_uri",
				},
			},
		},
		{
			Name: "transcribe-decide",
			Type: models.StateTypeChoice,
			Choice: &models.ChoiceSpec{
				Rules: []models.ChoiceRule{
					{Variable: "transcription_status", Equals: "COMPLETED", Next: "transform"},
				},
				DefaultNext: "transcribe-wait",
			},
		},
		{
			Name: "transform",
			Type: models.StateTypeTask,
			Next: "ingest-start",
			Task: &models.TaskSpec{
				AdapterKind: "transform",
				Mode:        models.TaskModeInvoke,
				Parameters: map[string]string{
					"transcript_uri": "{{.transcript_uri}}",
					"job_name":       "{{.execution_id}}",
				},
			},
		},
		{
			Name: "ingest-start",
			Type: models.StateTypeTask,
			Next: "ingest-wait",
			Task: &models.TaskSpec{
				AdapterKind: "ingest",
				Mode:        models.TaskModeStart,
				Parameters: map[string]string{
					"artifact_uri": "{{.artifact_uri}}",
				},
				JobIDFrom: "ingestion_job_id",
			},
		},
		{
			Name: "ingest-wait",
			Type: models.StateTypeWait,
			Next: "ingest-poll",
			Wait: &models.WaitSpec{Duration: models.Duration(pollInterval)},
		},
		{
			Name: "ingest-poll",
			Type: models.StateTypeTask,
			Next: "ingest-decide",
			Task: &models.TaskSpec{
				AdapterKind: "ingest",
				Mode:        models.TaskModePoll,
				JobIDFrom:   "ingestion_job_id",
				ResultMapping: map[string]string{
					"status": "ingestion_status",
				},
			},
		},
		{
			Name: "ingest-decide",
			Type: models.StateTypeChoice,
			Choice: &models.ChoiceSpec{
				Rules: []models.ChoiceRule{
					{Variable: "ingestion_status", Equals: "COMPLETE", Next: "ingestion-succeeded"},
				},
				DefaultNext: "ingest-wait",
			},
		},
		{
			Name: "ingestion-succeeded",
			Type: models.StateTypePass,
			Pass: &models.PassSpec{Terminal: true},
		},
	}

	return graph.Build(MediaPipelineName, states, "transcribe-start")
}
