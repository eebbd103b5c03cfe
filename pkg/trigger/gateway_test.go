package trigger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyorhq/conveyor/pkg/events"
	"github.com/conveyorhq/conveyor/pkg/log"
	"github.com/conveyorhq/conveyor/pkg/models"
)

type startCall struct {
	workflowName string
	executionID  string
	input        map[string]any
}

type recordingStarter struct {
	calls []startCall
}

func (s *recordingStarter) Start(
	_ context.Context,
	workflowName, executionID string,
	input map[string]any,
) (*models.Execution, error) {
	s.calls = append(s.calls, startCall{workflowName: workflowName, executionID: executionID, input: input})

	return &models.Execution{ID: executionID, WorkflowName: workflowName, Data: input}, nil
}

func objectCreated(key string) events.ObjectCreated {
	return events.ObjectCreated{
		BaseEvent:  events.NewBaseEvent(events.ObjectCreatedEvent),
		BucketName: "media-input",
		ObjectKey:  key,
		EventTime:  time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC),
	}
}

func TestGateway_StartsPipelineForMediaObject(t *testing.T) {
	starter := &recordingStarter{}
	gateway := NewGateway(starter, "media-pipeline", nil, log.WithModule("test"))

	require.NoError(t, gateway.OnObjectCreated(context.Background(), objectCreated("videos/demo.mp4")))

	require.Len(t, starter.calls, 1)
	call := starter.calls[0]
	assert.Equal(t, "media-pipeline", call.workflowName)
	assert.Equal(t, "media-input", call.input["bucket_name"])
	assert.Equal(t, "videos/demo.mp4", call.input["object_key"])
}

func TestGateway_SkipsNonMediaObjects(t *testing.T) {
	starter := &recordingStarter{}
	gateway := NewGateway(starter, "media-pipeline", nil, log.WithModule("test"))

	require.NoError(t, gateway.OnObjectCreated(context.Background(), objectCreated("notes/readme.txt")))
	require.NoError(t, gateway.OnObjectCreated(context.Background(), objectCreated("videos/demo.mp4.tmp")))

	assert.Empty(t, starter.calls)
}

func TestGateway_SuffixMatchIsCaseInsensitive(t *testing.T) {
	starter := &recordingStarter{}
	gateway := NewGateway(starter, "media-pipeline", nil, log.WithModule("test"))

	require.NoError(t, gateway.OnObjectCreated(context.Background(), objectCreated("audio/INTERVIEW.M4A")))

	assert.Len(t, starter.calls, 1)
}

func TestGateway_CustomSuffixes(t *testing.T) {
	starter := &recordingStarter{}
	gateway := NewGateway(starter, "media-pipeline", []string{".wav"}, log.WithModule("test"))

	require.NoError(t, gateway.OnObjectCreated(context.Background(), objectCreated("audio/take1.wav")))
	require.NoError(t, gateway.OnObjectCreated(context.Background(), objectCreated("videos/demo.mp4")))

	require.Len(t, starter.calls, 1)
	assert.Equal(t, map[string]any{
		"bucket_name": "media-input",
		"object_key":  "audio/take1.wav",
	}, starter.calls[0].input)
}

func TestGateway_UppercaseConfiguredSuffixMatches(t *testing.T) {
	starter := &recordingStarter{}
	gateway := NewGateway(starter, "media-pipeline", []string{".WAV"}, log.WithModule("test"))

	require.NoError(t, gateway.OnObjectCreated(context.Background(), objectCreated("audio/take1.wav")))
	require.NoError(t, gateway.OnObjectCreated(context.Background(), objectCreated("audio/TAKE2.WAV")))

	assert.Len(t, starter.calls, 2)
}

func TestGateway_OnTrigger(t *testing.T) {
	starter := &recordingStarter{}
	gateway := NewGateway(starter, "media-pipeline", nil, log.WithModule("test"))

	trigger := models.TriggerEvent{
		SourceBucket: "media-input",
		ObjectKey:    "videos/demo.mp4",
		EventTime:    time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC),
	}
	require.NoError(t, gateway.OnTrigger(context.Background(), trigger))

	require.Len(t, starter.calls, 1)
	assert.Equal(t, ExecutionID("media-input", "videos/demo.mp4", trigger.EventTime), starter.calls[0].executionID)
}

func TestExecutionID_Deterministic(t *testing.T) {
	at := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

	first := ExecutionID("media-input", "videos/demo.mp4", at)
	second := ExecutionID("media-input", "videos/demo.mp4", at)
	other := ExecutionID("media-input", "videos/demo.mp4", at.Add(time.Second))

	assert.Equal(t, first, second)
	assert.NotEqual(t, first, other)
	assert.NotEqual(t, first, ExecutionID("media-input", "videos/other.mp4", at))
}

func TestGateway_RedeliveredNotificationReusesExecutionID(t *testing.T) {
	starter := &recordingStarter{}
	gateway := NewGateway(starter, "media-pipeline", nil, log.WithModule("test"))

	event := objectCreated("videos/demo.mp4")
	require.NoError(t, gateway.OnObjectCreated(context.Background(), event))
	require.NoError(t, gateway.OnObjectCreated(context.Background(), event))

	require.Len(t, starter.calls, 2)
	assert.Equal(t, starter.calls[0].executionID, starter.calls[1].executionID)
}
