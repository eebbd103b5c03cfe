// Package events defines the event types that drive and report workflow
// execution.
package events

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

// Topics.
const (
	// TickTopic carries interpreter re-entry requests: initial creation,
	// timer expiry, and poll-now follow-ups all arrive here.
	TickTopic = "conveyor.ticks"
	// LifecycleTopic carries execution lifecycle notifications.
	LifecycleTopic = "conveyor.executions"
	// ObjectCreatedTopic carries inbound storage notifications consumed
	// by the trigger gateway.
	ObjectCreatedTopic = "conveyor.objects.created"
)

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	TickRequestedEvent      EventType = "execution.tick.requested"
	ExecutionStartedEvent   EventType = "execution.started"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
	ExecutionCancelledEvent EventType = "execution.cancelled"
	ObjectCreatedEvent      EventType = "object.created"
)

type BaseEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	WorkerID  string    `json:"worker_id,omitempty"`
}

// NewBaseEvent stamps a fresh event envelope.
func NewBaseEvent(eventType EventType) BaseEvent {
	return BaseEvent{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
	}
}

// TickRequested asks the interpreter to advance one execution by one tick.
// Delivery is at-least-once; ticks are idempotent against the stored state.
type TickRequested struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
}

func (t TickRequested) GetType() EventType { return TickRequestedEvent }

type ExecutionStarted struct {
	BaseEvent

	ExecutionID  string `json:"execution_id"`
	WorkflowName string `json:"workflow_name"`
}

func (e ExecutionStarted) GetType() EventType { return ExecutionStartedEvent }

type ExecutionCompleted struct {
	BaseEvent

	ExecutionID string         `json:"execution_id"`
	Result      map[string]any `json:"result,omitempty"`
}

func (e ExecutionCompleted) GetType() EventType { return ExecutionCompletedEvent }

type ExecutionFailed struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	Reason      string `json:"reason"`
	FailedState string `json:"failed_state,omitempty"`
}

func (e ExecutionFailed) GetType() EventType { return ExecutionFailedEvent }

type ExecutionCancelled struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
}

func (e ExecutionCancelled) GetType() EventType { return ExecutionCancelledEvent }

// ObjectCreated is the storage notification that can start a pipeline.
type ObjectCreated struct {
	BaseEvent

	BucketName string    `json:"bucket_name"`
	ObjectKey  string    `json:"object_key"`
	EventTime  time.Time `json:"event_time"`
}

func (o ObjectCreated) GetType() EventType { return ObjectCreatedEvent }
