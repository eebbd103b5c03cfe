package models

import "time"

// TriggerEvent is the inbound object-created notification that starts a
// pipeline execution.
type TriggerEvent struct {
	SourceBucket string    `json:"bucket_name" validate:"required"`
	ObjectKey    string    `json:"object_key"  validate:"required"`
	EventTime    time.Time `json:"event_time"`
}
