// Package trigger turns storage notifications into workflow executions.
package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/conveyorhq/conveyor/pkg/events"
	"github.com/conveyorhq/conveyor/pkg/models"
)

// executionNamespace seeds the deterministic execution ids derived from
// storage notifications.
var executionNamespace = uuid.MustParse("5b7c6a4e-92d1-4b0a-a0a3-62a1b3a8f7de")

// DefaultSuffixes are the media object suffixes that start the pipeline.
var DefaultSuffixes = []string{".mp4", ".m4a"}

// Starter begins a workflow execution. The interpreter satisfies this.
type Starter interface {
	Start(ctx context.Context, workflowName, executionID string, input map[string]any) (*models.Execution, error)
}

// Gateway filters inbound object notifications and starts one execution per
// distinct notification. Execution ids are derived from the notification
// itself, so a redelivered notification lands on the existing execution
// instead of starting a duplicate pipeline.
type Gateway struct {
	starter      Starter
	workflowName string
	suffixes     []string
	logger       *slog.Logger
}

func NewGateway(starter Starter, workflowName string, suffixes []string, logger *slog.Logger) *Gateway {
	if len(suffixes) == 0 {
		suffixes = DefaultSuffixes
	}

	// Matching is case-insensitive on both sides.
	lowered := make([]string, len(suffixes))
	for i, suffix := range suffixes {
		lowered[i] = strings.ToLower(suffix)
	}

	return &Gateway{
		starter:      starter,
		workflowName: workflowName,
		suffixes:     lowered,
		logger:       logger.With("module", "trigger_gateway"),
	}
}

// ExecutionID derives the deterministic id for a notification.
func ExecutionID(bucketName, objectKey string, eventTime time.Time) string {
	seed := bucketName + "/" + objectKey + "@" + eventTime.UTC().Format(time.RFC3339)

	return uuid.NewSHA1(executionNamespace, []byte(seed)).String()
}

// OnObjectCreated handles one storage notification from the bus.
func (g *Gateway) OnObjectCreated(ctx context.Context, event events.ObjectCreated) error {
	return g.OnTrigger(ctx, models.TriggerEvent{
		SourceBucket: event.BucketName,
		ObjectKey:    event.ObjectKey,
		EventTime:    event.EventTime,
	})
}

// OnTrigger starts an execution for an inbound trigger event. Objects
// outside the suffix allow-list are skipped without error.
func (g *Gateway) OnTrigger(ctx context.Context, trigger models.TriggerEvent) error {
	logger := g.logger.With("bucket_name", trigger.SourceBucket, "object_key", trigger.ObjectKey)

	if !g.accepts(trigger.ObjectKey) {
		logger.Debug("Skipping object outside suffix allow-list")

		return nil
	}

	executionID := ExecutionID(trigger.SourceBucket, trigger.ObjectKey, trigger.EventTime)

	execution, err := g.starter.Start(ctx, g.workflowName, executionID, map[string]any{
		"bucket_name": trigger.SourceBucket,
		"object_key":  trigger.ObjectKey,
	})
	if err != nil {
		return fmt.Errorf("failed to start execution for s3://%s/%s: %w", trigger.SourceBucket, trigger.ObjectKey, err)
	}

	logger.Info("Triggered execution", "execution_id", execution.ID, "workflow_name", g.workflowName)

	return nil
}

func (g *Gateway) accepts(objectKey string) bool {
	lowered := strings.ToLower(objectKey)

	for _, suffix := range g.suffixes {
		if strings.HasSuffix(lowered, suffix) {
			return true
		}
	}

	return false
}
