// Package transform implements the synchronous transformation step between
// transcription output and ingestion input: it hands the raw transcript to
// the transformation service and returns the ingestible artifact reference.
package transform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/conveyorhq/conveyor/pkg/adapter"
)

const Kind = "transform"

// Config configures the transformation service client.
type Config struct {
	BaseURL string `json:"base_url" validate:"required,url"`
	Timeout time.Duration
}

// Invoker calls the transformation service synchronously.
type Invoker struct {
	config Config
	client *http.Client
	logger *slog.Logger
}

func New(config Config, logger *slog.Logger) *Invoker {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &Invoker{
		config: config,
		client: &http.Client{Timeout: timeout},
		logger: logger.With("module", "transform_adapter"),
	}
}

type transformRequest struct {
	TranscriptURI string `json:"transcript_uri"`
	JobName       string `json:"job_name,omitempty"`
}

type transformResponse struct {
	ArtifactURI string `json:"artifact_uri"`
}

// Invoke transforms a transcript into an ingestible artifact and returns
// its reference. The call blocks for the duration of the transformation,
// which is bounded by the client timeout.
func (i *Invoker) Invoke(ctx context.Context, params map[string]any) (map[string]any, error) {
	transcriptURI, _ := params["transcript_uri"].(string)
	if transcriptURI == "" {
		return nil, adapter.NewPermanent(Kind, "start", errors.New("transcript_uri parameter is required"))
	}

	jobName, _ := params["job_name"].(string)

	payload, err := json.Marshal(transformRequest{TranscriptURI: transcriptURI, JobName: jobName})
	if err != nil {
		return nil, adapter.NewPermanent(Kind, "start", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.config.BaseURL+"/transformations", bytes.NewReader(payload))
	if err != nil {
		return nil, adapter.NewPermanent(Kind, "start", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := i.client.Do(req)
	if err != nil {
		return nil, adapter.NewTransient(Kind, "start", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, adapter.NewTransient(Kind, "start", fmt.Errorf("service returned %d", resp.StatusCode))
	case resp.StatusCode >= http.StatusBadRequest:
		return nil, adapter.NewPermanent(Kind, "start", fmt.Errorf("service returned %d", resp.StatusCode))
	}

	var out transformResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, adapter.NewPermanent(Kind, "start", fmt.Errorf("decoding response: %w", err))
	}

	i.logger.InfoContext(ctx, "Transformed transcript", "artifact_uri", out.ArtifactURI)

	return map[string]any{"artifact_uri": out.ArtifactURI}, nil
}
