// Package ingest implements the job adapter for the vector-store ingestion
// service's REST API.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/conveyorhq/conveyor/pkg/adapter"
	"github.com/conveyorhq/conveyor/pkg/models"
)

const Kind = "ingest"

// Config configures the ingestion service client.
type Config struct {
	BaseURL         string `json:"base_url"          validate:"required,url"`
	DataSourceID    string `json:"data_source_id"    validate:"required"`
	KnowledgeBaseID string `json:"knowledge_base_id" validate:"required"`
	Timeout         time.Duration
}

// Adapter starts ingestion jobs and polls their status. Note the ingestion
// service reports completion as "COMPLETE", not "COMPLETED".
type Adapter struct {
	config Config
	client *http.Client
	logger *slog.Logger
}

func New(config Config, logger *slog.Logger) *Adapter {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &Adapter{
		config: config,
		client: &http.Client{Timeout: timeout},
		logger: logger.With("module", "ingest_adapter"),
	}
}

type startRequest struct {
	DataSourceID    string `json:"data_source_id"`
	KnowledgeBaseID string `json:"knowledge_base_id"`
	ArtifactURI     string `json:"artifact_uri,omitempty"`
}

type jobResponse struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
}

func (a *Adapter) Start(ctx context.Context, params map[string]any) (string, error) {
	artifactURI, _ := params["artifact_uri"].(string)

	body := startRequest{
		DataSourceID:    a.config.DataSourceID,
		KnowledgeBaseID: a.config.KnowledgeBaseID,
		ArtifactURI:     artifactURI,
	}

	var resp jobResponse
	if err := a.do(ctx, http.MethodPost, a.config.BaseURL+"/ingestion-jobs", body, &resp); err != nil {
		return "", err
	}

	if resp.JobID == "" {
		return "", adapter.NewPermanent(Kind, "start", errors.New("service returned no job id"))
	}

	a.logger.InfoContext(ctx, "Started ingestion job", "job_id", resp.JobID, "status", resp.Status)

	return resp.JobID, nil
}

func (a *Adapter) Poll(ctx context.Context, jobID string) (models.JobStatus, map[string]any, error) {
	var resp jobResponse
	if err := a.do(ctx, http.MethodGet, a.config.BaseURL+"/ingestion-jobs/"+jobID, nil, &resp); err != nil {
		return "", nil, err
	}

	output := map[string]any{
		"status": resp.Status,
		"job_id": resp.JobID,
	}

	return adapter.IngestVocabulary().Canonical(resp.Status), output, nil
}

func (a *Adapter) do(ctx context.Context, method, url string, body, out any) error {
	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return adapter.NewPermanent(Kind, "start", err)
		}

		reader = bytes.NewReader(payload)
	}

	op := "poll"
	if method == http.MethodPost {
		op = "start"
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return adapter.NewPermanent(Kind, op, err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return adapter.NewTransient(Kind, op, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return adapter.NewPermanent(Kind, op, adapter.ErrJobNotFound)
	case resp.StatusCode >= http.StatusInternalServerError:
		return adapter.NewTransient(Kind, op, fmt.Errorf("service returned %d", resp.StatusCode))
	case resp.StatusCode >= http.StatusBadRequest:
		return adapter.NewPermanent(Kind, op, fmt.Errorf("service returned %d", resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return adapter.NewPermanent(Kind, op, fmt.Errorf("decoding response: %w", err))
	}

	return nil
}
