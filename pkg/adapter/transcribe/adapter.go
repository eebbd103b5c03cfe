// Package transcribe implements the job adapter for the transcription
// service's REST API.
package transcribe

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

const Kind = "transcribe"

// Config configures the transcription service client.
type Config struct {
	BaseURL      string `json:"base_url"      validate:"required,url"`
	LanguageCode string `json:"language_code" validate:"required"`
	OutputBucket string `json:"output_bucket" validate:"required"`
	OutputPrefix string `json:"output_prefix"`
	Timeout      time.Duration
}

// Adapter starts transcription jobs and polls their status.
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
		logger: logger.With("module", "transcribe_adapter"),
	}
}

type startRequest struct {
	JobName      string `json:"job_name"`
	MediaURI     string `json:"media_uri"`
	LanguageCode string `json:"language_code"`
	OutputBucket string `json:"output_bucket"`
	OutputKey    string `json:"output_key"`
}

type jobResponse struct {
	JobName       string `json:"job_name"`
	Status        string `json:"status"`
	TranscriptURI string `json:"transcript_uri,omitempty"`
}

// Start submits a transcription job. The job name doubles as the job id, so
// resubmitting with the same name is a server-side no-op as well.
func (a *Adapter) Start(ctx context.Context, params map[string]any) (string, error) {
	jobName, _ := params["job_name"].(string)
	mediaURI, _ := params["media_uri"].(string)

	if jobName == "" || mediaURI == "" {
		return "", adapter.NewPermanent(Kind, "start", errors.New("job_name and media_uri parameters are required"))
	}

	body := startRequest{
		JobName:      jobName,
		MediaURI:     mediaURI,
		LanguageCode: a.config.LanguageCode,
		OutputBucket: a.config.OutputBucket,
		OutputKey:    fmt.Sprintf("%s%s.json", a.config.OutputPrefix, jobName),
	}

	var resp jobResponse
	if err := a.do(ctx, http.MethodPost, a.config.BaseURL+"/transcriptions", body, &resp); err != nil {
		return "", err
	}

	a.logger.InfoContext(ctx, "Started transcription job", "job_name", resp.JobName, "status", resp.Status)

	return resp.JobName, nil
}

// Poll queries a transcription job. The raw service status goes into the
// output untouched so choice states can match on it; the canonical status
// comes from the configured vocabulary.
func (a *Adapter) Poll(ctx context.Context, jobID string) (models.JobStatus, map[string]any, error) {
	var resp jobResponse
	if err := a.do(ctx, http.MethodGet, a.config.BaseURL+"/transcriptions/"+jobID, nil, &resp); err != nil {
		return "", nil, err
	}

	output := map[string]any{"status": resp.Status}
	if resp.TranscriptURI != "" {
		output["transcript_uri"] = resp.TranscriptURI
	}

	return adapter.TranscribeVocabulary().Canonical(resp.Status), output, nil
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
