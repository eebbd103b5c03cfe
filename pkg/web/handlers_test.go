package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conveyorhq/conveyor/pkg/interpreter"
	"github.com/conveyorhq/conveyor/pkg/models"
	"github.com/conveyorhq/conveyor/pkg/store/memory"
	"github.com/conveyorhq/conveyor/pkg/web"
)

// fakeService mimics the interpreter against the same memory store the
// handlers read from.
type fakeService struct {
	store *memory.Store
}

func (s *fakeService) Start(
	ctx context.Context,
	workflowName, executionID string,
	input map[string]any,
) (*models.Execution, error) {
	if workflowName != "media-pipeline" {
		return nil, fmt.Errorf("%w: %s", interpreter.ErrUnknownWorkflow, workflowName)
	}

	execution := &models.Execution{
		ID:           executionID,
		WorkflowName: workflowName,
		CurrentState: "transcribe-start",
		Status:       models.ExecutionStatusRunning,
		Data:         input,
		Version:      1,
		CreatedAt:    time.Now().UTC(),
	}

	if err := s.store.Create(ctx, execution); err != nil {
		return nil, err
	}

	return execution, nil
}

func (s *fakeService) Cancel(ctx context.Context, executionID string) error {
	execution, err := s.store.Load(ctx, executionID)
	if err != nil {
		return err
	}

	execution.Status = models.ExecutionStatusFailed
	execution.FailureReason = models.FailureReasonCancelled

	return s.store.Save(ctx, execution, execution.Version)
}

func setupTestApp(t *testing.T) (*fiber.App, *memory.Store) {
	t.Helper()

	executionStore := memory.NewStore()
	service := &fakeService{store: executionStore}
	handlers := web.NewAPIHandlers(executionStore, service, validator.New(validator.WithRequiredStructEnabled()))

	app := fiber.New()

	e := app.Group("/executions")
	e.Get("/", handlers.ListExecutions)
	e.Post("/", handlers.StartExecution)
	e.Get("/:id", handlers.GetExecution)
	e.Delete("/:id", handlers.CancelExecution)

	app.Get("/health", handlers.HealthCheck)

	return app, executionStore
}

func seedExecution(t *testing.T, executionStore *memory.Store, id string, status models.ExecutionStatus) {
	t.Helper()

	require.NoError(t, executionStore.Create(context.Background(), &models.Execution{
		ID:           id,
		WorkflowName: "media-pipeline",
		CurrentState: "transcribe-wait",
		Status:       status,
		Data:         map[string]any{"bucket_name": "media-input"},
		Version:      1,
		CreatedAt:    time.Now().UTC(),
	}))
}

func TestGetExecution(t *testing.T) {
	app, executionStore := setupTestApp(t)
	seedExecution(t, executionStore, "exec-1", models.ExecutionStatusRunning)

	resp, err := app.Test(httptestRequest(http.MethodGet, "/executions/exec-1", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var execution models.Execution
	decodeBody(t, resp.Body, &execution)
	assert.Equal(t, "exec-1", execution.ID)
	assert.Equal(t, "media-pipeline", execution.WorkflowName)
}

func TestGetExecution_NotFound(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, err := app.Test(httptestRequest(http.MethodGet, "/executions/missing", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListExecutions_FiltersByStatus(t *testing.T) {
	app, executionStore := setupTestApp(t)
	seedExecution(t, executionStore, "exec-1", models.ExecutionStatusRunning)
	seedExecution(t, executionStore, "exec-2", models.ExecutionStatusSucceeded)
	seedExecution(t, executionStore, "exec-3", models.ExecutionStatusRunning)

	resp, err := app.Test(httptestRequest(http.MethodGet, "/executions/?status=RUNNING", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var listing struct {
		Executions []models.Execution `json:"executions"`
		TotalCount int                `json:"total_count"`
	}
	decodeBody(t, resp.Body, &listing)
	assert.Equal(t, 2, listing.TotalCount)
}

func TestListExecutions_RejectsUnknownStatus(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, err := app.Test(httptestRequest(http.MethodGet, "/executions/?status=SLEEPING", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStartExecution(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, err := app.Test(httptestRequest(http.MethodPost, "/executions/", web.StartExecutionRequest{
		WorkflowName: "media-pipeline",
		ExecutionID:  "exec-new",
		Input:        map[string]any{"bucket_name": "media-input", "object_key": "videos/demo.mp4"},
	}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	var execution models.Execution
	decodeBody(t, resp.Body, &execution)
	assert.Equal(t, "exec-new", execution.ID)
	assert.Equal(t, models.ExecutionStatusRunning, execution.Status)
}

func TestStartExecution_ValidatesBody(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, err := app.Test(httptestRequest(http.MethodPost, "/executions/", web.StartExecutionRequest{}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStartExecution_UnknownWorkflow(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, err := app.Test(httptestRequest(http.MethodPost, "/executions/", web.StartExecutionRequest{
		WorkflowName: "no-such-workflow",
	}))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCancelExecution(t *testing.T) {
	app, executionStore := setupTestApp(t)
	seedExecution(t, executionStore, "exec-1", models.ExecutionStatusRunning)

	resp, err := app.Test(httptestRequest(http.MethodDelete, "/executions/exec-1", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	cancelled, err := executionStore.Load(context.Background(), "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, cancelled.Status)
	assert.Equal(t, models.FailureReasonCancelled, cancelled.FailureReason)
}

func TestCancelExecution_NotFound(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, err := app.Test(httptestRequest(http.MethodDelete, "/executions/missing", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHealthCheck(t *testing.T) {
	app, _ := setupTestApp(t)

	resp, err := app.Test(httptestRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var health struct {
		Status string `json:"status"`
	}
	decodeBody(t, resp.Body, &health)
	assert.Equal(t, "healthy", health.Status)
}

func httptestRequest(method, target string, body any) *http.Request {
	var reader io.Reader

	if body != nil {
		encoded, _ := json.Marshal(body)
		reader = bytes.NewReader(encoded)
	}

	req, _ := http.NewRequestWithContext(context.Background(), method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return req
}

func decodeBody(t *testing.T, body io.ReadCloser, target any) {
	t.Helper()

	defer body.Close()

	raw, err := io.ReadAll(body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, target))
}
