package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/conveyorhq/conveyor/pkg/models"
	"github.com/conveyorhq/conveyor/pkg/store"
)

// ExecutionService starts and cancels executions. The interpreter satisfies
// this.
type ExecutionService interface {
	Start(ctx context.Context, workflowName, executionID string, input map[string]any) (*models.Execution, error)
	Cancel(ctx context.Context, executionID string) error
}

type APIHandlers struct {
	executionStore store.Store
	service        ExecutionService
	validator      *validator.Validate
}

func NewAPIHandlers(executionStore store.Store, service ExecutionService, validator *validator.Validate) *APIHandlers {
	return &APIHandlers{
		executionStore: executionStore,
		service:        service,
		validator:      validator,
	}
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	execution, err := h.executionStore.Load(c.Context(), id)
	if err != nil {
		return handleExecutionError(c, err)
	}

	return c.JSON(execution)
}

func (h *APIHandlers) ListExecutions(c fiber.Ctx) error {
	status := models.ExecutionStatus(c.Query("status", string(models.ExecutionStatusRunning)))

	switch status {
	case models.ExecutionStatusRunning, models.ExecutionStatusSucceeded, models.ExecutionStatusFailed:
	default:
		return badRequest(c, "Unknown status "+string(status))
	}

	executions, err := h.executionStore.ListByStatus(c.Context(), status)
	if err != nil {
		return handleExecutionError(c, err)
	}

	return c.JSON(fiber.Map{
		"executions":  executions,
		"total_count": len(executions),
		"status":      status,
	})
}

func (h *APIHandlers) StartExecution(c fiber.Ctx) error {
	var req StartExecutionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	execution, err := h.service.Start(c.Context(), req.WorkflowName, req.ExecutionID, req.Input)
	if err != nil {
		return handleExecutionError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(execution)
}

func (h *APIHandlers) CancelExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	if err := h.service.Cancel(c.Context(), id); err != nil {
		return handleExecutionError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	status := "healthy"
	httpStatus := http.StatusOK

	storeErr := h.executionStore.HealthCheck(c.Context())
	if storeErr != nil {
		status = "unhealthy"
		httpStatus = http.StatusInternalServerError
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status": status,
		"checkers": fiber.Map{
			"store": storeErr == nil,
		},
		"timestamp": time.Now().UTC(),
	})
}
