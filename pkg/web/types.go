// Package web provides HTTP handlers and REST API endpoints for execution management.
package web

// StartExecutionRequest represents the request body for starting an execution.
type StartExecutionRequest struct {
	WorkflowName string         `json:"workflow_name" validate:"required,min=1"`
	ExecutionID  string         `json:"execution_id,omitempty"`
	Input        map[string]any `json:"input,omitempty"`
}
