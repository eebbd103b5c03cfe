// Package template renders task parameters against the execution document,
// so definitions can reference earlier outputs ("s3://{{.bucket_name}}/...").
package template

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/conveyorhq/conveyor/pkg/models"
)

// Render expands one template string against the given data.
func Render(templateStr string, data map[string]any) (string, error) {
	tmpl, err := template.
		New("params").
		Option("missingkey=error").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
		}).
		Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %q: %w", templateStr, err)
	}

	var buf strings.Builder

	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render template %q: %w", templateStr, err)
	}

	return buf.String(), nil
}

// RenderParams expands a task's parameter templates against an execution.
// The execution data is the template root, with the execution id and
// workflow name available as execution_id and workflow_name.
func RenderParams(params map[string]string, execution *models.Execution) (map[string]any, error) {
	if len(params) == 0 {
		return map[string]any{}, nil
	}

	data := make(map[string]any, len(execution.Data)+2)
	for k, v := range execution.Data {
		data[k] = v
	}

	data["execution_id"] = execution.ID
	data["workflow_name"] = execution.WorkflowName

	rendered := make(map[string]any, len(params))

	for name, tmpl := range params {
		value, err := Render(tmpl, data)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", name, err)
		}

		rendered[name] = value
	}

	return rendered, nil
}
