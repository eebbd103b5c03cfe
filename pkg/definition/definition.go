// Package definition loads workflow definitions from JSON documents and
// provides the pipelines that ship with the service.
package definition

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"

	"github.com/conveyorhq/conveyor/pkg/graph"
	"github.com/conveyorhq/conveyor/pkg/models"
)

// Document is the JSON shape of a workflow definition.
type Document struct {
	Name   string          `json:"name"   validate:"required,min=1"`
	Start  string          `json:"start"  validate:"required,min=1"`
	States []*models.State `json:"states" validate:"required,min=1,dive"`
}

// Load parses, validates, and compiles a JSON workflow document. Schema and
// struct validation catch malformed documents; graph compilation catches
// unsound ones (dangling transitions, exhaustible choices, spin cycles).
func Load(raw []byte) (*graph.Definition, error) {
	if err := validateSchema(raw); err != nil {
		return nil, err
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse workflow document: %w", err)
	}

	if err := validator.New().Struct(doc); err != nil {
		return nil, fmt.Errorf("invalid workflow document: %w", err)
	}

	return graph.Build(doc.Name, doc.States, doc.Start)
}

func validateSchema(raw []byte) error {
	schemaLoader := gojsonschema.NewStringLoader(documentSchema)
	documentLoader := gojsonschema.NewBytesLoader(raw)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("failed to validate workflow document: %w", err)
	}

	if !result.Valid() {
		var descriptions []string
		for _, desc := range result.Errors() {
			descriptions = append(descriptions, desc.String())
		}

		return fmt.Errorf("workflow document schema violations: %s", strings.Join(descriptions, "; "))
	}

	return nil
}

const documentSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["name", "start", "states"],
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"start": {"type": "string", "minLength": 1},
		"states": {
			"type": "array",
			"minItems": 1,
			"items": {"$ref": "#/definitions/state"}
		}
	},
	"definitions": {
		"state": {
			"type": "object",
			"required": ["name", "type"],
			"properties": {
				"name": {"type": "string", "minLength": 1},
				"type": {"enum": ["task", "wait", "choice", "parallel", "pass"]},
				"next": {"type": "string"},
				"task": {
					"type": "object",
					"required": ["adapter_kind", "mode"],
					"properties": {
						"adapter_kind": {"type": "string", "minLength": 1},
						"mode": {"enum": ["start", "poll", "invoke"]},
						"parameters": {"type": "object", "additionalProperties": {"type": "string"}},
						"result_mapping": {"type": "object", "additionalProperties": {"type": "string"}},
						"job_id_from": {"type": "string"},
						"on_failure": {"type": "string"}
					}
				},
				"wait": {
					"type": "object",
					"required": ["duration"],
					"properties": {"duration": {"type": "string"}}
				},
				"choice": {
					"type": "object",
					"properties": {
						"rules": {
							"type": "array",
							"items": {
								"type": "object",
								"required": ["variable", "next"],
								"properties": {
									"variable": {"type": "string"},
									"equals": {"type": "string"},
									"next": {"type": "string"}
								}
							}
						},
						"default_next": {"type": "string"}
					}
				},
				"parallel": {
					"type": "object",
					"required": ["branches"],
					"properties": {
						"branches": {
							"type": "array",
							"minItems": 1,
							"items": {
								"type": "object",
								"required": ["start", "states"],
								"properties": {
									"start": {"type": "string"},
									"states": {"type": "array", "items": {"$ref": "#/definitions/state"}}
								}
							}
						}
					}
				},
				"pass": {
					"type": "object",
					"properties": {
						"terminal": {"type": "boolean"},
						"failure": {"type": "boolean"}
					}
				}
			}
		}
	}
}`
