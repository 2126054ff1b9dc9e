package models

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// workflowSchema is the structural JSON Schema applied to workflow definitions
// submitted through the admin surface, before decoding into Workflow. Graph
// semantics (acyclicity, unique trigger) are checked by Workflow.Validate.
var workflowSchema = map[string]any{
	"type":     "object",
	"required": []any{"name", "nodes"},
	"properties": map[string]any{
		"name":        map[string]any{"type": "string", "minLength": 3},
		"description": map[string]any{"type": "string"},
		"nodes": map[string]any{
			"type":     "array",
			"minItems": 1,
			"items": map[string]any{
				"type":     "object",
				"required": []any{"id", "kind"},
				"properties": map[string]any{
					"id":   map[string]any{"type": "string", "minLength": 1},
					"kind": map[string]any{"type": "string", "enum": []any{"trigger", "condition", "action", "delay"}},
				},
			},
		},
		"edges": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"source", "target"},
				"properties": map[string]any{
					"source": map[string]any{"type": "string", "minLength": 1},
					"target": map[string]any{"type": "string", "minLength": 1},
					"branch": map[string]any{"type": "string"},
				},
			},
		},
	},
}

// ValidateWorkflowDocument validates a raw workflow document against the
// workflow JSON schema.
func ValidateWorkflowDocument(document map[string]any) error {
	schemaLoader := gojsonschema.NewGoLoader(workflowSchema)
	dataLoader := gojsonschema.NewGoLoader(document)

	result, err := gojsonschema.Validate(schemaLoader, dataLoader)
	if err != nil {
		return err
	}

	if !result.Valid() {
		var details []string
		for _, desc := range result.Errors() {
			details = append(details, desc.String())
		}

		return fmt.Errorf("%w: %s", ErrInvalidWorkflow, strings.Join(details, "; "))
	}

	return nil
}
