// Package tools defines the tool-invocation protocol between the engine
// and its tools: named handlers with JSON-schema arguments, validated and
// dispatched through a registry.
package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// Result is a tool's textual outcome. IsError marks failures that are fed
// back to the model as output rather than failing the turn.
type Result struct {
	Content string
	IsError bool
}

// Errorf builds an error result in the shape the model expects.
func Errorf(format string, args ...any) *Result {
	return &Result{Content: fmt.Sprintf(format, args...), IsError: true}
}

// Schema describes a tool's argument object.
type Schema struct {
	Properties map[string]any
	Required   []string
}

// Tool is one invokable capability. Execute receives already-validated raw
// JSON arguments and returns a textual result; it reports a Go error only
// for context cancellation or internal faults that should abort the turn.
type Tool interface {
	Name() string
	Description() string
	Schema() Schema
	Execute(ctx context.Context, args json.RawMessage) (*Result, error)
}

// SchemaFor reflects a Schema from an argument struct type using its json
// and jsonschema tags.
func SchemaFor[T any]() Schema {
	reflector := jsonschema.Reflector{
		DoNotReference:            true,
		AllowAdditionalProperties: true,
	}
	var zero T
	reflected := reflector.Reflect(&zero)

	// Round-trip through JSON to get plain maps for the wire format.
	data, err := json.Marshal(reflected)
	if err != nil {
		return Schema{Properties: map[string]any{}}
	}
	var full map[string]any
	if err := json.Unmarshal(data, &full); err != nil {
		return Schema{Properties: map[string]any{}}
	}

	schema := Schema{Properties: map[string]any{}}
	if props, ok := full["properties"].(map[string]any); ok {
		schema.Properties = props
	}
	if req, ok := full["required"].([]any); ok {
		for _, r := range req {
			if s, ok := r.(string); ok {
				schema.Required = append(schema.Required, s)
			}
		}
	}
	return schema
}

// ValidationDocument renders the schema as a complete JSON-schema object
// for compilation.
func (s Schema) ValidationDocument() ([]byte, error) {
	doc := map[string]any{
		"type":                 "object",
		"properties":           s.Properties,
		"additionalProperties": true,
	}
	if len(s.Required) > 0 {
		doc["required"] = s.Required
	}
	return json.Marshal(doc)
}
