// Package tools defines the tool contract and the registry that offers
// validated, timeout-bounded execution over it.
package tools

import (
	"context"
	"encoding/json"
	"time"
)

// Parameter declares one named tool argument with its JSON-schema type
// and constraints.
type Parameter struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"` // string, integer, number, boolean, array, object
	Description string   `json:"description,omitempty"`
	Required    bool     `json:"required,omitempty"`
	Default     any      `json:"default,omitempty"`
	Enum        []string `json:"enum,omitempty"`

	// Bounds. Zero values mean "use the registry defaults".
	MaxLength int      `json:"max_length,omitempty"`
	MaxItems  int      `json:"max_items,omitempty"`
	Minimum   *float64 `json:"minimum,omitempty"`
	Maximum   *float64 `json:"maximum,omitempty"`
}

// Result is the uniform outcome of a tool execution. Failures are
// results, not errors: the supervisor feeds Observation back to the
// model either way.
type Result struct {
	Success     bool           `json:"success"`
	Data        map[string]any `json:"data,omitempty"`
	Observation string         `json:"observation"`
	Error       string         `json:"error,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Fail builds a failure result with the observation doubling as the
// error text.
func Fail(observation string) *Result {
	return &Result{Success: false, Observation: observation, Error: observation}
}

// NeedsConfirmation reports whether the result is a confirmation request
// rather than a final outcome. The sentinel lives in Metadata alongside
// the other execution envelope fields.
func (r *Result) NeedsConfirmation() bool {
	if r == nil || r.Metadata == nil {
		return false
	}
	v, ok := r.Metadata["needs_confirmation"].(bool)
	return ok && v
}

// Tool is a callable capability exposed to the agent loop.
type Tool interface {
	Name() string
	Description() string
	Parameters() []Parameter
	Execute(ctx context.Context, args map[string]any) (*Result, error)
}

// Schema renders a tool in the function-calling shape providers expect:
// name, description, and an object schema of its parameters.
func Schema(t Tool) json.RawMessage {
	properties := make(map[string]any)
	var required []string
	for _, p := range t.Parameters() {
		prop := map[string]any{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"name":        t.Name(),
		"description": t.Description(),
		"parameters": map[string]any{
			"type":       "object",
			"properties": properties,
		},
	}
	if len(required) > 0 {
		schema["parameters"].(map[string]any)["required"] = required
	}
	data, _ := json.Marshal(schema)
	return data
}

// stamp adds the duration and timestamp metadata every execution path
// must carry.
func stamp(r *Result, started time.Time) *Result {
	if r == nil {
		r = Fail("tool returned no result")
	}
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata["duration"] = time.Since(started).Seconds()
	r.Metadata["timestamp"] = time.Now().Format(time.RFC3339)
	return r
}
