package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

// stubTool is a configurable test tool.
type stubTool struct {
	name   string
	params []Parameter
	run    func(ctx context.Context, args map[string]any) (*Result, error)
}

func (s *stubTool) Name() string            { return s.name }
func (s *stubTool) Description() string     { return "test tool" }
func (s *stubTool) Parameters() []Parameter { return s.params }
func (s *stubTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	if s.run != nil {
		return s.run(ctx, args)
	}
	return &Result{Success: true, Observation: "ok"}, nil
}

func floatPtr(f float64) *float64 { return &f }

func TestRegisterAndLookup(t *testing.T) {
	r := NewRegistry(nil)
	if err := r.Register(&stubTool{name: "echo"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !r.Has("echo") {
		t.Error("Has(echo) = false")
	}
	if _, ok := r.Get("missing"); ok {
		t.Error("Get(missing) found something")
	}
	if names := r.Names(); len(names) != 1 || names[0] != "echo" {
		t.Errorf("Names = %v", names)
	}
}

func TestRegisterReplacementSucceeds(t *testing.T) {
	r := NewRegistry(nil)
	first := &stubTool{name: "dup"}
	second := &stubTool{name: "dup"}
	if err := r.Register(first); err != nil {
		t.Fatalf("Register first: %v", err)
	}
	if err := r.Register(second); err != nil {
		t.Fatalf("Register replacement: %v", err)
	}
	got, _ := r.Get("dup")
	if got != Tool(second) {
		t.Error("replacement did not take effect")
	}
}

func TestExecuteUnknownToolIsFailureResult(t *testing.T) {
	r := NewRegistry(nil)
	res := r.Execute(context.Background(), "ghost", nil, 0)
	if res.Success {
		t.Error("unknown tool should fail")
	}
	if res.Metadata["timestamp"] == nil || res.Metadata["duration"] == nil {
		t.Error("failure result missing metadata stamps")
	}
}

func TestValidationRequiredAndDefaults(t *testing.T) {
	var seen map[string]any
	tool := &stubTool{
		name: "t",
		params: []Parameter{
			{Name: "q", Type: "string", Required: true},
			{Name: "n", Type: "integer", Default: float64(5)},
		},
		run: func(ctx context.Context, args map[string]any) (*Result, error) {
			seen = args
			return &Result{Success: true, Observation: "ok"}, nil
		},
	}
	r := NewRegistry(nil)
	if err := r.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}

	res := r.Execute(context.Background(), "t", map[string]any{}, 0)
	if res.Success {
		t.Error("missing required parameter should fail")
	}
	if !strings.Contains(res.Error, "q") {
		t.Errorf("error should name the field: %q", res.Error)
	}

	res = r.Execute(context.Background(), "t", map[string]any{"q": "hello"}, 0)
	if !res.Success {
		t.Fatalf("execute failed: %+v", res)
	}
	if seen["n"] != float64(5) {
		t.Errorf("default not applied, n = %v", seen["n"])
	}
}

func TestValidationDropsUndeclaredArgs(t *testing.T) {
	var seen map[string]any
	tool := &stubTool{
		name:   "t",
		params: []Parameter{{Name: "q", Type: "string"}},
		run: func(ctx context.Context, args map[string]any) (*Result, error) {
			seen = args
			return &Result{Success: true, Observation: "ok"}, nil
		},
	}
	r := NewRegistry(nil)
	if err := r.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}

	res := r.Execute(context.Background(), "t", map[string]any{"q": "hello", "extra": "smuggled"}, 0)
	if !res.Success {
		t.Fatalf("execute failed: %+v", res)
	}
	if _, leaked := seen["extra"]; leaked {
		t.Error("undeclared argument reached the tool")
	}
	if seen["q"] != "hello" {
		t.Errorf("declared argument lost, q = %v", seen["q"])
	}

	// A tool with no parameters receives an empty map no matter what
	// the caller sends.
	bare := &stubTool{
		name: "bare",
		run: func(ctx context.Context, args map[string]any) (*Result, error) {
			seen = args
			return &Result{Success: true, Observation: "ok"}, nil
		},
	}
	if err := r.Register(bare); err != nil {
		t.Fatalf("Register: %v", err)
	}
	res = r.Execute(context.Background(), "bare", map[string]any{"sneaky": "extra"}, 0)
	if !res.Success {
		t.Fatalf("execute failed: %+v", res)
	}
	if len(seen) != 0 {
		t.Errorf("parameterless tool received args: %v", seen)
	}
}

func TestValidationTypeChecks(t *testing.T) {
	tool := &stubTool{
		name: "t",
		params: []Parameter{
			{Name: "n", Type: "integer"},
			{Name: "flag", Type: "boolean"},
			{Name: "mode", Type: "string", Enum: []string{"fast", "slow"}},
			{Name: "score", Type: "number", Minimum: floatPtr(0), Maximum: floatPtr(1)},
			{Name: "items", Type: "array", MaxItems: 2},
		},
	}
	r := NewRegistry(nil)
	if err := r.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}

	tests := []struct {
		name string
		args map[string]any
		ok   bool
	}{
		{"integer rejects boolean", map[string]any{"n": true}, false},
		{"integer rejects fraction", map[string]any{"n": 1.5}, false},
		{"integer accepts whole float", map[string]any{"n": float64(3)}, true},
		{"integer cap", map[string]any{"n": float64(2_000_000_000)}, false},
		{"boolean rejects string", map[string]any{"flag": "yes"}, false},
		{"enum member", map[string]any{"mode": "fast"}, true},
		{"enum violation", map[string]any{"mode": "medium"}, false},
		{"number below minimum", map[string]any{"score": -0.1}, false},
		{"number above maximum", map[string]any{"score": 1.1}, false},
		{"array over limit", map[string]any{"items": []any{1, 2, 3}}, false},
		{"array within limit", map[string]any{"items": []any{1, 2}}, true},
	}
	for _, tt := range tests {
		res := r.Execute(context.Background(), "t", tt.args, 0)
		if res.Success != tt.ok {
			t.Errorf("%s: success = %v, want %v (%s)", tt.name, res.Success, tt.ok, res.Error)
		}
	}
}

func TestValidationStringLengthCap(t *testing.T) {
	tool := &stubTool{name: "t", params: []Parameter{{Name: "s", Type: "string"}}}
	r := NewRegistry(nil)
	if err := r.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}
	long := strings.Repeat("x", DefaultMaxStringLength+1)
	res := r.Execute(context.Background(), "t", map[string]any{"s": long}, 0)
	if res.Success {
		t.Error("over-length string should fail validation")
	}
}

func TestExecuteTimeout(t *testing.T) {
	tool := &stubTool{
		name: "slow",
		run: func(ctx context.Context, args map[string]any) (*Result, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return &Result{Success: true}, nil
			}
		},
	}
	r := NewRegistry(nil)
	if err := r.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}

	start := time.Now()
	res := r.Execute(context.Background(), "slow", nil, 50*time.Millisecond)
	if res.Success {
		t.Error("timed-out execution should fail")
	}
	if !strings.HasPrefix(res.Error, "Timeout after") {
		t.Errorf("error = %q", res.Error)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("timeout did not bound execution")
	}
}

func TestExecuteErrorBecomesResult(t *testing.T) {
	tool := &stubTool{
		name: "bad",
		run: func(ctx context.Context, args map[string]any) (*Result, error) {
			return nil, errors.New("backend unreachable")
		},
	}
	r := NewRegistry(nil)
	if err := r.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}
	res := r.Execute(context.Background(), "bad", nil, 0)
	if res.Success {
		t.Error("error should become a failure result")
	}
	if res.Metadata["exception_type"] == nil {
		t.Error("exception_type metadata missing")
	}
}

func TestExecutePanicRecovered(t *testing.T) {
	tool := &stubTool{
		name: "panicky",
		run: func(ctx context.Context, args map[string]any) (*Result, error) {
			panic("boom")
		},
	}
	r := NewRegistry(nil)
	if err := r.Register(tool); err != nil {
		t.Fatalf("Register: %v", err)
	}
	res := r.Execute(context.Background(), "panicky", nil, 0)
	if res.Success {
		t.Error("panic should become a failure result")
	}
	if !strings.Contains(res.Error, "boom") {
		t.Errorf("error = %q", res.Error)
	}
}

func TestNeedsConfirmationReadsMetadata(t *testing.T) {
	r := &Result{Success: true, Metadata: map[string]any{"needs_confirmation": true}}
	if !r.NeedsConfirmation() {
		t.Error("metadata sentinel not honored")
	}
	// Data is tool payload, not the execution envelope.
	r = &Result{Success: true, Data: map[string]any{"needs_confirmation": true}}
	if r.NeedsConfirmation() {
		t.Error("sentinel in data should not trigger confirmation")
	}
	if (&Result{}).NeedsConfirmation() {
		t.Error("empty result should not need confirmation")
	}
}

func TestSchemaShape(t *testing.T) {
	tool := &stubTool{
		name: "create_task",
		params: []Parameter{
			{Name: "title", Type: "string", Required: true, Description: "task title"},
			{Name: "priority", Type: "string", Enum: []string{"high", "medium", "low"}},
		},
	}
	raw := Schema(tool)

	var decoded struct {
		Name       string `json:"name"`
		Parameters struct {
			Type       string                    `json:"type"`
			Properties map[string]map[string]any `json:"properties"`
			Required   []string                  `json:"required"`
		} `json:"parameters"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("schema not valid JSON: %v", err)
	}
	if decoded.Name != "create_task" || decoded.Parameters.Type != "object" {
		t.Errorf("schema = %s", raw)
	}
	if decoded.Parameters.Properties["title"]["type"] != "string" {
		t.Errorf("title property = %v", decoded.Parameters.Properties["title"])
	}
	if len(decoded.Parameters.Required) != 1 || decoded.Parameters.Required[0] != "title" {
		t.Errorf("required = %v", decoded.Parameters.Required)
	}
}
