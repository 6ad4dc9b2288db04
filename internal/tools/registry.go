package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Execution limits.
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// DefaultTimeout bounds a single tool execution.
	DefaultTimeout = 30 * time.Second
)

// Registry manages available tools with thread-safe registration and
// lookup, and runs them through the validation/timeout pipeline.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]Tool),
		logger: logger,
	}
}

// Register adds a tool by name. Replacing an existing tool succeeds with
// a warning. A tool whose generated schema is not valid JSON Schema is
// rejected.
func (r *Registry) Register(tool Tool) error {
	name := tool.Name()
	if name == "" || len(name) > MaxToolNameLength {
		return fmt.Errorf("invalid tool name %q", name)
	}
	if err := compileSchema(tool); err != nil {
		return fmt.Errorf("tool %q declares an invalid schema: %w", name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		r.logger.Warn("replacing registered tool", "tool", name)
	}
	r.tools[name] = tool
	return nil
}

// compileSchema verifies the parameters object compiles as JSON Schema.
func compileSchema(tool Tool) error {
	var wrapper struct {
		Parameters json.RawMessage `json:"parameters"`
	}
	if err := json.Unmarshal(Schema(tool), &wrapper); err != nil {
		return err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("tool.json", bytes.NewReader(wrapper.Parameters)); err != nil {
		return err
	}
	_, err := c.Compile("tool.json")
	return err
}

// Unregister removes a tool by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns a tool by name and whether it was found.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Has reports whether the tool is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// List returns all tools sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Names returns the sorted tool names.
func (r *Registry) Names() []string {
	list := r.List()
	names := make([]string, len(list))
	for i, t := range list {
		names[i] = t.Name()
	}
	return names
}

// Schemas returns the function-calling schemas of all tools.
func (r *Registry) Schemas() []json.RawMessage {
	list := r.List()
	out := make([]json.RawMessage, len(list))
	for i, t := range list {
		out[i] = Schema(t)
	}
	return out
}

// Execute runs a tool by name. Unknown names, validation failures,
// timeouts, and panics all come back as failure results, never as
// errors: the agent loop reports them to the model as observations.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]any, timeout time.Duration) *Result {
	tool, ok := r.Get(name)
	if !ok {
		return stamp(Fail("未知工具: "+name), time.Now())
	}
	return r.executeSafe(ctx, tool, args, timeout)
}

func (r *Registry) executeSafe(ctx context.Context, tool Tool, args map[string]any, timeout time.Duration) *Result {
	started := time.Now()

	validated, err := validateArgs(tool.Parameters(), args)
	if err != nil {
		return stamp(&Result{
			Success:     false,
			Observation: fmt.Sprintf("参数校验失败: %v", err),
			Error:       err.Error(),
		}, started)
	}

	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		result *Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", rec)}
			}
		}()
		res, err := tool.Execute(execCtx, validated)
		done <- outcome{result: res, err: err}
	}()

	select {
	case <-execCtx.Done():
		secs := int(timeout.Seconds())
		r.logger.Warn("tool timed out", "tool", tool.Name(), "timeout", timeout)
		return stamp(&Result{
			Success:     false,
			Observation: fmt.Sprintf("工具 %s 执行超时", tool.Name()),
			Error:       fmt.Sprintf("Timeout after %ds", secs),
		}, started)
	case o := <-done:
		if o.err != nil {
			res := &Result{
				Success:     false,
				Observation: fmt.Sprintf("工具 %s 执行失败: %v", tool.Name(), o.err),
				Error:       o.err.Error(),
				Metadata:    map[string]any{"exception_type": fmt.Sprintf("%T", o.err)},
			}
			return stamp(res, started)
		}
		return stamp(o.result, started)
	}
}
