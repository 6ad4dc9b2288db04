// Package llm exposes a single capability, chat with optional tools, across
// heterogeneous model providers. Providers that accept tool schemas natively
// get them on the wire; providers that reject them are driven through a
// prompt-engineered codec instead.
package llm

import (
	"context"
	"fmt"
)

// Role constants for chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message is a single turn in a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`

	// ToolCallID links a tool-role message back to the call it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`

	// ToolCalls carries the calls an assistant message requested.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a request from the model to execute a tool.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolDef describes a callable tool in provider-neutral form. Parameters is a
// JSON Schema object ({"type":"object","properties":...,"required":...}).
type ToolDef struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Response is the normalized result of a chat call.
type Response struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
}

// Options tunes a single chat call. Zero values defer to client defaults.
type Options struct {
	Model       string
	Temperature float32
	MaxTokens   int
}

// Client is the uniform provider contract. Chat performs one completion;
// Stream yields text chunks and is cancelled by the caller via ctx.
type Client interface {
	Name() string
	Chat(ctx context.Context, messages []Message, tools []ToolDef, opts Options) (*Response, error)
	Stream(ctx context.Context, messages []Message, opts Options) (<-chan string, error)
}

// ClientError carries the HTTP status and body of a failed provider call.
type ClientError struct {
	Provider   string
	StatusCode int
	Body       string
	Err        error
}

func (e *ClientError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *ClientError) Unwrap() error { return e.Err }
