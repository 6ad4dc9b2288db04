package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicConfig configures the Anthropic client.
type AnthropicConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	MaxTokens int
	Logger    *slog.Logger
}

// AnthropicClient is the native tool-calling adapter for Claude models.
type AnthropicClient struct {
	client    anthropic.Client
	model     string
	maxTokens int
	logger    *slog.Logger
}

var _ Client = (*AnthropicClient)(nil)

// NewAnthropicClient creates a client for the Anthropic API.
func NewAnthropicClient(cfg AnthropicConfig) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	options := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		options = append(options, option.WithBaseURL(cfg.BaseURL))
	}
	model := cfg.Model
	if model == "" {
		model = "claude-sonnet-4-20250514"
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AnthropicClient{
		client:    anthropic.NewClient(options...),
		model:     model,
		maxTokens: maxTokens,
		logger:    logger,
	}, nil
}

// Name returns the provider identifier.
func (c *AnthropicClient) Name() string { return "anthropic" }

// Chat performs one completion with native tool use.
func (c *AnthropicClient) Chat(ctx context.Context, messages []Message, tools []ToolDef, opts Options) (*Response, error) {
	params, err := c.buildParams(messages, opts)
	if err != nil {
		return nil, err
	}
	if len(tools) > 0 {
		converted, err := toAnthropicTools(tools)
		if err != nil {
			return nil, &ClientError{Provider: c.Name(), Err: err}
		}
		params.Tools = converted
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, &ClientError{Provider: c.Name(), Err: err}
	}

	out := &Response{FinishReason: string(msg.StopReason)}
	var text strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.AsText().Text)
		case "tool_use":
			toolUse := block.AsToolUse()
			var args map[string]any
			if len(toolUse.Input) > 0 {
				if err := json.Unmarshal(toolUse.Input, &args); err != nil {
					c.logger.Warn("skipping malformed tool call", "tool", toolUse.Name, "error", err)
					continue
				}
			}
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:        toolUse.ID,
				Name:      toolUse.Name,
				Arguments: args,
			})
		}
	}
	out.Content = text.String()
	return out, nil
}

// Stream sends a streaming request and yields text deltas.
func (c *AnthropicClient) Stream(ctx context.Context, messages []Message, opts Options) (<-chan string, error) {
	params, err := c.buildParams(messages, opts)
	if err != nil {
		return nil, err
	}

	stream := c.client.Messages.NewStreaming(ctx, params)
	chunks := make(chan string)
	go func() {
		defer close(chunks)
		defer stream.Close()
		for stream.Next() {
			event := stream.Current()
			if event.Type != "content_block_delta" {
				continue
			}
			delta := event.AsContentBlockDelta().Delta
			if delta.Type != "text_delta" || delta.Text == "" {
				continue
			}
			select {
			case chunks <- delta.Text:
			case <-ctx.Done():
				return
			}
		}
	}()
	return chunks, nil
}

func (c *AnthropicClient) buildParams(messages []Message, opts Options) (anthropic.MessageNewParams, error) {
	model := opts.Model
	if model == "" {
		model = c.model
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.maxTokens
	}

	converted, system, err := toAnthropicMessages(messages)
	if err != nil {
		return anthropic.MessageNewParams{}, &ClientError{Provider: c.Name(), Err: err}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  converted,
		MaxTokens: int64(maxTokens),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Type: "text", Text: system}}
	}
	return params, nil
}

// toAnthropicMessages converts to the Anthropic content-block format. System
// messages are lifted out since the API takes them separately; tool-role
// messages become user messages carrying tool_result blocks.
func toAnthropicMessages(messages []Message) ([]anthropic.MessageParam, string, error) {
	var system strings.Builder
	result := make([]anthropic.MessageParam, 0, len(messages))

	for _, msg := range messages {
		if msg.Role == RoleSystem {
			if system.Len() > 0 {
				system.WriteString("\n\n")
			}
			system.WriteString(msg.Content)
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		if msg.Role == RoleTool {
			content = append(content, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
		} else if msg.Content != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, tc := range msg.ToolCalls {
			input := map[string]any{}
			for k, v := range tc.Arguments {
				input[k] = v
			}
			content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
		}
		if len(content) == 0 {
			continue
		}

		if msg.Role == RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}
	return result, system.String(), nil
}

func toAnthropicTools(tools []ToolDef) ([]anthropic.ToolUnionParam, error) {
	result := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		raw, err := json.Marshal(t.Parameters)
		if err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", t.Name, err)
		}
		var schema anthropic.ToolInputSchemaParam
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("invalid tool schema for %s: %w", t.Name, err)
		}
		param := anthropic.ToolUnionParamOfTool(schema, t.Name)
		if param.OfTool == nil {
			return nil, fmt.Errorf("invalid tool schema for %s: missing tool definition", t.Name)
		}
		param.OfTool.Description = anthropic.String(t.Description)
		result = append(result, param)
	}
	return result, nil
}
