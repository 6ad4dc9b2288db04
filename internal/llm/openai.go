package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures the OpenAI-compatible client. BaseURL makes it
// usable against any endpoint speaking the chat-completions protocol.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
	MaxTokens   int
	Logger      *slog.Logger
}

// OpenAIClient speaks the chat-completions protocol with native tool calling.
// When the endpoint rejects a tools-bearing request with HTTP 400, the client
// downgrades to the prompt-engineered codec for the rest of the session.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	logger      *slog.Logger

	mu         sync.Mutex
	promptMode bool
}

var _ Client = (*OpenAIClient)(nil)

// NewOpenAIClient creates a client for an OpenAI-compatible endpoint.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	}
	model := cfg.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIClient{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       model,
		temperature: cfg.Temperature,
		maxTokens:   maxTokens,
		logger:      logger,
	}, nil
}

// Name returns the provider identifier.
func (c *OpenAIClient) Name() string { return "openai" }

// Chat performs one completion. Tool schemas go on the wire natively unless
// the session has been downgraded to the prompt-engineered path.
func (c *OpenAIClient) Chat(ctx context.Context, messages []Message, tools []ToolDef, opts Options) (*Response, error) {
	c.mu.Lock()
	promptMode := c.promptMode
	c.mu.Unlock()

	if len(tools) == 0 {
		return c.chatNative(ctx, messages, nil, opts)
	}
	if promptMode {
		return c.chatPrompted(ctx, messages, tools, opts)
	}

	resp, err := c.chatNative(ctx, messages, tools, opts)
	if err != nil && isToolsRejected(err) {
		c.mu.Lock()
		c.promptMode = true
		c.mu.Unlock()
		c.logger.Warn("provider rejected tool schemas, switching to prompt-engineered tool calls",
			"provider", c.Name(), "model", c.resolveModel(opts))
		return c.chatPrompted(ctx, messages, tools, opts)
	}
	return resp, err
}

func (c *OpenAIClient) chatNative(ctx context.Context, messages []Message, tools []ToolDef, opts Options) (*Response, error) {
	req := c.buildRequest(messages, opts)
	if len(tools) > 0 {
		req.Tools = toOpenAITools(tools)
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, wrapOpenAIError(c.Name(), err)
	}
	if len(resp.Choices) == 0 {
		return nil, &ClientError{Provider: c.Name(), Err: errors.New("empty choices in response")}
	}

	choice := resp.Choices[0]
	out := &Response{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
	}
	for _, tc := range choice.Message.ToolCalls {
		call, err := fromOpenAIToolCall(tc)
		if err != nil {
			c.logger.Warn("skipping malformed tool call", "tool", tc.Function.Name, "error", err)
			continue
		}
		out.ToolCalls = append(out.ToolCalls, call)
	}
	return out, nil
}

func (c *OpenAIClient) chatPrompted(ctx context.Context, messages []Message, tools []ToolDef, opts Options) (*Response, error) {
	prompted := withToolPreamble(messages, tools)
	resp, err := c.chatNative(ctx, prompted, nil, opts)
	if err != nil {
		return nil, err
	}
	content, calls := DecodeToolCalls(resp.Content)
	resp.Content = content
	resp.ToolCalls = calls
	if len(calls) > 0 {
		resp.FinishReason = "tool_calls"
	}
	return resp, nil
}

// Stream sends a streaming request and yields text chunks until the stream
// ends or ctx is cancelled.
func (c *OpenAIClient) Stream(ctx context.Context, messages []Message, opts Options) (<-chan string, error) {
	req := c.buildRequest(messages, opts)
	req.Stream = true

	stream, err := c.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, wrapOpenAIError(c.Name(), err)
	}

	chunks := make(chan string)
	go func() {
		defer close(chunks)
		defer stream.Close()
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			text := resp.Choices[0].Delta.Content
			if text == "" {
				continue
			}
			select {
			case chunks <- text:
			case <-ctx.Done():
				return
			}
		}
	}()
	return chunks, nil
}

func (c *OpenAIClient) buildRequest(messages []Message, opts Options) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:    c.resolveModel(opts),
		Messages: toOpenAIMessages(messages),
	}
	if opts.Temperature > 0 {
		req.Temperature = opts.Temperature
	} else if c.temperature > 0 {
		req.Temperature = c.temperature
	}
	if opts.MaxTokens > 0 {
		req.MaxTokens = opts.MaxTokens
	} else {
		req.MaxTokens = c.maxTokens
	}
	return req
}

func (c *OpenAIClient) resolveModel(opts Options) string {
	if opts.Model != "" {
		return opts.Model
	}
	return c.model
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, msg := range messages {
		m := openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
		if msg.Role == RoleTool {
			m.ToolCallID = msg.ToolCallID
		}
		for _, tc := range msg.ToolCalls {
			args, err := json.Marshal(tc.Arguments)
			if err != nil {
				args = []byte("{}")
			}
			m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: string(args),
				},
			})
		}
		result = append(result, m)
	}
	return result
}

func toOpenAITools(tools []ToolDef) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, t := range tools {
		params := t.Parameters
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  params,
			},
		}
	}
	return result
}

func fromOpenAIToolCall(tc openai.ToolCall) (ToolCall, error) {
	call := ToolCall{ID: tc.ID, Name: tc.Function.Name}
	if call.ID == "" {
		call.ID = newCallID()
	}
	if args := strings.TrimSpace(tc.Function.Arguments); args != "" {
		if err := json.Unmarshal([]byte(args), &call.Arguments); err != nil {
			return ToolCall{}, fmt.Errorf("invalid tool arguments: %w", err)
		}
	}
	return call, nil
}

// withToolPreamble prepends the tool-catalog system prompt, keeping any
// existing system messages after it.
func withToolPreamble(messages []Message, tools []ToolDef) []Message {
	prompted := make([]Message, 0, len(messages)+1)
	prompted = append(prompted, Message{Role: RoleSystem, Content: EncodeToolPrompt(tools)})
	prompted = append(prompted, messages...)
	return prompted
}

// isToolsRejected reports whether the provider refused the request because of
// the tools field. A 400 on a tools-bearing request is the observable signal.
func isToolsRejected(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusBadRequest
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusBadRequest
	}
	return false
}

func wrapOpenAIError(provider string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ClientError{
			Provider:   provider,
			StatusCode: apiErr.HTTPStatusCode,
			Body:       apiErr.Message,
			Err:        err,
		}
	}
	return &ClientError{Provider: provider, Err: err}
}
