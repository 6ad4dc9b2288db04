package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OllamaConfig configures the Ollama client.
type OllamaConfig struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// OllamaClient talks to a local Ollama server. Local models are treated as
// known-no-tool providers: tool calls always go through a prompt that asks
// for a bare {"tool": ..., "params": {...}} JSON object.
type OllamaClient struct {
	client  *http.Client
	baseURL string
	model   string
}

var _ Client = (*OllamaClient)(nil)

// NewOllamaClient creates a client for an Ollama server.
func NewOllamaClient(cfg OllamaConfig) *OllamaClient {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	model := cfg.Model
	if model == "" {
		model = "qwen2.5:7b"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &OllamaClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
		model:   model,
	}
}

// Name returns the provider identifier.
func (c *OllamaClient) Name() string { return "ollama" }

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  map[string]any  `json:"options,omitempty"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatResponse struct {
	Message    ollamaMessage `json:"message"`
	Done       bool          `json:"done"`
	DoneReason string        `json:"done_reason"`
}

// Chat performs one completion. With tools present, the request carries a
// bare-JSON tool instruction and the answer is parsed for a {"tool","params"}
// object; plain text stands as content.
func (c *OllamaClient) Chat(ctx context.Context, messages []Message, tools []ToolDef, opts Options) (*Response, error) {
	outbound := messages
	if len(tools) > 0 {
		outbound = withBareToolPreamble(messages, tools)
	}

	payload := ollamaChatRequest{
		Model:    c.resolveModel(opts),
		Messages: toOllamaMessages(outbound),
		Stream:   false,
	}
	if opts.MaxTokens > 0 {
		payload.Options = map[string]any{"num_predict": opts.MaxTokens}
	}

	body, err := c.post(ctx, payload)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	var chatResp ollamaChatResponse
	if err := json.NewDecoder(body).Decode(&chatResp); err != nil {
		return nil, &ClientError{Provider: c.Name(), Err: fmt.Errorf("decode response: %w", err)}
	}

	out := &Response{
		Content:      chatResp.Message.Content,
		FinishReason: chatResp.DoneReason,
	}
	if out.FinishReason == "" {
		out.FinishReason = "stop"
	}
	if len(tools) > 0 {
		if call := DecodeBareToolCall(chatResp.Message.Content); call != nil {
			out.ToolCalls = []ToolCall{*call}
			out.Content = ""
			out.FinishReason = "tool_calls"
		}
	}
	return out, nil
}

// Stream yields text chunks from Ollama's line-delimited JSON stream.
func (c *OllamaClient) Stream(ctx context.Context, messages []Message, opts Options) (<-chan string, error) {
	payload := ollamaChatRequest{
		Model:    c.resolveModel(opts),
		Messages: toOllamaMessages(messages),
		Stream:   true,
	}
	if opts.MaxTokens > 0 {
		payload.Options = map[string]any{"num_predict": opts.MaxTokens}
	}

	body, err := c.post(ctx, payload)
	if err != nil {
		return nil, err
	}

	chunks := make(chan string)
	go func() {
		defer close(chunks)
		defer body.Close()
		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var chunk ollamaChatResponse
			if err := json.Unmarshal(line, &chunk); err != nil {
				continue
			}
			if chunk.Message.Content != "" {
				select {
				case chunks <- chunk.Message.Content:
				case <-ctx.Done():
					return
				}
			}
			if chunk.Done {
				return
			}
		}
	}()
	return chunks, nil
}

func (c *OllamaClient) post(ctx context.Context, payload ollamaChatRequest) (io.ReadCloser, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &ClientError{Provider: c.Name(), Err: fmt.Errorf("marshal request: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, &ClientError{Provider: c.Name(), Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &ClientError{Provider: c.Name(), Err: err}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, &ClientError{
			Provider:   c.Name(),
			StatusCode: resp.StatusCode,
			Body:       string(errBody),
			Err:        errors.New("request failed"),
		}
	}
	return resp.Body, nil
}

func (c *OllamaClient) resolveModel(opts Options) string {
	if opts.Model != "" {
		return opts.Model
	}
	return c.model
}

func toOllamaMessages(messages []Message) []ollamaMessage {
	result := make([]ollamaMessage, 0, len(messages))
	for _, msg := range messages {
		role := msg.Role
		content := msg.Content
		// Tool observations go back as user turns; Ollama has no tool role
		// in this protocol.
		if role == RoleTool {
			role = RoleUser
			content = "工具执行结果：" + content
		}
		if content == "" {
			continue
		}
		result = append(result, ollamaMessage{Role: role, Content: content})
	}
	return result
}

// withBareToolPreamble prepends the bare-JSON tool instruction used for
// local models.
func withBareToolPreamble(messages []Message, tools []ToolDef) []Message {
	var b strings.Builder
	b.WriteString("你可以调用以下工具：\n")
	for _, t := range tools {
		params, _ := json.Marshal(t.Parameters)
		fmt.Fprintf(&b, "- %s: %s 参数: %s\n", t.Name, t.Description, params)
	}
	b.WriteString("\n需要调用工具时，只输出一个 JSON 对象：{\"tool\": \"工具名\", \"params\": {...}}\n")
	b.WriteString("不需要工具时直接用自然语言回答。")

	prompted := make([]Message, 0, len(messages)+1)
	prompted = append(prompted, Message{Role: RoleSystem, Content: b.String()})
	prompted = append(prompted, messages...)
	return prompted
}
