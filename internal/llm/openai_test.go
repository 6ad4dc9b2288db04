package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"
)

func newTestOpenAIClient(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := NewOpenAIClient(OpenAIConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL + "/v1",
		Model:   "test-model",
	})
	if err != nil {
		t.Fatalf("NewOpenAIClient: %v", err)
	}
	return client
}

func completionJSON(content string, toolCalls []map[string]any, finish string) map[string]any {
	message := map[string]any{"role": "assistant", "content": content}
	if len(toolCalls) > 0 {
		message["tool_calls"] = toolCalls
	}
	return map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"model":   "test-model",
		"choices": []map[string]any{{"index": 0, "message": message, "finish_reason": finish}},
	}
}

func TestOpenAIChatText(t *testing.T) {
	client := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(completionJSON("你好！", nil, "stop"))
	})

	resp, err := client.Chat(context.Background(), []Message{{Role: RoleUser, Content: "你好"}}, nil, Options{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "你好！" {
		t.Errorf("content = %q", resp.Content)
	}
	if resp.FinishReason != "stop" {
		t.Errorf("finish = %q", resp.FinishReason)
	}
}

func TestOpenAIChatNativeToolCall(t *testing.T) {
	client := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req openai.ChatCompletionRequest
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Tools) != 1 || req.Tools[0].Function.Name != "create_task" {
			t.Errorf("tools not sent natively: %+v", req.Tools)
		}
		json.NewEncoder(w).Encode(completionJSON("", []map[string]any{{
			"id":   "call_abc",
			"type": "function",
			"function": map[string]any{
				"name":      "create_task",
				"arguments": `{"title": "买牛奶"}`,
			},
		}}, "tool_calls"))
	})

	tools := []ToolDef{{Name: "create_task", Description: "创建任务", Parameters: map[string]any{
		"type": "object", "properties": map[string]any{"title": map[string]any{"type": "string"}},
	}}}
	resp, err := client.Chat(context.Background(), []Message{{Role: RoleUser, Content: "提醒我买牛奶"}}, tools, Options{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("tool calls = %+v", resp.ToolCalls)
	}
	call := resp.ToolCalls[0]
	if call.ID != "call_abc" || call.Name != "create_task" || call.Arguments["title"] != "买牛奶" {
		t.Errorf("call = %+v", call)
	}
	if resp.FinishReason != "tool_calls" {
		t.Errorf("finish = %q", resp.FinishReason)
	}
}

func TestOpenAIChatDowngradesOnBadRequest(t *testing.T) {
	var requests int
	client := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests++
		var req openai.ChatCompletionRequest
		json.NewDecoder(r.Body).Decode(&req)
		if len(req.Tools) > 0 {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]any{
				"error": map[string]any{"message": "tools is not supported", "type": "invalid_request_error"},
			})
			return
		}
		json.NewEncoder(w).Encode(completionJSON(
			`<tool_call>{"name": "list_tasks", "arguments": {}}</tool_call>`, nil, "stop"))
	})

	tools := []ToolDef{{Name: "list_tasks", Description: "查看任务"}}
	resp, err := client.Chat(context.Background(), []Message{{Role: RoleUser, Content: "看看任务"}}, tools, Options{})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if requests != 2 {
		t.Errorf("requests = %d, want native attempt then prompted retry", requests)
	}
	if len(resp.ToolCalls) != 1 || resp.ToolCalls[0].Name != "list_tasks" {
		t.Errorf("tool calls = %+v", resp.ToolCalls)
	}
	if resp.FinishReason != "tool_calls" {
		t.Errorf("finish = %q", resp.FinishReason)
	}

	// The downgrade sticks for the session: no further native attempts.
	requests = 0
	if _, err := client.Chat(context.Background(), []Message{{Role: RoleUser, Content: "再看看"}}, tools, Options{}); err != nil {
		t.Fatalf("Chat after downgrade: %v", err)
	}
	if requests != 1 {
		t.Errorf("requests after downgrade = %d, want 1", requests)
	}
}

func TestOpenAIChatErrorCarriesStatus(t *testing.T) {
	client := newTestOpenAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"message": "boom", "type": "server_error"},
		})
	})

	_, err := client.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}}, nil, Options{})
	if err == nil {
		t.Fatal("expected error")
	}
	var clientErr *ClientError
	if !errors.As(err, &clientErr) {
		t.Fatalf("error type = %T", err)
	}
	if clientErr.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d", clientErr.StatusCode)
	}
}

func TestIsToolsRejected(t *testing.T) {
	if !isToolsRejected(&openai.APIError{HTTPStatusCode: 400}) {
		t.Error("400 API error should trigger the downgrade")
	}
	if isToolsRejected(&openai.APIError{HTTPStatusCode: 429}) {
		t.Error("429 must not trigger the downgrade")
	}
	if isToolsRejected(nil) {
		t.Error("nil error must not trigger the downgrade")
	}
}

func TestToOpenAIMessagesToolRole(t *testing.T) {
	msgs := toOpenAIMessages([]Message{
		{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "call_1", Name: "list_tasks", Arguments: map[string]any{}}}},
		{Role: RoleTool, ToolCallID: "call_1", Content: "当前没有任务"},
	})
	if len(msgs) != 2 {
		t.Fatalf("len = %d", len(msgs))
	}
	if len(msgs[0].ToolCalls) != 1 || msgs[0].ToolCalls[0].Function.Name != "list_tasks" {
		t.Errorf("assistant message = %+v", msgs[0])
	}
	if msgs[1].Role != "tool" || msgs[1].ToolCallID != "call_1" {
		t.Errorf("tool message = %+v", msgs[1])
	}
}
