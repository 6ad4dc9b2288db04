package llm

import (
	"strings"
	"testing"
)

func TestDecodeToolCallsPlainText(t *testing.T) {
	content, calls := DecodeToolCalls("今天天气不错，适合散步。")
	if content != "今天天气不错，适合散步。" {
		t.Errorf("content = %q", content)
	}
	if len(calls) != 0 {
		t.Errorf("expected no calls, got %d", len(calls))
	}
}

func TestDecodeToolCallsSingle(t *testing.T) {
	text := `好的，我来帮你创建任务。<tool_call>{"name": "create_task", "arguments": {"title": "买牛奶"}}</tool_call>`
	content, calls := DecodeToolCalls(text)
	if content != "好的，我来帮你创建任务。" {
		t.Errorf("content = %q", content)
	}
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Name != "create_task" {
		t.Errorf("name = %q", calls[0].Name)
	}
	if calls[0].Arguments["title"] != "买牛奶" {
		t.Errorf("arguments = %v", calls[0].Arguments)
	}
	if !strings.HasPrefix(calls[0].ID, "call_") {
		t.Errorf("id = %q, want call_ prefix", calls[0].ID)
	}
}

func TestDecodeToolCallsProsePreservedAroundBlock(t *testing.T) {
	text := "先查一下。\n<tool_call>{\"name\": \"search_memory\", \"arguments\": {\"query\": \"会议\"}}</tool_call>\n稍等。"
	content, calls := DecodeToolCalls(text)
	if !strings.Contains(content, "先查一下。") || !strings.Contains(content, "稍等。") {
		t.Errorf("prose not preserved: %q", content)
	}
	if strings.Contains(content, "tool_call") {
		t.Errorf("block leaked into content: %q", content)
	}
	if len(calls) != 1 || calls[0].Name != "search_memory" {
		t.Errorf("calls = %+v", calls)
	}
}

func TestDecodeToolCallsMultiple(t *testing.T) {
	text := `<tool_call>{"name": "list_tasks", "arguments": {}}</tool_call>` +
		`<tool_call>{"name": "search_memory", "arguments": {"query": "周报"}}</tool_call>`
	_, calls := DecodeToolCalls(text)
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[0].Name != "list_tasks" || calls[1].Name != "search_memory" {
		t.Errorf("calls = %+v", calls)
	}
	if calls[0].ID == calls[1].ID {
		t.Errorf("ids should differ: %q", calls[0].ID)
	}
}

func TestDecodeToolCallsMalformedBlockDropped(t *testing.T) {
	text := `<tool_call>{not json}</tool_call> 好的`
	content, calls := DecodeToolCalls(text)
	if len(calls) != 0 {
		t.Errorf("expected no calls, got %+v", calls)
	}
	if content != "好的" {
		t.Errorf("content = %q", content)
	}
}

func TestEncodeToolPromptListsTools(t *testing.T) {
	prompt := EncodeToolPrompt([]ToolDef{
		{Name: "create_task", Description: "创建一个新任务", Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{"title": map[string]any{"type": "string"}},
		}},
	})
	for _, want := range []string{"create_task", "创建一个新任务", "<tool_call>", "title"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestDecodeBareToolCall(t *testing.T) {
	call := DecodeBareToolCall(`好的 {"tool": "list_tasks", "params": {"status": "pending"}}`)
	if call == nil {
		t.Fatal("expected a call")
	}
	if call.Name != "list_tasks" {
		t.Errorf("name = %q", call.Name)
	}
	if call.Arguments["status"] != "pending" {
		t.Errorf("arguments = %v", call.Arguments)
	}
}

func TestDecodeBareToolCallPlainText(t *testing.T) {
	if call := DecodeBareToolCall("今天没有安排。"); call != nil {
		t.Errorf("expected nil, got %+v", call)
	}
	if call := DecodeBareToolCall(`{"answer": "42"}`); call != nil {
		t.Errorf("object without tool field should not parse, got %+v", call)
	}
}
