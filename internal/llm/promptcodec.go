package llm

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// toolCallPattern matches the tagged JSON block the prompt codec asks
// the model to emit.
var toolCallPattern = regexp.MustCompile(`(?s)<tool_call>\s*(\{.*?\})\s*</tool_call>`)

// bareJSONPattern grabs the first JSON object in free-form text, for
// providers instructed to answer with a bare {"tool","params"} object.
var bareJSONPattern = regexp.MustCompile(`(?s)\{.*\}`)

// EncodeToolPrompt renders a system preamble that lists the available tools
// and mandates the <tool_call> answer format. It is prepended when a provider
// cannot accept tool schemas on the wire.
func EncodeToolPrompt(tools []ToolDef) string {
	var b strings.Builder
	b.WriteString("你可以调用以下工具来完成任务。\n\n可用工具：\n")
	for _, t := range tools {
		params, _ := json.Marshal(t.Parameters)
		fmt.Fprintf(&b, "- %s: %s\n  参数: %s\n", t.Name, t.Description, params)
	}
	b.WriteString("\n需要调用工具时，输出以下格式（可以在前后附加说明文字）：\n")
	b.WriteString(`<tool_call>{"name": "工具名", "arguments": {"参数名": "参数值"}}</tool_call>`)
	b.WriteString("\n不需要工具时直接回答。")
	return b.String()
}

// DecodeToolCalls extracts <tool_call> blocks from generated text. Prose
// outside the blocks is preserved and returned as content. Blocks that fail
// to parse are dropped.
func DecodeToolCalls(text string) (string, []ToolCall) {
	matches := toolCallPattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return text, nil
	}

	var calls []ToolCall
	var content strings.Builder
	last := 0
	for _, m := range matches {
		content.WriteString(text[last:m[0]])
		last = m[1]

		var payload struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}
		if err := json.Unmarshal([]byte(text[m[2]:m[3]]), &payload); err != nil || payload.Name == "" {
			continue
		}
		calls = append(calls, ToolCall{
			ID:        newCallID(),
			Name:      payload.Name,
			Arguments: payload.Arguments,
		})
	}
	content.WriteString(text[last:])
	return strings.TrimSpace(content.String()), calls
}

// DecodeBareToolCall parses a response that is expected to be a single JSON
// object of the form {"tool": ..., "params": {...}}. Returns nil when the
// text holds no such object, in which case the text stands as plain content.
func DecodeBareToolCall(text string) *ToolCall {
	block := bareJSONPattern.FindString(text)
	if block == "" {
		return nil
	}
	var payload struct {
		Tool   string         `json:"tool"`
		Params map[string]any `json:"params"`
	}
	if err := json.Unmarshal([]byte(block), &payload); err != nil || payload.Tool == "" {
		return nil
	}
	return &ToolCall{ID: newCallID(), Name: payload.Tool, Arguments: payload.Params}
}

func newCallID() string {
	return "call_" + uuid.NewString()[:8]
}
