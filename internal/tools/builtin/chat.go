package builtin

import (
	"context"

	"github.com/haasonsaas/sidekick/internal/tools"
)

// ChatTool performs no operation: it marks the input for a direct model
// reply when there is no concrete task to run.
type ChatTool struct{}

func (t *ChatTool) Name() string { return "chat" }

func (t *ChatTool) Description() string {
	return "闲聊、问候、情感交流。当用户没有明确任务需求，只是打招呼或闲聊时使用"
}

func (t *ChatTool) Parameters() []tools.Parameter {
	return []tools.Parameter{
		{Name: "message", Type: "string", Description: "用户的输入消息", Required: true},
	}
}

func (t *ChatTool) Execute(ctx context.Context, args map[string]any) (*tools.Result, error) {
	message, _ := args["message"].(string)
	return &tools.Result{
		Success:     true,
		Data:        map[string]any{"type": "direct_response", "input": message},
		Observation: "直接回复用户",
	}, nil
}

// HistoryClearer is anything that can wipe the dialogue buffer.
type HistoryClearer interface {
	ClearMessages()
}

// ClearHistoryTool wipes the conversation after a confirmation round.
type ClearHistoryTool struct {
	Session HistoryClearer
}

func (t *ClearHistoryTool) Name() string { return "clear_history" }

func (t *ClearHistoryTool) Description() string {
	return "清空对话历史。当用户说'清空对话'、'清除历史'、'重新开始'时使用。"
}

func (t *ClearHistoryTool) Parameters() []tools.Parameter {
	return []tools.Parameter{
		{Name: "confirm", Type: "boolean", Description: "确认清空", Default: false},
	}
}

func (t *ClearHistoryTool) Execute(ctx context.Context, args map[string]any) (*tools.Result, error) {
	if confirm, _ := args["confirm"].(bool); !confirm {
		return &tools.Result{
			Success:     true,
			Observation: "⚠️ 确定要清空对话历史吗？",
			Metadata:    map[string]any{"needs_confirmation": true},
		}, nil
	}
	if t.Session != nil {
		t.Session.ClearMessages()
	}
	return &tools.Result{
		Success:     true,
		Data:        map[string]any{"cleared": true},
		Observation: "✅ 对话历史已清空",
	}, nil
}
