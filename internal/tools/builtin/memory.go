package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/haasonsaas/sidekick/internal/memory"
	"github.com/haasonsaas/sidekick/internal/tools"
)

// SearchMemoryTool searches the long-term store.
type SearchMemoryTool struct {
	Memory *memory.System
}

func (t *SearchMemoryTool) Name() string { return "search_memory" }

func (t *SearchMemoryTool) Description() string {
	return "搜索长期记忆。当用户问'我之前说过'、'记得吗'、'关于...的记忆'时使用。"
}

func (t *SearchMemoryTool) Parameters() []tools.Parameter {
	return []tools.Parameter{
		{Name: "query", Type: "string", Description: "搜索关键词", Required: true},
		{Name: "limit", Type: "integer", Description: "返回数量", Default: 5},
	}
}

func (t *SearchMemoryTool) Execute(ctx context.Context, args map[string]any) (*tools.Result, error) {
	query, _ := args["query"].(string)
	limit := intArg(args, "limit", 5)

	scored, err := t.Memory.Recall(ctx, query, limit)
	if err != nil {
		return tools.Fail(fmt.Sprintf("搜索记忆失败: %v", err)), nil
	}
	if len(scored) == 0 {
		return &tools.Result{
			Success:     true,
			Data:        map[string]any{"memories": []any{}, "count": 0},
			Observation: "没有找到相关记忆",
		}, nil
	}

	var b strings.Builder
	memories := make([]map[string]any, 0, len(scored))
	for i, s := range scored {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s.Entry.Content)
		memories = append(memories, map[string]any{
			"id":      s.Entry.ID,
			"content": s.Entry.Content,
			"score":   s.Score,
		})
	}
	return &tools.Result{
		Success:     true,
		Data:        map[string]any{"memories": memories, "count": len(scored), "text": b.String()},
		Observation: "找到相关记忆",
	}, nil
}

// AddMemoryTool stores a new memory. Importance 7 and above makes it a
// long-lived fact; everything else decays as an event.
type AddMemoryTool struct {
	Memory *memory.System
}

func (t *AddMemoryTool) Name() string { return "add_memory" }

func (t *AddMemoryTool) Description() string {
	return "添加新记忆。当用户说'记住'、'记录一下'、'保存这个信息'时使用。"
}

func (t *AddMemoryTool) Parameters() []tools.Parameter {
	return []tools.Parameter{
		{Name: "content", Type: "string", Description: "要记忆的内容", Required: true},
		{Name: "category", Type: "string", Description: "分类: general/tech/people/projects/preferences",
			Default: "general", Enum: []string{"general", "tech", "people", "projects", "preferences"}},
		{Name: "importance", Type: "integer", Description: "重要性(1-10)", Default: 5},
	}
}

func (t *AddMemoryTool) Execute(ctx context.Context, args map[string]any) (*tools.Result, error) {
	content, _ := args["content"].(string)
	category, _ := args["category"].(string)
	if category == "" {
		category = "general"
	}
	importance := intArg(args, "importance", 5)
	if importance < 1 {
		importance = 1
	}
	if importance > 10 {
		importance = 10
	}

	level := memory.LevelEvent
	if importance >= 7 {
		level = memory.LevelFact
	}

	entry, err := t.Memory.Remember(ctx, content, memory.TypeObservation, level, []string{category})
	if err != nil {
		return tools.Fail(fmt.Sprintf("添加记忆失败: %v", err)), nil
	}

	preview := content
	if runes := []rune(preview); len(runes) > 50 {
		preview = string(runes[:50]) + "..."
	}
	return &tools.Result{
		Success:     true,
		Data:        map[string]any{"memory_id": entry.ID},
		Observation: fmt.Sprintf("✅ 已记住：%s", preview),
	}, nil
}

// SummarizeMemoriesTool gathers memories about a topic for summarization.
type SummarizeMemoriesTool struct {
	Memory *memory.System
}

func (t *SummarizeMemoriesTool) Name() string { return "summarize_memories" }

func (t *SummarizeMemoriesTool) Description() string {
	return "总结特定主题的记忆。当用户说'总结一下'、'归纳一下'时使用。"
}

func (t *SummarizeMemoriesTool) Parameters() []tools.Parameter {
	return []tools.Parameter{
		{Name: "topic", Type: "string", Description: "要总结的主题", Required: true},
	}
}

func (t *SummarizeMemoriesTool) Execute(ctx context.Context, args map[string]any) (*tools.Result, error) {
	topic, _ := args["topic"].(string)

	scored, err := t.Memory.Recall(ctx, topic, 10)
	if err != nil {
		return tools.Fail(fmt.Sprintf("总结记忆失败: %v", err)), nil
	}
	if len(scored) == 0 {
		return &tools.Result{
			Success:     true,
			Data:        map[string]any{"summary": nil, "memories": []any{}},
			Observation: fmt.Sprintf("没有找到关于'%s'的记忆", topic),
		}, nil
	}

	var b strings.Builder
	for _, s := range scored {
		b.WriteString("- ")
		b.WriteString(s.Entry.Content)
		b.WriteString("\n")
	}
	return &tools.Result{
		Success:     true,
		Data:        map[string]any{"topic": topic, "memories": b.String()},
		Observation: fmt.Sprintf("找到关于'%s'的记忆", topic),
	}, nil
}
