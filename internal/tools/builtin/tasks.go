// Package builtin holds the tools the assistant ships with: task
// management, memory access, web search, chat, and session control.
package builtin

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/haasonsaas/sidekick/internal/tasks"
	"github.com/haasonsaas/sidekick/internal/tools"
)

// CreateTaskTool creates a new task.
type CreateTaskTool struct {
	Tasks *tasks.Manager
}

func (t *CreateTaskTool) Name() string { return "create_task" }

func (t *CreateTaskTool) Description() string {
	return "创建新任务。当用户说'提醒我'、'明天要'、'记得'时使用。"
}

func (t *CreateTaskTool) Parameters() []tools.Parameter {
	return []tools.Parameter{
		{Name: "title", Type: "string", Description: "任务标题", Required: true},
		{Name: "description", Type: "string", Description: "任务描述"},
		{Name: "due_date", Type: "string", Description: "截止时间(ISO格式)"},
		{Name: "priority", Type: "string", Description: "优先级: low/medium/high/urgent",
			Default: "medium", Enum: []string{"low", "medium", "high", "urgent"}},
	}
}

func (t *CreateTaskTool) Execute(ctx context.Context, args map[string]any) (*tools.Result, error) {
	title, _ := args["title"].(string)
	task := tasks.NewTask(title)
	if desc, ok := args["description"].(string); ok {
		task.Description = desc
	}
	if p, ok := args["priority"].(string); ok {
		task.Priority = tasks.PriorityFromString(p)
	}
	if raw, ok := args["due_date"].(string); ok && raw != "" {
		if due, err := parseDue(raw); err == nil {
			task.DueDate = &due
		}
	}

	created, err := t.Tasks.Create(task)
	if err != nil {
		return tools.Fail(fmt.Sprintf("创建任务失败: %v", err)), nil
	}
	return &tools.Result{
		Success:     true,
		Data:        map[string]any{"task_id": created.ID, "title": created.Title},
		Observation: fmt.Sprintf("✅ 已创建任务：%s", created.Title),
	}, nil
}

func parseDue(raw string) (time.Time, error) {
	raw = strings.Replace(raw, "Z", "+00:00", 1)
	for _, layout := range []string{"2006-01-02T15:04:05-07:00", "2006-01-02T15:04:05", "2006-01-02 15:04", "2006-01-02"} {
		if due, err := time.ParseInLocation(layout, raw, time.Local); err == nil {
			return due, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time: %s", raw)
}

// ListTasksTool lists tasks with priority icons.
type ListTasksTool struct {
	Tasks *tasks.Manager
}

func (t *ListTasksTool) Name() string { return "list_tasks" }

func (t *ListTasksTool) Description() string {
	return "列出任务。当用户说'有什么任务'、'查看任务'、'列出任务'时使用。"
}

func (t *ListTasksTool) Parameters() []tools.Parameter {
	return []tools.Parameter{
		{Name: "status", Type: "string", Description: "状态: pending/completed/all",
			Default: "pending", Enum: []string{"pending", "completed", "all"}},
		{Name: "limit", Type: "integer", Description: "返回数量", Default: 10},
	}
}

func (t *ListTasksTool) Execute(ctx context.Context, args map[string]any) (*tools.Result, error) {
	status, _ := args["status"].(string)
	limit := intArg(args, "limit", 10)

	var list []*tasks.Task
	switch status {
	case "completed":
		list = t.Tasks.List(tasks.ListFilter{Status: tasks.StatusCompleted})
	case "all":
		list = t.Tasks.List(tasks.ListFilter{})
	default:
		status = "pending"
		list = t.Tasks.List(tasks.ListFilter{Status: tasks.StatusPending})
	}
	if len(list) > limit {
		list = list[:limit]
	}

	statusText := map[string]string{"pending": "待办", "completed": "已完成", "all": ""}[status]
	taskList := make([]map[string]any, 0, len(list))
	for _, task := range list {
		entry := map[string]any{
			"id":       task.ID,
			"title":    task.Title,
			"status":   string(task.Status),
			"priority": task.PriorityBand(),
		}
		if task.DueDate != nil {
			entry["due_date"] = task.DueDate.Format(time.RFC3339)
		}
		taskList = append(taskList, entry)
	}

	if len(list) == 0 {
		return &tools.Result{
			Success:     true,
			Data:        map[string]any{"tasks": taskList, "count": 0},
			Observation: fmt.Sprintf("📋 当前没有%s任务", statusText),
		}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📋 找到 %d 个%s任务:", len(list), statusText)
	for i, task := range list {
		icon := priorityIcon(task.PriorityBand())
		timeStr := ""
		if task.DueDate != nil {
			timeStr = fmt.Sprintf(" ⏰ %s", task.DueDate.Format("01-02 15:04"))
		}
		fmt.Fprintf(&b, "\n  %d. %s %s%s", i+1, icon, task.Title, timeStr)
	}

	return &tools.Result{
		Success:     true,
		Data:        map[string]any{"tasks": taskList, "count": len(list)},
		Observation: b.String(),
	}, nil
}

func priorityIcon(band string) string {
	switch band {
	case "high", "urgent":
		return "🔴"
	case "medium":
		return "🟡"
	case "low":
		return "🟢"
	default:
		return "⚪"
	}
}

// CompleteTaskTool marks a task done by id or title keyword.
type CompleteTaskTool struct {
	Tasks *tasks.Manager
}

func (t *CompleteTaskTool) Name() string { return "complete_task" }

func (t *CompleteTaskTool) Description() string {
	return "完成任务。当用户说'完成任务'、'标记完成'、'做完了'时使用。"
}

func (t *CompleteTaskTool) Parameters() []tools.Parameter {
	return []tools.Parameter{
		{Name: "task_id", Type: "string", Description: "任务ID"},
		{Name: "title_keyword", Type: "string", Description: "任务标题关键词"},
	}
}

func (t *CompleteTaskTool) Execute(ctx context.Context, args map[string]any) (*tools.Result, error) {
	if id, ok := args["task_id"].(string); ok && id != "" {
		if err := t.Tasks.Complete(id); err != nil {
			return tools.Fail("未找到该任务"), nil
		}
		return &tools.Result{
			Success:     true,
			Data:        map[string]any{"task_id": id},
			Observation: "✅ 任务已标记为完成",
		}, nil
	}

	keyword, _ := args["title_keyword"].(string)
	if keyword == "" {
		return tools.Fail("请提供任务ID或标题关键词"), nil
	}

	candidates := t.Tasks.FindByTitle(keyword)
	switch len(candidates) {
	case 0:
		return tools.Fail(fmt.Sprintf("未找到包含'%s'的任务", keyword)), nil
	case 1:
		task := candidates[0]
		if err := t.Tasks.Complete(task.ID); err != nil {
			return tools.Fail(fmt.Sprintf("完成任务失败: %v", err)), nil
		}
		return &tools.Result{
			Success:     true,
			Data:        map[string]any{"task_id": task.ID, "title": task.Title},
			Observation: fmt.Sprintf("✅ 任务'%s'已完成", task.Title),
		}, nil
	default:
		limited := candidates
		if len(limited) > 5 {
			limited = limited[:5]
		}
		summary := make([]map[string]any, 0, len(limited))
		for _, task := range limited {
			summary = append(summary, map[string]any{"id": task.ID, "title": task.Title})
		}
		return &tools.Result{
			Success:     true,
			Data:        map[string]any{"needs_selection": true, "candidates": summary},
			Observation: fmt.Sprintf("找到 %d 个匹配任务，请指定具体任务", len(candidates)),
		}, nil
	}
}

// DeleteTasksTool deletes tasks in two phases: first a confirmation
// request listing what would go, then the actual deletion.
type DeleteTasksTool struct {
	Tasks *tasks.Manager
}

func (t *DeleteTasksTool) Name() string { return "delete_tasks" }

func (t *DeleteTasksTool) Description() string {
	return "删除任务。当用户说'清理'、'删除'、'移除'、'清空'任务时使用。"
}

func (t *DeleteTasksTool) Parameters() []tools.Parameter {
	return []tools.Parameter{
		{Name: "task_ids", Type: "array", Description: "要删除的任务ID列表"},
		{Name: "delete_all", Type: "boolean", Description: "是否删除所有任务", Default: false},
		{Name: "confirmed", Type: "boolean", Description: "用户已确认删除", Default: false},
	}
}

func (t *DeleteTasksTool) Execute(ctx context.Context, args map[string]any) (*tools.Result, error) {
	confirmed, _ := args["confirmed"].(bool)
	if !confirmed {
		pending := t.Tasks.List(tasks.ListFilter{Status: tasks.StatusPending})
		if len(pending) == 0 {
			return &tools.Result{
				Success:     true,
				Data:        map[string]any{"count": 0},
				Observation: "当前没有待办任务",
			}, nil
		}

		limited := pending
		if len(limited) > 10 {
			limited = limited[:10]
		}
		var b strings.Builder
		summary := make([]map[string]any, 0, len(limited))
		for i, task := range limited {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, task.Title)
			summary = append(summary, map[string]any{"id": task.ID, "title": task.Title})
		}
		return &tools.Result{
			Success: true,
			Data: map[string]any{
				"tasks": summary,
				"count": len(pending),
			},
			Observation: fmt.Sprintf("🗑️ 准备删除以下 %d 个任务:\n%s\n⚠️ 确认删除？(输入 yes)",
				len(pending), strings.TrimRight(b.String(), "\n")),
			Metadata: map[string]any{"needs_confirmation": true},
		}, nil
	}

	if deleteAll, _ := args["delete_all"].(bool); deleteAll {
		count, err := t.Tasks.DeleteAll()
		if err != nil {
			return tools.Fail(fmt.Sprintf("删除任务失败: %v", err)), nil
		}
		return &tools.Result{
			Success:     true,
			Data:        map[string]any{"deleted_count": count},
			Observation: fmt.Sprintf("✅ 已删除 %d 个任务", count),
		}, nil
	}

	rawIDs, _ := args["task_ids"].([]any)
	if len(rawIDs) == 0 {
		return tools.Fail("请指定要删除的任务"), nil
	}
	ids := make([]string, 0, len(rawIDs))
	for _, raw := range rawIDs {
		if id, ok := raw.(string); ok {
			ids = append(ids, id)
		}
	}
	count, err := t.Tasks.Delete(ids)
	if err != nil {
		return tools.Fail(fmt.Sprintf("删除任务失败: %v", err)), nil
	}
	return &tools.Result{
		Success:     true,
		Data:        map[string]any{"deleted_count": count},
		Observation: fmt.Sprintf("✅ 已删除 %d 个任务", count),
	}, nil
}

func intArg(args map[string]any, name string, fallback int) int {
	switch v := args[name].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return fallback
	}
}
