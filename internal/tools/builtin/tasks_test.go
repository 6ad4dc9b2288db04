package builtin

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/sidekick/internal/tasks"
)

func newTestManager(t *testing.T) *tasks.Manager {
	t.Helper()
	mgr, err := tasks.NewManager(filepath.Join(t.TempDir(), "tasks.jsonl"), nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return mgr
}

func TestCreateTask(t *testing.T) {
	mgr := newTestManager(t)
	tool := &CreateTaskTool{Tasks: mgr}

	result, err := tool.Execute(context.Background(), map[string]any{
		"title":    "买牛奶",
		"priority": "high",
		"due_date": "2026-09-01T10:00:00",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}
	if result.Observation != "✅ 已创建任务：买牛奶" {
		t.Errorf("observation = %q", result.Observation)
	}

	id, _ := result.Data["task_id"].(string)
	task := mgr.Get(id)
	if task == nil {
		t.Fatal("task not persisted")
	}
	if task.PriorityBand() != "high" {
		t.Errorf("band = %q", task.PriorityBand())
	}
	if task.DueDate == nil || task.DueDate.Hour() != 10 {
		t.Errorf("due date = %v", task.DueDate)
	}
}

func TestListTasksEmpty(t *testing.T) {
	tool := &ListTasksTool{Tasks: newTestManager(t)}
	result, err := tool.Execute(context.Background(), map[string]any{"status": "pending", "limit": 10})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Observation != "📋 当前没有待办任务" {
		t.Errorf("observation = %q", result.Observation)
	}
}

func TestListTasksIconsAndNumbering(t *testing.T) {
	mgr := newTestManager(t)
	high := tasks.NewTask("修复线上问题")
	high.Priority = tasks.PriorityFromString("high")
	mgr.Create(high)
	low := tasks.NewTask("整理照片")
	low.Priority = tasks.PriorityFromString("low")
	mgr.Create(low)

	tool := &ListTasksTool{Tasks: mgr}
	result, _ := tool.Execute(context.Background(), map[string]any{"status": "pending", "limit": 10})

	if !strings.Contains(result.Observation, "📋 找到 2 个待办任务:") {
		t.Errorf("header missing: %q", result.Observation)
	}
	// Higher priority sorts first and wears the red icon.
	if !strings.Contains(result.Observation, "1. 🔴 修复线上问题") {
		t.Errorf("high-priority line missing: %q", result.Observation)
	}
	if !strings.Contains(result.Observation, "2. 🟢 整理照片") {
		t.Errorf("low-priority line missing: %q", result.Observation)
	}
}

func TestCompleteTaskByID(t *testing.T) {
	mgr := newTestManager(t)
	task, _ := mgr.Create(tasks.NewTask("写周报"))

	tool := &CompleteTaskTool{Tasks: mgr}
	result, _ := tool.Execute(context.Background(), map[string]any{"task_id": task.ID})
	if !result.Success || result.Observation != "✅ 任务已标记为完成" {
		t.Errorf("result = %+v", result)
	}

	result, _ = tool.Execute(context.Background(), map[string]any{"task_id": "nope"})
	if result.Success {
		t.Error("unknown id should fail")
	}
}

func TestCompleteTaskByKeyword(t *testing.T) {
	mgr := newTestManager(t)
	mgr.Create(tasks.NewTask("买牛奶"))

	tool := &CompleteTaskTool{Tasks: mgr}
	result, _ := tool.Execute(context.Background(), map[string]any{"title_keyword": "牛奶"})
	if !result.Success || result.Observation != "✅ 任务'买牛奶'已完成" {
		t.Errorf("result = %+v", result)
	}
}

func TestCompleteTaskDisambiguation(t *testing.T) {
	mgr := newTestManager(t)
	mgr.Create(tasks.NewTask("买牛奶"))
	mgr.Create(tasks.NewTask("退牛奶"))

	tool := &CompleteTaskTool{Tasks: mgr}
	result, _ := tool.Execute(context.Background(), map[string]any{"title_keyword": "牛奶"})
	if !result.Success {
		t.Fatalf("result = %+v", result)
	}
	if sel, _ := result.Data["needs_selection"].(bool); !sel {
		t.Errorf("expected needs_selection, got %+v", result.Data)
	}
	if !strings.Contains(result.Observation, "找到 2 个匹配任务") {
		t.Errorf("observation = %q", result.Observation)
	}
}

func TestCompleteTaskNoIdentifier(t *testing.T) {
	tool := &CompleteTaskTool{Tasks: newTestManager(t)}
	result, _ := tool.Execute(context.Background(), map[string]any{})
	if result.Success || result.Observation != "请提供任务ID或标题关键词" {
		t.Errorf("result = %+v", result)
	}
}

func TestDeleteTasksTwoPhase(t *testing.T) {
	mgr := newTestManager(t)
	mgr.Create(tasks.NewTask("任务一"))
	mgr.Create(tasks.NewTask("任务二"))

	tool := &DeleteTasksTool{Tasks: mgr}

	// Phase one: unconfirmed call lists what would be deleted.
	result, _ := tool.Execute(context.Background(), map[string]any{"confirmed": false})
	if !result.NeedsConfirmation() {
		t.Fatalf("expected confirmation request: %+v", result)
	}
	if !strings.Contains(result.Observation, "🗑️ 准备删除以下 2 个任务:") ||
		!strings.Contains(result.Observation, "⚠️ 确认删除？") {
		t.Errorf("observation = %q", result.Observation)
	}
	if mgr.Count() != 2 {
		t.Error("nothing should be deleted in phase one")
	}

	// Phase two: confirmed delete_all sweeps the open tasks.
	result, _ = tool.Execute(context.Background(), map[string]any{"confirmed": true, "delete_all": true})
	if result.Observation != "✅ 已删除 2 个任务" {
		t.Errorf("observation = %q", result.Observation)
	}
	if got := len(mgr.List(tasks.ListFilter{})); got != 0 {
		t.Errorf("open tasks after delete = %d", got)
	}
}

func TestDeleteTasksByIDs(t *testing.T) {
	mgr := newTestManager(t)
	a, _ := mgr.Create(tasks.NewTask("任务一"))
	mgr.Create(tasks.NewTask("任务二"))

	tool := &DeleteTasksTool{Tasks: mgr}
	result, _ := tool.Execute(context.Background(), map[string]any{
		"confirmed": true,
		"task_ids":  []any{a.ID},
	})
	if result.Observation != "✅ 已删除 1 个任务" {
		t.Errorf("observation = %q", result.Observation)
	}
	if mgr.Get(a.ID) != nil {
		t.Error("task should be gone")
	}
}

func TestDeleteTasksNothingPending(t *testing.T) {
	tool := &DeleteTasksTool{Tasks: newTestManager(t)}
	result, _ := tool.Execute(context.Background(), map[string]any{"confirmed": false})
	if result.NeedsConfirmation() {
		t.Error("no confirmation needed with nothing to delete")
	}
	if result.Observation != "当前没有待办任务" {
		t.Errorf("observation = %q", result.Observation)
	}
}

func TestParseDue(t *testing.T) {
	got, err := parseDue("2026-09-01")
	if err != nil {
		t.Fatalf("parseDue: %v", err)
	}
	if got.Year() != 2026 || got.Month() != time.September {
		t.Errorf("got %v", got)
	}
	if _, err := parseDue("明天"); err == nil {
		t.Error("expected error for non-ISO input")
	}
}
