package memory

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

func newTestWorking(summarizer Summarizer) *WorkingMemory {
	return NewWorkingMemory(WorkingConfig{
		MaxSlots:    5,
		MaxMessages: 20,
		MaxTokens:   100,
		KeepRecent:  5,
	}, HeuristicCounter{}, summarizer, nil)
}

func TestDefaultSlotsPresent(t *testing.T) {
	wm := newTestWorking(nil)
	names := wm.SlotNames()
	want := map[string]bool{"identity": false, "context": false, "facts": false}
	for _, n := range names {
		if _, ok := want[n]; ok {
			want[n] = true
		}
	}
	for n, found := range want {
		if !found {
			t.Errorf("default slot %q missing", n)
		}
	}
}

func TestWriteSlotUpdateExisting(t *testing.T) {
	wm := newTestWorking(nil)
	if err := wm.WriteSlot("context", "current topic: travel", 0, 0); err != nil {
		t.Fatalf("WriteSlot: %v", err)
	}
	if got := wm.ReadSlot("context"); got != "current topic: travel" {
		t.Errorf("ReadSlot = %q", got)
	}
}

func TestSlotEvictionByPriority(t *testing.T) {
	wm := newTestWorking(nil) // 3 defaults + 2 free
	if err := wm.WriteSlot("a", "a", 100, 1); err != nil {
		t.Fatalf("WriteSlot a: %v", err)
	}
	if err := wm.WriteSlot("b", "b", 100, 2); err != nil {
		t.Fatalf("WriteSlot b: %v", err)
	}

	// Ceiling reached. Lower-or-equal priority must be refused.
	if err := wm.WriteSlot("c", "c", 100, 1); err == nil {
		t.Error("expected refusal for priority 1 against lowest slot priority 1")
	}

	// Higher priority evicts the lowest-priority non-identity slot ("a").
	if err := wm.WriteSlot("d", "d", 100, 4); err != nil {
		t.Fatalf("WriteSlot d: %v", err)
	}
	if got := wm.ReadSlot("a"); got != "" {
		t.Errorf("slot a should be evicted, got %q", got)
	}
	if got := wm.ReadSlot("d"); got != "d" {
		t.Errorf("slot d missing, got %q", got)
	}
}

func TestIdentityNeverEvicted(t *testing.T) {
	wm := NewWorkingMemory(WorkingConfig{MaxSlots: 3, MaxMessages: 10, MaxTokens: 1000}, nil, nil, nil)
	wm.WriteSlot("identity", "我是你的助手", 0, 0)
	// Registry is full with the 3 defaults; even max priority cannot
	// displace identity alone, the victim must be context or facts.
	if err := wm.WriteSlot("x", "x", 100, 99); err != nil {
		t.Fatalf("WriteSlot x: %v", err)
	}
	if got := wm.ReadSlot("identity"); got != "我是你的助手" {
		t.Errorf("identity slot lost: %q", got)
	}
}

func TestCompressKeepsRecentAndInjectsSummary(t *testing.T) {
	summarizer := SummarizerFunc(func(ctx context.Context, msgs []BufferMessage) (string, error) {
		return fmt.Sprintf("早些时候聊了 %d 条", len(msgs)), nil
	})
	wm := newTestWorking(summarizer)

	wm.AddMessage(context.Background(), "system", "you are helpful")
	for i := 0; i < 12; i++ {
		wm.AddMessage(context.Background(), "user", strings.Repeat("聊天内容很长的消息", 5))
	}

	msgs := wm.Messages()
	var nonSystem, system []BufferMessage
	for _, m := range msgs {
		if m.Role == "system" {
			system = append(system, m)
		} else {
			nonSystem = append(nonSystem, m)
		}
	}
	if len(nonSystem) > 5 {
		t.Errorf("kept %d non-system messages, want <= 5", len(nonSystem))
	}
	found := false
	for _, m := range system {
		if strings.HasPrefix(m.Content, "[历史对话摘要]") {
			found = true
		}
	}
	if !found {
		t.Error("no summary system message injected")
	}
	// Summary must come after the original system message.
	if len(system) >= 2 && strings.HasPrefix(system[0].Content, "[历史对话摘要]") {
		t.Error("summary injected before the original system prompt")
	}
}

func TestCompressRepeatedKeepsSingleSummary(t *testing.T) {
	summarizer := SummarizerFunc(func(ctx context.Context, msgs []BufferMessage) (string, error) {
		return fmt.Sprintf("聊了 %d 条", len(msgs)), nil
	})
	wm := newTestWorking(summarizer)

	wm.AddMessage(context.Background(), "system", "you are helpful")
	for i := 0; i < 30; i++ {
		wm.AddMessage(context.Background(), "user", strings.Repeat("聊天内容很长的消息", 5))
	}

	count := 0
	for _, m := range wm.Messages() {
		if strings.HasPrefix(m.Content, "[历史对话摘要]") {
			count++
		}
	}
	if count != 1 {
		t.Errorf("buffer carries %d summary messages, want exactly 1", count)
	}

	// The accumulated summary merges each compression's output.
	wm.mu.Lock()
	merged := wm.summary
	wm.mu.Unlock()
	if !strings.Contains(merged, ";") {
		t.Errorf("summary should accumulate across compressions: %q", merged)
	}
}

func TestCompressWithoutSummarizerUsesHeuristic(t *testing.T) {
	wm := newTestWorking(nil)
	for i := 0; i < 15; i++ {
		wm.AddMessage(context.Background(), "user", strings.Repeat("帮我删除这些任务", 4))
	}
	var summary string
	for _, m := range wm.Messages() {
		if strings.HasPrefix(m.Content, "[历史对话摘要]") {
			summary = m.Content
		}
	}
	if summary == "" {
		t.Fatal("heuristic summary missing after compression without summarizer")
	}
	if !strings.Contains(summary, "任务管理") || !strings.Contains(summary, "删除操作") {
		t.Errorf("summary should name observed topics: %q", summary)
	}
}

func TestCompressSummarizerErrorFallsBack(t *testing.T) {
	summarizer := SummarizerFunc(func(ctx context.Context, msgs []BufferMessage) (string, error) {
		return "", fmt.Errorf("provider down")
	})
	wm := newTestWorking(summarizer)
	for i := 0; i < 15; i++ {
		wm.AddMessage(context.Background(), "user", strings.Repeat("纯粹的闲聊内容啊", 4))
	}
	var summary string
	for _, m := range wm.Messages() {
		if strings.HasPrefix(m.Content, "[历史对话摘要]") {
			summary = m.Content
		}
	}
	if !strings.Contains(summary, "条消息") {
		t.Errorf("expected count-based fallback summary, got %q", summary)
	}
}

func TestHeuristicSummaryTopics(t *testing.T) {
	msgs := []BufferMessage{
		{Role: "user", Content: "帮我创建一个任务"},
		{Role: "user", Content: "查一下天气"},
	}
	got := heuristicSummary(msgs)
	for _, want := range []string{"创建操作", "任务管理", "天气查询"} {
		if !strings.Contains(got, want) {
			t.Errorf("summary %q missing topic %q", got, want)
		}
	}
	if got := heuristicSummary([]BufferMessage{{Role: "user", Content: "hello"}}); got != "之前的对话共 1 条消息" {
		t.Errorf("count fallback = %q", got)
	}
}

func TestContextTextOrdersByPriority(t *testing.T) {
	wm := newTestWorking(nil)
	wm.WriteSlot("identity", "助手身份", 0, 0)
	wm.WriteSlot("facts", "known fact", 0, 0)
	text := wm.ContextText()
	idIdx := strings.Index(text, "identity")
	factsIdx := strings.Index(text, "facts")
	if idIdx == -1 || factsIdx == -1 {
		t.Fatalf("missing sections: %q", text)
	}
	if idIdx > factsIdx {
		t.Error("identity should render before facts")
	}
}
