package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// Slot is a named region of working memory with a token budget and an
// eviction priority.
type Slot struct {
	Name      string    `json:"name"`
	Content   string    `json:"content"`
	MaxTokens int       `json:"max_tokens"`
	Priority  int       `json:"priority"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BufferMessage is one turn in the working-memory dialogue buffer.
type BufferMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Summarizer condenses a span of dialogue into a short summary. Working
// memory uses it during compression; implementations typically call the LLM.
type Summarizer interface {
	Summarize(ctx context.Context, messages []BufferMessage) (string, error)
}

// SummarizerFunc adapts a function to the Summarizer interface.
type SummarizerFunc func(ctx context.Context, messages []BufferMessage) (string, error)

func (f SummarizerFunc) Summarize(ctx context.Context, messages []BufferMessage) (string, error) {
	return f(ctx, messages)
}

// WorkingConfig configures working memory limits.
type WorkingConfig struct {
	MaxSlots    int `yaml:"max_slots"`
	MaxMessages int `yaml:"max_messages"`
	MaxTokens   int `yaml:"max_tokens"`
	// KeepRecent is how many recent non-system messages survive compression.
	KeepRecent int `yaml:"keep_recent"`
}

const (
	slotIdentity = "identity"
	slotContext  = "context"
	slotFacts    = "facts"

	// compressRatio is the fill fraction of MaxTokens that triggers
	// buffer compression.
	compressRatio = 0.8

	summaryPrefix = "[历史对话摘要]"
)

// WorkingMemory is the bounded short-term store: a small set of priority
// slots plus a token-limited message buffer. Safe for concurrent use.
type WorkingMemory struct {
	mu         sync.Mutex
	cfg        WorkingConfig
	slots      map[string]*Slot
	messages   []BufferMessage
	summary    string
	counter    TokenCounter
	summarizer Summarizer
	logger     *slog.Logger
}

// NewWorkingMemory creates working memory with the three default slots.
// A nil counter falls back to the heuristic estimator.
func NewWorkingMemory(cfg WorkingConfig, counter TokenCounter, summarizer Summarizer, logger *slog.Logger) *WorkingMemory {
	if cfg.MaxSlots <= 0 {
		cfg.MaxSlots = 10
	}
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 50
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4000
	}
	if cfg.KeepRecent <= 0 {
		cfg.KeepRecent = 5
	}
	if counter == nil {
		counter = HeuristicCounter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	wm := &WorkingMemory{
		cfg:        cfg,
		slots:      make(map[string]*Slot),
		counter:    counter,
		summarizer: summarizer,
		logger:     logger,
	}
	for _, s := range []struct {
		name     string
		priority int
	}{
		{slotIdentity, 10},
		{slotContext, 5},
		{slotFacts, 3},
	} {
		wm.slots[s.name] = &Slot{Name: s.name, MaxTokens: 500, Priority: s.priority, UpdatedAt: time.Now()}
	}
	return wm
}

// WriteSlot writes content into a named slot, creating it if needed.
// When the slot ceiling is hit, the lowest-priority non-identity slot is
// evicted, but only if the incoming priority is strictly higher.
func (w *WorkingMemory) WriteSlot(name, content string, maxTokens, priority int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if slot, ok := w.slots[name]; ok {
		slot.Content = content
		slot.UpdatedAt = time.Now()
		return nil
	}

	if len(w.slots) >= w.cfg.MaxSlots {
		victim := w.lowestPrioritySlot()
		if victim == nil || victim.Priority >= priority {
			return fmt.Errorf("working memory full: no slot with priority below %d to evict", priority)
		}
		w.logger.Debug("evicting working memory slot", "slot", victim.Name, "priority", victim.Priority)
		delete(w.slots, victim.Name)
	}

	if maxTokens <= 0 {
		maxTokens = 500
	}
	w.slots[name] = &Slot{
		Name:      name,
		Content:   content,
		MaxTokens: maxTokens,
		Priority:  priority,
		UpdatedAt: time.Now(),
	}
	return nil
}

func (w *WorkingMemory) lowestPrioritySlot() *Slot {
	var victim *Slot
	for name, slot := range w.slots {
		if name == slotIdentity {
			continue
		}
		if victim == nil || slot.Priority < victim.Priority {
			victim = slot
		}
	}
	return victim
}

// ReadSlot returns the content of a slot, or "" when absent.
func (w *WorkingMemory) ReadSlot(name string) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if slot, ok := w.slots[name]; ok {
		return slot.Content
	}
	return ""
}

// SlotNames returns the names of all current slots.
func (w *WorkingMemory) SlotNames() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	names := make([]string, 0, len(w.slots))
	for name := range w.slots {
		names = append(names, name)
	}
	return names
}

// AddMessage appends a message to the dialogue buffer and compresses the
// buffer if it crosses the token or count limits.
func (w *WorkingMemory) AddMessage(ctx context.Context, role, content string) {
	w.mu.Lock()
	w.messages = append(w.messages, BufferMessage{Role: role, Content: content, Timestamp: time.Now()})
	needsCompress := w.bufferTokensLocked() > int(float64(w.cfg.MaxTokens)*compressRatio) ||
		len(w.messages) > w.cfg.MaxMessages
	w.mu.Unlock()

	if needsCompress {
		w.Compress(ctx)
	}
}

// Messages returns the current buffer. When compression has produced a
// summary, it is injected as a single system message right after the
// last system message, so the buffer always carries at most one summary
// entry regardless of how many compressions have run.
func (w *WorkingMemory) Messages() []BufferMessage {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.summary == "" {
		out := make([]BufferMessage, len(w.messages))
		copy(out, w.messages)
		return out
	}

	lastSystem := -1
	for i, m := range w.messages {
		if m.Role == "system" {
			lastSystem = i
		}
	}
	out := make([]BufferMessage, 0, len(w.messages)+1)
	out = append(out, w.messages[:lastSystem+1]...)
	out = append(out, BufferMessage{
		Role:      "system",
		Content:   summaryPrefix + " " + w.summary,
		Timestamp: time.Now(),
	})
	out = append(out, w.messages[lastSystem+1:]...)
	return out
}

// BufferTokens returns the estimated token cost of the buffer.
func (w *WorkingMemory) BufferTokens() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.bufferTokensLocked()
}

func (w *WorkingMemory) bufferTokensLocked() int {
	total := 0
	for _, m := range w.messages {
		total += w.counter.Count(m.Content)
	}
	return total
}

// Compress summarizes older dialogue, keeping system messages and the
// most recent KeepRecent non-system messages. The summary accumulates in
// a single string across compressions; Messages injects it as one system
// entry. Identity and other slots are never touched.
func (w *WorkingMemory) Compress(ctx context.Context) {
	w.mu.Lock()
	var system, rest []BufferMessage
	for _, m := range w.messages {
		if m.Role == "system" {
			system = append(system, m)
		} else {
			rest = append(rest, m)
		}
	}
	if len(rest) <= w.cfg.KeepRecent {
		w.mu.Unlock()
		return
	}
	old := rest[:len(rest)-w.cfg.KeepRecent]
	recent := rest[len(rest)-w.cfg.KeepRecent:]
	summarizer := w.summarizer
	w.mu.Unlock()

	summary := ""
	if summarizer != nil {
		s, err := summarizer.Summarize(ctx, old)
		if err != nil {
			w.logger.Warn("dialogue summarization failed, using heuristic summary", "error", err, "messages", len(old))
			summary = heuristicSummary(old)
		} else {
			summary = s
		}
	} else {
		summary = heuristicSummary(old)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	switch {
	case summary == "":
	case w.summary == "":
		w.summary = summary
	default:
		w.summary = w.summary + "; " + summary
	}
	rebuilt := make([]BufferMessage, 0, len(system)+len(recent))
	rebuilt = append(rebuilt, system...)
	rebuilt = append(rebuilt, recent...)
	w.messages = rebuilt
}

// topicTable maps content keywords to topic labels for the heuristic
// summary used when no LLM summarizer is available.
var topicTable = []struct {
	keyword string
	topic   string
}{
	{"创建", "创建操作"},
	{"搜索", "搜索信息"},
	{"查询", "查询数据"},
	{"计算", "计算"},
	{"分析", "分析"},
	{"天气", "天气查询"},
	{"任务", "任务管理"},
	{"记忆", "记忆操作"},
	{"设置", "设置配置"},
	{"删除", "删除操作"},
}

func heuristicSummary(messages []BufferMessage) string {
	seen := make(map[string]bool)
	var topics []string
	for _, m := range messages {
		for _, t := range topicTable {
			if seen[t.topic] || !strings.Contains(m.Content, t.keyword) {
				continue
			}
			seen[t.topic] = true
			topics = append(topics, t.topic)
		}
	}
	if len(topics) > 0 {
		return fmt.Sprintf("之前的对话涉及: %s", strings.Join(topics, ", "))
	}
	return fmt.Sprintf("之前的对话共 %d 条消息", len(messages))
}

// ClearMessages empties the dialogue buffer and the accumulated summary.
// Slots are preserved.
func (w *WorkingMemory) ClearMessages() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = nil
	w.summary = ""
}

// ContextText renders the non-empty slots for prompt assembly, identity
// first, then by descending priority.
func (w *WorkingMemory) ContextText() string {
	w.mu.Lock()
	defer w.mu.Unlock()

	ordered := make([]*Slot, 0, len(w.slots))
	for _, slot := range w.slots {
		if slot.Content != "" {
			ordered = append(ordered, slot)
		}
	}
	for i := 0; i < len(ordered)-1; i++ {
		for j := i + 1; j < len(ordered); j++ {
			if ordered[j].Priority > ordered[i].Priority {
				ordered[i], ordered[j] = ordered[j], ordered[i]
			}
		}
	}

	out := ""
	for _, slot := range ordered {
		if out != "" {
			out += "\n\n"
		}
		out += "## " + slot.Name + "\n" + slot.Content
	}
	return out
}
