package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// AutoConfig schedules the three consolidation layers.
type AutoConfig struct {
	DailyHour  int   `yaml:"daily_hour"`
	WeeklyDay  int   `yaml:"weekly_day"` // 0=Sunday ... 6=Saturday per time.Weekday
	WeeklyHour int   `yaml:"weekly_hour"`
	MicroHours []int `yaml:"micro_hours"`
	// MicroMinContext is the minimum working-memory context length for a
	// micro-sync to be worth running.
	MicroMinContext int    `yaml:"micro_min_context"`
	StateDir        string `yaml:"state_dir"`
}

// LayerResult records one consolidation layer run, persisted across
// restarts.
type LayerResult struct {
	Layer          string    `json:"layer"`
	Success        bool      `json:"success"`
	ItemsProcessed int       `json:"items_processed"`
	ItemsExtracted int       `json:"items_extracted"`
	Timestamp      time.Time `json:"timestamp"`
}

type autoState struct {
	Results []LayerResult `json:"results"`
}

// AutoConsolidator drives consolidation on three cadences: micro-syncs a
// few times a day, a daily pass in the evening, and a weekly deep pass.
type AutoConsolidator struct {
	consolidator *Consolidator
	system       *System
	cfg          AutoConfig
	logger       *slog.Logger
	state        autoState

	// now is swappable in tests.
	now func() time.Time
}

// NewAutoConsolidator loads persisted state and returns the driver.
func NewAutoConsolidator(consolidator *Consolidator, system *System, cfg AutoConfig, logger *slog.Logger) *AutoConsolidator {
	if cfg.DailyHour <= 0 {
		cfg.DailyHour = 23
	}
	if cfg.WeeklyHour <= 0 {
		cfg.WeeklyHour = 22
	}
	if len(cfg.MicroHours) == 0 {
		cfg.MicroHours = []int{10, 13, 16, 19, 22}
	}
	if cfg.MicroMinContext <= 0 {
		cfg.MicroMinContext = 100
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &AutoConsolidator{
		consolidator: consolidator,
		system:       system,
		cfg:          cfg,
		logger:       logger,
		now:          time.Now,
	}
	a.loadState()
	return a
}

func (a *AutoConsolidator) statePath() string {
	return filepath.Join(a.cfg.StateDir, "consolidation_state.json")
}

func (a *AutoConsolidator) loadState() {
	data, err := os.ReadFile(a.statePath())
	if err != nil {
		return
	}
	if err := json.Unmarshal(data, &a.state); err != nil {
		a.logger.Warn("ignoring corrupt consolidation state", "error", err)
		a.state = autoState{}
	}
}

func (a *AutoConsolidator) saveState() {
	if len(a.state.Results) > 10 {
		a.state.Results = a.state.Results[len(a.state.Results)-10:]
	}
	data, err := json.MarshalIndent(a.state, "", "  ")
	if err != nil {
		return
	}
	if err := os.MkdirAll(a.cfg.StateDir, 0o755); err != nil {
		a.logger.Warn("failed to create state dir", "error", err)
		return
	}
	if err := os.WriteFile(a.statePath(), data, 0o644); err != nil {
		a.logger.Warn("failed to persist consolidation state", "error", err)
	}
}

// Results returns the retained run history, newest last.
func (a *AutoConsolidator) Results() []LayerResult {
	out := make([]LayerResult, len(a.state.Results))
	copy(out, a.state.Results)
	return out
}

// Run blocks until the context is cancelled, waking every minute and
// firing whichever layers are due at the top of the hour.
func (a *AutoConsolidator) Run(ctx context.Context) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()
	a.logger.Info("auto-consolidation started",
		"daily_hour", a.cfg.DailyHour,
		"weekly_day", a.cfg.WeeklyDay,
		"micro_hours", fmt.Sprint(a.cfg.MicroHours),
	)
	for {
		select {
		case <-ctx.Done():
			a.logger.Info("auto-consolidation stopped")
			return
		case <-ticker.C:
			a.Tick(ctx)
		}
	}
}

// Tick fires any layer due at the current wall time. Exported so the
// loop is testable without waiting.
func (a *AutoConsolidator) Tick(ctx context.Context) {
	now := a.now()
	if now.Minute() != 0 {
		return
	}
	hour := now.Hour()

	if hour == a.cfg.WeeklyHour && int(now.Weekday()) == a.cfg.WeeklyDay {
		a.weeklyCompound(ctx)
		return
	}
	if hour == a.cfg.DailyHour {
		a.runDaily(ctx)
		a.writeDailyLog(now)
		return
	}
	for _, h := range a.cfg.MicroHours {
		if hour == h {
			a.microSync(now)
			return
		}
	}
}

func (a *AutoConsolidator) runDaily(ctx context.Context) {
	stats, err := a.consolidator.Run(ctx)
	result := LayerResult{
		Layer:     "daily",
		Success:   err == nil,
		Timestamp: a.now(),
	}
	if stats != nil {
		result.ItemsProcessed = stats.Collected
		result.ItemsExtracted = stats.FactsExtracted + stats.BeliefsExtracted + stats.SummariesCreated
	}
	if err != nil {
		a.logger.Error("daily consolidation failed", "error", err)
	}
	a.state.Results = append(a.state.Results, result)
	a.saveState()
}

// weeklyCompound distills the week's memories into tagged core entries
// instead of rerunning the daily pass.
func (a *AutoConsolidator) weeklyCompound(ctx context.Context) {
	result := LayerResult{Layer: "weekly", Timestamp: a.now()}

	recalled, err := a.system.Recall(ctx, "过去一周 重要 决策 偏好", 50)
	if err != nil {
		a.logger.Error("weekly compound recall failed", "error", err)
		a.state.Results = append(a.state.Results, result)
		a.saveState()
		return
	}

	lines := make([]string, 0, len(recalled))
	for _, r := range recalled {
		lines = append(lines, r.Entry.Content)
	}
	saved := 0
	for _, core := range coreMemories(lines) {
		if _, err := a.system.Remember(ctx, core, TypeSummary, LevelFact, []string{"core", "weekly_compound"}); err != nil {
			a.logger.Warn("failed to save core memory", "error", err)
			continue
		}
		saved++
	}

	result.Success = true
	result.ItemsProcessed = len(recalled)
	result.ItemsExtracted = saved
	a.state.Results = append(a.state.Results, result)
	a.saveState()
	a.logger.Info("weekly compound finished", "core_memories", saved)
}

// coreKinds classifies week lines into core-memory categories.
var coreKinds = []struct {
	label    string
	keywords []string
}{
	{"Preference", []string{"喜欢", "偏好", "习惯", "总是"}},
	{"Decision", []string{"决定", "选择", "使用", "采用"}},
	{"Milestone", []string{"完成", "发布", "上线", "修复"}},
}

// coreMemories extracts up to 20 deduplicated labeled lines.
func coreMemories(lines []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for _, kind := range coreKinds {
			for _, kw := range kind.keywords {
				if !strings.Contains(line, kw) {
					continue
				}
				entry := fmt.Sprintf("[%s] %s", kind.label, line)
				if !seen[entry] {
					seen[entry] = true
					out = append(out, entry)
					if len(out) == 20 {
						return out
					}
				}
				break
			}
		}
	}
	return out
}

// microSync appends a snippet of the current working context to today's
// log. It is deliberately lightweight: no consolidation, no LLM calls.
func (a *AutoConsolidator) microSync(now time.Time) {
	result := LayerResult{Layer: "micro", Success: true, Timestamp: a.now()}

	context := a.system.Working().ReadSlot("context")
	if len([]rune(context)) < a.cfg.MicroMinContext {
		a.logger.Debug("skipping micro-sync, working context too small")
		a.state.Results = append(a.state.Results, result)
		a.saveState()
		return
	}

	snippet := []rune(context)
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	a.appendDailyLog(now, fmt.Sprintf("[Micro-Sync] %s...", string(snippet)))

	result.ItemsProcessed = 1
	result.ItemsExtracted = 1
	a.state.Results = append(a.state.Results, result)
	a.saveState()
}

// appendDailyLog adds a line to today's digest, creating it if missing.
func (a *AutoConsolidator) appendDailyLog(now time.Time, content string) {
	dir := filepath.Join(a.cfg.StateDir, "daily")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		a.logger.Warn("failed to create daily log dir", "error", err)
		return
	}
	path := filepath.Join(dir, now.Format("2006-01-02")+".md")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		a.logger.Warn("failed to open daily log", "error", err)
		return
	}
	defer f.Close()
	fmt.Fprintf(f, "\n%s\n", content)
}

// writeDailyLog appends a human-readable digest under daily/.
func (a *AutoConsolidator) writeDailyLog(now time.Time) {
	dir := filepath.Join(a.cfg.StateDir, "daily")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		a.logger.Warn("failed to create daily log dir", "error", err)
		return
	}
	path := filepath.Join(dir, now.Format("2006-01-02")+".md")

	stats, usingFallback, err := a.system.Stats(context.Background())
	if err != nil {
		a.logger.Warn("failed to read store stats for daily log", "error", err)
		return
	}
	content := fmt.Sprintf("# 记忆日报 %s\n\n- 总条数: %d\n- 高置信: %d\n- 中置信: %d\n- 低置信: %d\n- 降级模式: %v\n",
		now.Format("2006-01-02"),
		stats.Total,
		stats.ByConfidence["high"],
		stats.ByConfidence["medium"],
		stats.ByConfidence["low"],
		usingFallback,
	)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		a.logger.Warn("failed to write daily log", "error", err)
	}
}
