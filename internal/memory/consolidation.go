package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
)

// Extractor asks an LLM to distill structured memories from a batch of
// raw entries. Implementations return the model's raw text; the
// consolidator parses it.
type Extractor interface {
	Extract(ctx context.Context, prompt string) (string, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, prompt string) (string, error)

func (f ExtractorFunc) Extract(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// ConsolidationConfig tunes the consolidation pass.
type ConsolidationConfig struct {
	DaysBack int `yaml:"days_back"`
	// MinSignificant is the batch size below which the LLM extractor is
	// skipped in favor of the rule-based path.
	MinSignificant int `yaml:"min_significant"`
	BatchLimit     int `yaml:"batch_limit"`
}

// ConsolidationStats reports what one pass did.
type ConsolidationStats struct {
	Collected        int `json:"collected"`
	Filtered         int `json:"filtered"`
	FactsExtracted   int `json:"facts_extracted"`
	BeliefsExtracted int `json:"beliefs_extracted"`
	SummariesCreated int `json:"summaries_created"`
	Archived         int `json:"archived"`
}

// Consolidator periodically distills durable facts, beliefs, and
// summaries out of raw event memories, and archives entries that have
// decayed past the forgetting threshold.
type Consolidator struct {
	system    *System
	extractor Extractor
	cfg       ConsolidationConfig
	logger    *slog.Logger
}

// NewConsolidator creates a consolidator. extractor may be nil, in which
// case only the rule-based extraction runs.
func NewConsolidator(system *System, extractor Extractor, cfg ConsolidationConfig, logger *slog.Logger) *Consolidator {
	if cfg.DaysBack <= 0 {
		cfg.DaysBack = 1
	}
	if cfg.MinSignificant <= 0 {
		cfg.MinSignificant = 5
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 200
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consolidator{system: system, extractor: extractor, cfg: cfg, logger: logger}
}

// Run executes one consolidation pass: collect, filter, extract, archive,
// and store.
func (c *Consolidator) Run(ctx context.Context) (*ConsolidationStats, error) {
	stats := &ConsolidationStats{}
	now := time.Now()
	store := c.system.Store()

	collected, err := store.GetAfter(ctx, now.AddDate(0, 0, -c.cfg.DaysBack), c.cfg.BatchLimit)
	if err != nil {
		return stats, fmt.Errorf("failed to collect entries: %w", err)
	}
	stats.Collected = len(collected)

	significant := filterSignificant(collected, now)
	stats.Filtered = stats.Collected - len(significant)

	var created []*Entry
	if c.extractor != nil && len(significant) >= c.cfg.MinSignificant {
		extracted, err := c.extractWithLLM(ctx, significant)
		if err != nil {
			c.logger.Warn("LLM extraction failed, using rule-based extraction", "error", err)
			extracted = ruleBasedExtract(significant, now)
		}
		created = extracted
	} else {
		created = ruleBasedExtract(significant, now)
	}

	for _, e := range created {
		switch e.Level {
		case LevelFact:
			stats.FactsExtracted++
		case LevelBelief:
			stats.BeliefsExtracted++
		case LevelSummary:
			stats.SummariesCreated++
		}
	}

	// Decayed entries are archived by tag, never deleted.
	for _, e := range collected {
		if e.ShouldForget(now) && !e.HasTag("archived") {
			e.Tags = append(e.Tags, "archived")
			if err := store.Update(ctx, e); err != nil {
				c.logger.Warn("failed to archive entry", "id", e.ID, "error", err)
				continue
			}
			stats.Archived++
		}
	}

	for _, e := range created {
		if err := store.Save(ctx, e); err != nil {
			c.logger.Warn("failed to store consolidated entry", "error", err)
		}
	}

	c.logger.Info("consolidation pass complete",
		"collected", stats.Collected,
		"filtered", stats.Filtered,
		"facts", stats.FactsExtracted,
		"beliefs", stats.BeliefsExtracted,
		"summaries", stats.SummariesCreated,
		"archived", stats.Archived,
	)
	return stats, nil
}

// filterSignificant drops low-confidence entries and stale never-read
// ones (older than 3 days and never accessed).
func filterSignificant(entries []*Entry, now time.Time) []*Entry {
	var out []*Entry
	for _, e := range entries {
		if e.CurrentConfidence(now) < ForgetThreshold {
			continue
		}
		age := now.Sub(e.CreatedAt)
		if age > 72*time.Hour && e.AccessCount < 1 {
			continue
		}
		out = append(out, e)
	}
	return out
}

type extractionResult struct {
	Facts     []string `json:"facts"`
	Beliefs   []string `json:"beliefs"`
	Summaries []string `json:"summaries"`
}

const extractionPrompt = `分析以下记忆条目，提取出其中值得长期保存的内容。
以 JSON 格式返回：{"facts": ["..."], "beliefs": ["..."], "summaries": ["..."]}
- facts: 确定无疑的事实
- beliefs: 可能成立的推断
- summaries: 对这批记忆的概括

记忆条目：
%s`

var jsonBlockPattern = regexp.MustCompile(`(?s)\{.*\}`)

func (c *Consolidator) extractWithLLM(ctx context.Context, entries []*Entry) ([]*Entry, error) {
	var lines []string
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("- [%s] %s", e.MemoryType, e.Content))
	}
	raw, err := c.extractor.Extract(ctx, fmt.Sprintf(extractionPrompt, strings.Join(lines, "\n")))
	if err != nil {
		return nil, err
	}

	blob := jsonBlockPattern.FindString(raw)
	if blob == "" {
		return nil, fmt.Errorf("no JSON object in extraction response")
	}
	var result extractionResult
	if err := json.Unmarshal([]byte(blob), &result); err != nil {
		return nil, fmt.Errorf("failed to parse extraction response: %w", err)
	}

	var created []*Entry
	for _, fact := range result.Facts {
		e := NewEntry(fact, TypeFact, LevelFact)
		e.Tags = []string{"auto_extracted", "fact"}
		created = append(created, e)
	}
	for _, belief := range result.Beliefs {
		e := NewEntry(belief, TypeSemantic, LevelBelief)
		e.Tags = []string{"auto_extracted", "belief"}
		created = append(created, e)
	}
	for _, summary := range result.Summaries {
		e := NewEntry(summary, TypeSummary, LevelSummary)
		e.Tags = []string{"auto_summary"}
		created = append(created, e)
	}
	return created, nil
}

// ruleBasedExtract is the LLM-free path: promote fully trusted entries
// to facts and emit per-day count summaries for the last three days.
func ruleBasedExtract(entries []*Entry, now time.Time) []*Entry {
	var created []*Entry
	for _, e := range entries {
		if e.InitialConfidence >= 0.9 && e.Level != LevelFact {
			f := NewEntry(e.Content, TypeFact, LevelFact)
			f.Tags = []string{"auto_extracted", "fact"}
			created = append(created, f)
		}
	}

	perDay := make(map[string]int)
	for _, e := range entries {
		perDay[e.CreatedAt.Format("2006-01-02")]++
	}
	for i := 0; i < 3; i++ {
		day := now.AddDate(0, 0, -i).Format("2006-01-02")
		n, ok := perDay[day]
		if !ok || n == 0 {
			continue
		}
		s := NewEntry(fmt.Sprintf("%s 共记录 %d 条记忆", day, n), TypeSummary, LevelSummary)
		s.Tags = []string{"auto_summary"}
		created = append(created, s)
	}
	return created
}
