package memory

import (
	"context"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"
)

// RetrievalConfig tunes the multi-signal ranker.
type RetrievalConfig struct {
	TopK          int     `yaml:"top_k"`
	MinConfidence float64 `yaml:"min_confidence"`
	// RecencyDecayHours is the e-folding time of the recency signal.
	RecencyDecayHours float64 `yaml:"recency_decay_hours"`
	// TokenBudget bounds the rendered memory block.
	TokenBudget int `yaml:"token_budget"`
}

// Retriever ranks long-term memories for a query by blending semantic
// similarity, recency, importance, and access frequency.
type Retriever struct {
	system  *System
	cfg     RetrievalConfig
	counter TokenCounter
	logger  *slog.Logger
}

// NewRetriever creates a retriever over the memory system.
func NewRetriever(system *System, cfg RetrievalConfig, counter TokenCounter, logger *slog.Logger) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 0.3
	}
	if cfg.RecencyDecayHours <= 0 {
		cfg.RecencyDecayHours = 168
	}
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = 800
	}
	if counter == nil {
		counter = HeuristicCounter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{system: system, cfg: cfg, counter: counter, logger: logger}
}

// Retrieved is a ranked entry with its component scores.
type Retrieved struct {
	Entry      *Entry
	Semantic   float64
	Recency    float64
	Importance float64
	Frequency  float64
	Final      float64
}

// Word boundaries in Go regexps are ASCII-only, so match letter/digit
// runs directly. CJK text has no spaces between words but still forms
// runs the keyword bump can match against.
var wordPattern = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)

// keywords extracts up to three unique keywords from the query.
func keywords(query string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range wordPattern.FindAllString(strings.ToLower(query), -1) {
		if seen[w] {
			continue
		}
		seen[w] = true
		out = append(out, w)
		if len(out) == 3 {
			break
		}
	}
	return out
}

// Retrieve returns the topK entries for the query, ranked by the blended
// score and filtered by minimum confidence.
func (r *Retriever) Retrieve(ctx context.Context, query string) []Retrieved {
	now := time.Now()

	// Over-fetch so the re-rank has room to reorder.
	candidates := make(map[string]*Retrieved)
	vecResults, err := r.system.Recall(ctx, query, r.cfg.TopK*2)
	if err != nil {
		r.logger.Warn("semantic recall failed", "error", err)
	}
	for _, sr := range vecResults {
		candidates[sr.Entry.ID] = &Retrieved{Entry: sr.Entry, Semantic: sr.Score}
	}

	// Keyword hits reinforce existing candidates and seed new ones at a
	// neutral semantic score.
	for _, kw := range keywords(query) {
		entries, err := r.system.Store().SearchKeyword(ctx, kw, r.cfg.TopK)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if c, ok := candidates[e.ID]; ok {
				c.Semantic = math.Min(1.0, c.Semantic+0.1)
			} else {
				candidates[e.ID] = &Retrieved{Entry: e, Semantic: 0.5}
			}
		}
	}

	ranked := make([]Retrieved, 0, len(candidates))
	for _, c := range candidates {
		if c.Entry.CurrentConfidence(now) < r.cfg.MinConfidence {
			continue
		}
		c.Recency = recencyScore(c.Entry, now, r.cfg.RecencyDecayHours)
		c.Importance = importanceScore(c.Entry)
		c.Frequency = frequencyScore(c.Entry)
		c.Final = 0.3*c.Semantic + 0.3*c.Recency + 0.3*c.Importance + 0.1*c.Frequency
		ranked = append(ranked, *c)
	}

	sort.Slice(ranked, func(i, j int) bool { return ranked[i].Final > ranked[j].Final })
	if len(ranked) > r.cfg.TopK {
		ranked = ranked[:r.cfg.TopK]
	}
	return ranked
}

// RenderBlock retrieves for the query and renders the memory block for
// prompt injection, honoring the token budget. Every rendered entry
// counts as accessed.
func (r *Retriever) RenderBlock(ctx context.Context, query string) string {
	ranked := r.Retrieve(ctx, query)
	if len(ranked) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("【相关记忆】\n")
	budget := r.cfg.TokenBudget - r.counter.Count("【相关记忆】")
	for _, item := range ranked {
		line := "- " + item.Entry.Content
		cost := int(float64(len([]rune(line))) / 0.75)
		if cost > budget {
			break
		}
		budget -= cost
		b.WriteString(line)
		b.WriteString("\n")
		r.system.Touch(ctx, item.Entry)
	}
	out := strings.TrimRight(b.String(), "\n")
	if out == "【相关记忆】" {
		return ""
	}
	return out
}

func recencyScore(e *Entry, now time.Time, decayHours float64) float64 {
	hours := now.Sub(e.CreatedAt).Hours()
	if hours < 0 {
		hours = 0
	}
	return math.Exp(-hours / decayHours)
}

var levelImportanceBonus = map[Level]float64{
	LevelFact:    0.3,
	LevelSummary: 0.2,
	LevelBelief:  0.1,
	LevelEvent:   0.0,
	LevelGossip:  -0.1,
}

var typeImportanceBonus = map[Type]float64{
	TypeSolution:   0.2,
	TypeFact:       0.15,
	TypeKnowledge:  0.1,
	TypeDecision:   0.1,
	TypeBugfix:     0.1,
	TypeProcedural: 0.05,
	TypePattern:    0.05,
}

func importanceScore(e *Entry) float64 {
	score := e.InitialConfidence*0.5 + levelImportanceBonus[e.Level] + typeImportanceBonus[e.MemoryType]
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

func frequencyScore(e *Entry) float64 {
	if e.AccessCount <= 0 {
		return 0
	}
	return math.Min(1.0, math.Log1p(float64(e.AccessCount))/math.Log1p(10))
}
