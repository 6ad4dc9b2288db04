// Package memory implements the two-tier memory subsystem: a bounded
// working memory with token-aware compression and a persistent long-term
// store with vector search and a file-based fallback.
package memory

import (
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Type classifies what kind of information an entry carries.
type Type string

const (
	TypeObservation Type = "observation"
	TypeFact        Type = "fact"
	TypeKnowledge   Type = "knowledge"
	TypeEpisodic    Type = "episodic"
	TypeSemantic    Type = "semantic"
	TypeProcedural  Type = "procedural"
	TypeEmotional   Type = "emotional"
	TypeSummary     Type = "summary"
	TypeSolution    Type = "solution"
	TypeDecision    Type = "decision"
	TypeBugfix      Type = "bugfix"
	TypePattern     Type = "pattern"
)

// Level expresses how much an entry should be trusted over time.
// Higher levels decay slower.
type Level string

const (
	LevelFact    Level = "FACT"
	LevelSummary Level = "SUMMARY"
	LevelBelief  Level = "BELIEF"
	LevelEvent   Level = "EVENT"
	LevelGossip  Level = "GOSSIP"
)

// DecayRate returns the per-day confidence decay for the level.
func (l Level) DecayRate() float64 {
	switch l {
	case LevelFact:
		return 0.008
	case LevelSummary:
		return 0.025
	case LevelBelief:
		return 0.07
	case LevelEvent:
		return 0.15
	case LevelGossip:
		return 0.20
	default:
		return 0.15
	}
}

// ForgetThreshold is the confidence below which an entry is eligible
// for archiving.
const ForgetThreshold = 0.3

// Entry is a single long-term memory item. Identity is immutable;
// confidence and access bookkeeping are not.
type Entry struct {
	ID                string         `json:"id"`
	Content           string         `json:"content"`
	MemoryType        Type           `json:"memory_type"`
	Level             Level          `json:"confidence_level"`
	CreatedAt         time.Time      `json:"created_at"`
	LastAccessed      time.Time      `json:"last_accessed"`
	InitialConfidence float64        `json:"initial_confidence"`
	AccessCount       int            `json:"access_count"`
	Tags              []string       `json:"tags"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	Source            string         `json:"source,omitempty"`

	// Embedding is populated when the entry has been vectorized.
	// It is persisted in the vector table, not serialized with the entry.
	Embedding []float32 `json:"-"`
}

// NewEntry creates an entry with a fresh short id and full confidence
// bookkeeping initialized to now.
func NewEntry(content string, memType Type, level Level) *Entry {
	now := time.Now()
	return &Entry{
		ID:                ShortID(),
		Content:           content,
		MemoryType:        memType,
		Level:             level,
		CreatedAt:         now,
		LastAccessed:      now,
		InitialConfidence: 1.0,
		Tags:              []string{},
	}
}

// ShortID returns a 12-character id derived from a UUID.
func ShortID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}

// CurrentConfidence computes the decayed confidence at the given time.
// Repeated access grants a small boost, capped at 0.1.
func (e *Entry) CurrentConfidence(now time.Time) float64 {
	days := now.Sub(e.CreatedAt).Hours() / 24
	if days < 0 {
		days = 0
	}
	decayed := e.InitialConfidence * math.Pow(1-e.Level.DecayRate(), days)
	boost := math.Min(0.1, float64(e.AccessCount)*0.01)
	return math.Min(1.0, decayed+boost)
}

// ShouldForget reports whether the entry has decayed below the
// forgetting threshold.
func (e *Entry) ShouldForget(now time.Time) bool {
	return e.CurrentConfidence(now) < ForgetThreshold
}

// Access records a read of the entry.
func (e *Entry) Access() {
	e.LastAccessed = time.Now()
	e.AccessCount++
}

// HasTag reports whether the entry carries the given tag.
func (e *Entry) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
