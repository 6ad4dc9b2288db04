package memory

import (
	"context"
	"time"
)

// ScoredEntry pairs an entry with a search score in [0,1].
type ScoredEntry struct {
	Entry *Entry
	Score float64
}

// Store is the long-term persistence contract. Both the SQLite store and
// the file-based fallback implement it.
type Store interface {
	// Save inserts or replaces an entry (and its embedding, if any).
	Save(ctx context.Context, entry *Entry) error

	// Get returns the entry by id, or nil when absent.
	Get(ctx context.Context, id string) (*Entry, error)

	// Update rewrites a previously saved entry.
	Update(ctx context.Context, entry *Entry) error

	// Delete removes an entry permanently.
	Delete(ctx context.Context, id string) error

	// SearchVector returns the topK nearest entries to the embedding,
	// scored by 1/(1+distance).
	SearchVector(ctx context.Context, embedding []float32, topK int) ([]ScoredEntry, error)

	// SearchKeyword returns entries whose content contains the keyword,
	// best-trusted first.
	SearchKeyword(ctx context.Context, keyword string, limit int) ([]*Entry, error)

	// GetRecent returns the most recently created entries.
	GetRecent(ctx context.Context, limit int) ([]*Entry, error)

	// GetBefore returns entries created strictly before the cutoff.
	GetBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Entry, error)

	// GetAfter returns entries created at or after the cutoff.
	GetAfter(ctx context.Context, cutoff time.Time, limit int) ([]*Entry, error)

	// Stats summarizes the store contents.
	Stats(ctx context.Context) (*StoreStats, error)

	// Close releases resources.
	Close() error
}

// StoreStats summarizes a store: totals, per-type counts, and confidence
// buckets (high ≥ 0.8, medium ≥ 0.5, low otherwise).
type StoreStats struct {
	Total        int            `json:"total"`
	ByType       map[string]int `json:"by_type"`
	ByConfidence map[string]int `json:"by_confidence"`
}
