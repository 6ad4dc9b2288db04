package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/haasonsaas/sidekick/internal/memory/embeddings"
)

// System fronts the long-term stores: the SQLite store when healthy, the
// file-based fallback after a write failure. A store failure latches the
// fallback permanently for the process; a recall failure only degrades
// that one call.
type System struct {
	mu            sync.Mutex
	primary       Store
	fallback      *FallbackStore
	usingFallback bool

	embedder embeddings.Provider
	working  *WorkingMemory
	logger   *slog.Logger
}

// SystemConfig wires the memory system together.
type SystemConfig struct {
	DataDir string        `yaml:"data_dir"`
	SQLite  SQLiteConfig  `yaml:"sqlite"`
	Working WorkingConfig `yaml:"working"`
}

// NewSystem opens both stores. If the SQLite store cannot be opened the
// system starts latched onto the fallback.
func NewSystem(cfg SystemConfig, embedder embeddings.Provider, working *WorkingMemory, logger *slog.Logger) (*System, error) {
	if logger == nil {
		logger = slog.Default()
	}
	fallback, err := NewFallbackStore(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	s := &System{
		fallback: fallback,
		embedder: embedder,
		working:  working,
		logger:   logger,
	}

	primary, err := NewSQLiteStore(cfg.SQLite)
	if err != nil {
		logger.Warn("long-term store unavailable, starting on file fallback", "error", err)
		s.usingFallback = true
	} else {
		s.primary = primary
	}
	return s, nil
}

// NewSystemWithStores wires explicit stores, for tests.
func NewSystemWithStores(primary Store, fallback *FallbackStore, embedder embeddings.Provider, working *WorkingMemory, logger *slog.Logger) *System {
	if logger == nil {
		logger = slog.Default()
	}
	return &System{
		primary:  primary,
		fallback: fallback,
		embedder: embedder,
		working:  working,
		logger:   logger,
	}
}

// Working returns the working-memory tier.
func (s *System) Working() *WorkingMemory {
	return s.working
}

// UsingFallback reports whether writes have been latched onto the
// file store.
func (s *System) UsingFallback() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usingFallback
}

// Store returns the store that should serve the next operation.
func (s *System) Store() Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.usingFallback || s.primary == nil {
		return s.fallback
	}
	return s.primary
}

func (s *System) latchFallback(op string, err error) {
	s.mu.Lock()
	already := s.usingFallback
	s.usingFallback = true
	s.mu.Unlock()
	if !already {
		s.logger.Error("long-term store failed, switching to file fallback", "op", op, "error", err)
	}
}

// Remember embeds and persists a new entry, returning it. An embedding
// failure is non-fatal: the entry is stored without a vector.
func (s *System) Remember(ctx context.Context, content string, memType Type, level Level, tags []string) (*Entry, error) {
	entry := NewEntry(content, memType, level)
	if len(tags) > 0 {
		entry.Tags = tags
	}

	if s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, content)
		if err != nil {
			s.logger.Warn("embedding failed, storing entry without vector", "error", err)
		} else {
			entry.Embedding = vec
		}
	}

	if err := s.Store().Save(ctx, entry); err != nil {
		s.latchFallback("save", err)
		if ferr := s.fallback.Save(ctx, entry); ferr != nil {
			return nil, ferr
		}
	}
	return entry, nil
}

// Recall performs vector search over long-term memory. On the fallback
// store (or on a primary failure) it degrades to term matching.
func (s *System) Recall(ctx context.Context, query string, topK int) ([]ScoredEntry, error) {
	store := s.Store()

	if fb, ok := store.(*FallbackStore); ok {
		return fb.SearchTerms(ctx, query, topK)
	}

	var embedding []float32
	if s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, query)
		if err != nil {
			s.logger.Warn("query embedding failed, degrading to keyword recall", "error", err)
		} else {
			embedding = vec
		}
	}

	if embedding != nil {
		results, err := store.SearchVector(ctx, embedding, topK)
		if err == nil {
			return results, nil
		}
		// Degrade this call only; a read failure does not latch.
		s.logger.Warn("vector recall failed, degrading to keyword recall", "error", err)
	}

	entries, err := store.SearchKeyword(ctx, query, topK)
	if err != nil {
		return s.fallback.SearchTerms(ctx, query, topK)
	}
	scored := make([]ScoredEntry, 0, len(entries))
	for _, e := range entries {
		scored = append(scored, ScoredEntry{Entry: e, Score: 0.5})
	}
	return scored, nil
}

// Forget deletes an entry from the active store.
func (s *System) Forget(ctx context.Context, id string) error {
	return s.Store().Delete(ctx, id)
}

// Stats reports active-store statistics plus which tier is serving.
func (s *System) Stats(ctx context.Context) (*StoreStats, bool, error) {
	stats, err := s.Store().Stats(ctx)
	return stats, s.UsingFallback(), err
}

// RecentContext renders a short digest of recent memories for prompts.
func (s *System) RecentContext(ctx context.Context, limit int) string {
	entries, err := s.Store().GetRecent(ctx, limit)
	if err != nil || len(entries) == 0 {
		return ""
	}
	out := ""
	for _, e := range entries {
		if out != "" {
			out += "\n"
		}
		out += "- " + e.Content
	}
	return out
}

// Close closes both stores.
func (s *System) Close() error {
	var firstErr error
	if s.primary != nil {
		if err := s.primary.Close(); err != nil {
			firstErr = err
		}
	}
	if err := s.fallback.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// Touch records an access on an entry and persists the bump.
func (s *System) Touch(ctx context.Context, entry *Entry) {
	entry.Access()
	if err := s.Store().Update(ctx, entry); err != nil {
		s.logger.Warn("failed to persist access bump", "id", entry.ID, "error", err)
	}
}

// Cutoff is a convenience for consolidation windows.
func Cutoff(daysBack int) time.Time {
	return time.Now().AddDate(0, 0, -daysBack)
}
