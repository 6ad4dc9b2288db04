package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// FallbackStore is a plain-file Store used when SQLite is unavailable.
// Each entry lives in <dir>/fallback/<id>.json; a lightweight index.json
// carries previews for listing and keyword search. No vector search:
// SearchVector degrades to term matching on the query-rendered keywords.
type FallbackStore struct {
	mu  sync.Mutex
	dir string
	idx fallbackIndex
}

type fallbackIndex struct {
	Entries map[string]fallbackIndexEntry `json:"entries"`
}

type fallbackIndexEntry struct {
	ContentPreview string    `json:"content_preview"`
	MemoryType     string    `json:"memory_type"`
	Level          string    `json:"confidence_level"`
	CreatedAt      time.Time `json:"created_at"`
}

const previewLen = 100

// NewFallbackStore creates the fallback directory and loads the index.
func NewFallbackStore(dataDir string) (*FallbackStore, error) {
	dir := filepath.Join(dataDir, "fallback")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create fallback dir: %w", err)
	}
	s := &FallbackStore{dir: dir, idx: fallbackIndex{Entries: make(map[string]fallbackIndexEntry)}}

	data, err := os.ReadFile(s.indexPath())
	if err == nil {
		// Ignore a corrupt index: entries remain on disk and the index
		// is rebuilt as they are rewritten.
		_ = json.Unmarshal(data, &s.idx)
		if s.idx.Entries == nil {
			s.idx.Entries = make(map[string]fallbackIndexEntry)
		}
	}
	return s, nil
}

func (s *FallbackStore) indexPath() string {
	return filepath.Join(s.dir, "index.json")
}

func (s *FallbackStore) entryPath(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// Save writes the entry file and updates the index.
func (s *FallbackStore) Save(ctx context.Context, entry *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = ShortID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}
	if err := os.WriteFile(s.entryPath(entry.ID), data, 0o644); err != nil {
		return fmt.Errorf("failed to write entry file: %w", err)
	}

	preview := entry.Content
	if len([]rune(preview)) > previewLen {
		preview = string([]rune(preview)[:previewLen])
	}
	s.idx.Entries[entry.ID] = fallbackIndexEntry{
		ContentPreview: preview,
		MemoryType:     string(entry.MemoryType),
		Level:          string(entry.Level),
		CreatedAt:      entry.CreatedAt,
	}
	return s.writeIndexLocked()
}

func (s *FallbackStore) writeIndexLocked() error {
	data, err := json.MarshalIndent(s.idx, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal index: %w", err)
	}
	if err := os.WriteFile(s.indexPath(), data, 0o644); err != nil {
		return fmt.Errorf("failed to write index: %w", err)
	}
	return nil
}

// Get loads an entry file, nil when absent.
func (s *FallbackStore) Get(ctx context.Context, id string) (*Entry, error) {
	data, err := os.ReadFile(s.entryPath(id))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read entry %s: %w", id, err)
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to parse entry %s: %w", id, err)
	}
	return &entry, nil
}

// Update rewrites the entry.
func (s *FallbackStore) Update(ctx context.Context, entry *Entry) error {
	return s.Save(ctx, entry)
}

// Delete removes the entry file and its index row.
func (s *FallbackStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.entryPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete entry %s: %w", id, err)
	}
	delete(s.idx.Entries, id)
	return s.writeIndexLocked()
}

// SearchVector is unsupported on files; callers get an empty result so
// retrieval can fall through to keyword matching.
func (s *FallbackStore) SearchVector(ctx context.Context, embedding []float32, topK int) ([]ScoredEntry, error) {
	return nil, nil
}

// SearchKeyword scans previews first and falls back to full content on a
// preview miss.
func (s *FallbackStore) SearchKeyword(ctx context.Context, keyword string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 10
	}
	kw := strings.ToLower(keyword)

	s.mu.Lock()
	ids := make([]string, 0, len(s.idx.Entries))
	for id := range s.idx.Entries {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var matched []*Entry
	for _, id := range ids {
		entry, err := s.Get(ctx, id)
		if err != nil || entry == nil {
			continue
		}
		if strings.Contains(strings.ToLower(entry.Content), kw) {
			matched = append(matched, entry)
		}
	}
	now := time.Now()
	sort.Slice(matched, func(i, j int) bool {
		ci, cj := matched[i].CurrentConfidence(now), matched[j].CurrentConfidence(now)
		if ci != cj {
			return ci > cj
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// SearchTerms scores entries by the fraction of query terms they contain.
func (s *FallbackStore) SearchTerms(ctx context.Context, query string, limit int) ([]ScoredEntry, error) {
	terms := strings.Fields(strings.ToLower(query))
	if len(terms) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 10
	}

	s.mu.Lock()
	ids := make([]string, 0, len(s.idx.Entries))
	for id := range s.idx.Entries {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	var scored []ScoredEntry
	for _, id := range ids {
		entry, err := s.Get(ctx, id)
		if err != nil || entry == nil {
			continue
		}
		content := strings.ToLower(entry.Content)
		hits := 0
		for _, term := range terms {
			if strings.Contains(content, term) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		scored = append(scored, ScoredEntry{Entry: entry, Score: float64(hits) / float64(len(terms))})
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// GetRecent returns the newest entries per the index.
func (s *FallbackStore) GetRecent(ctx context.Context, limit int) ([]*Entry, error) {
	return s.listByTime(ctx, limit, func(created time.Time) bool { return true })
}

// GetBefore returns entries created strictly before the cutoff.
func (s *FallbackStore) GetBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Entry, error) {
	return s.listByTime(ctx, limit, func(created time.Time) bool { return created.Before(cutoff) })
}

// GetAfter returns entries created at or after the cutoff.
func (s *FallbackStore) GetAfter(ctx context.Context, cutoff time.Time, limit int) ([]*Entry, error) {
	return s.listByTime(ctx, limit, func(created time.Time) bool { return !created.Before(cutoff) })
}

func (s *FallbackStore) listByTime(ctx context.Context, limit int, keep func(time.Time) bool) ([]*Entry, error) {
	if limit <= 0 {
		limit = 100
	}

	type idTime struct {
		id string
		at time.Time
	}
	s.mu.Lock()
	candidates := make([]idTime, 0, len(s.idx.Entries))
	for id, meta := range s.idx.Entries {
		if keep(meta.CreatedAt) {
			candidates = append(candidates, idTime{id, meta.CreatedAt})
		}
	}
	s.mu.Unlock()

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].at.After(candidates[j].at) })
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	entries := make([]*Entry, 0, len(candidates))
	for _, c := range candidates {
		entry, err := s.Get(ctx, c.id)
		if err != nil || entry == nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Stats summarizes the index.
func (s *FallbackStore) Stats(ctx context.Context) (*StoreStats, error) {
	s.mu.Lock()
	ids := make([]string, 0, len(s.idx.Entries))
	byType := make(map[string]int)
	for id, meta := range s.idx.Entries {
		ids = append(ids, id)
		byType[meta.MemoryType]++
	}
	s.mu.Unlock()

	stats := &StoreStats{
		Total:        len(ids),
		ByType:       byType,
		ByConfidence: map[string]int{"high": 0, "medium": 0, "low": 0},
	}
	now := time.Now()
	for _, id := range ids {
		entry, err := s.Get(ctx, id)
		if err != nil || entry == nil {
			continue
		}
		switch conf := entry.CurrentConfidence(now); {
		case conf >= 0.8:
			stats.ByConfidence["high"]++
		case conf >= 0.5:
			stats.ByConfidence["medium"]++
		default:
			stats.ByConfidence["low"]++
		}
	}
	return stats, nil
}

// Close is a no-op for the file store.
func (s *FallbackStore) Close() error {
	return nil
}
