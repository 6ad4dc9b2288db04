package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// SQLiteStore persists entries in two tables: memory_metadata for the
// entry fields and memory_vectors for embeddings. Vector search is a
// brute-force scan over the blobs, which is fine at personal-assistant
// scale.
type SQLiteStore struct {
	db        *sql.DB
	dimension int
}

// SQLiteConfig configures the long-term store.
type SQLiteConfig struct {
	Path      string `yaml:"path"`
	Dimension int    `yaml:"dimension"`
}

// NewSQLiteStore opens (or creates) the database and ensures the schema.
func NewSQLiteStore(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		cfg.Path = ":memory:"
	}
	if cfg.Dimension == 0 {
		cfg.Dimension = 768
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &SQLiteStore{db: db, dimension: cfg.Dimension}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLiteStoreWithDB wraps an existing connection, for tests.
func NewSQLiteStoreWithDB(db *sql.DB, dimension int) *SQLiteStore {
	if dimension == 0 {
		dimension = 768
	}
	return &SQLiteStore{db: db, dimension: dimension}
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS memory_metadata (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			memory_type TEXT NOT NULL,
			confidence_level TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			last_accessed DATETIME NOT NULL,
			initial_confidence REAL NOT NULL,
			current_confidence REAL NOT NULL,
			access_count INTEGER NOT NULL DEFAULT 0,
			tags TEXT,
			metadata TEXT,
			source TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create memory_metadata table: %w", err)
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS memory_vectors (
			id TEXT PRIMARY KEY,
			embedding BLOB NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create memory_vectors table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_memory_created ON memory_metadata(created_at)",
		"CREATE INDEX IF NOT EXISTS idx_memory_type ON memory_metadata(memory_type)",
		"CREATE INDEX IF NOT EXISTS idx_memory_confidence ON memory_metadata(current_confidence)",
	}
	for _, idx := range indexes {
		if _, err := s.db.Exec(idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// Save inserts or replaces the entry and its embedding.
func (s *SQLiteStore) Save(ctx context.Context, entry *Entry) error {
	if entry.ID == "" {
		entry.ID = ShortID()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	if entry.LastAccessed.IsZero() {
		entry.LastAccessed = entry.CreatedAt
	}

	tags, err := json.Marshal(entry.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}
	metadata, err := json.Marshal(entry.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			_ = err
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO memory_metadata
			(id, content, memory_type, confidence_level, created_at, last_accessed,
			 initial_confidence, current_confidence, access_count, tags, metadata, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID,
		entry.Content,
		string(entry.MemoryType),
		string(entry.Level),
		entry.CreatedAt,
		entry.LastAccessed,
		entry.InitialConfidence,
		entry.CurrentConfidence(time.Now()),
		entry.AccessCount,
		string(tags),
		string(metadata),
		entry.Source,
	)
	if err != nil {
		return fmt.Errorf("failed to insert entry: %w", err)
	}

	if len(entry.Embedding) > 0 {
		_, err = tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO memory_vectors (id, embedding) VALUES (?, ?)",
			entry.ID, encodeEmbedding(entry.Embedding))
		if err != nil {
			return fmt.Errorf("failed to insert embedding: %w", err)
		}
	}

	return tx.Commit()
}

// Get returns the entry by id, nil when absent.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+" FROM memory_metadata WHERE id = ?", id)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// Update rewrites the entry; it reuses Save's upsert.
func (s *SQLiteStore) Update(ctx context.Context, entry *Entry) error {
	return s.Save(ctx, entry)
}

// Delete removes the entry and its embedding.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			_ = err
		}
	}()

	if _, err := tx.ExecContext(ctx, "DELETE FROM memory_metadata WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete entry %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM memory_vectors WHERE id = ?", id); err != nil {
		return fmt.Errorf("failed to delete embedding %s: %w", id, err)
	}
	return tx.Commit()
}

// SearchVector scans all stored embeddings and returns the topK nearest
// entries scored by 1/(1+distance).
func (s *SQLiteStore) SearchVector(ctx context.Context, embedding []float32, topK int) ([]ScoredEntry, error) {
	if topK <= 0 {
		topK = 10
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.content, m.memory_type, m.confidence_level, m.created_at, m.last_accessed,
		       m.initial_confidence, m.access_count, m.tags, m.metadata, m.source, v.embedding
		FROM memory_metadata m JOIN memory_vectors v ON m.id = v.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}
	defer rows.Close()

	var results []ScoredEntry
	for rows.Next() {
		var blob []byte
		entry, err := scanEntryWithBlob(rows, &blob)
		if err != nil {
			return nil, err
		}
		stored := decodeEmbedding(blob)
		if len(stored) != len(embedding) {
			continue
		}
		dist := l2Distance(embedding, stored)
		results = append(results, ScoredEntry{Entry: entry, Score: 1.0 / (1.0 + dist)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// SearchKeyword finds entries whose content contains the keyword.
func (s *SQLiteStore) SearchKeyword(ctx context.Context, keyword string, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		selectColumns+` FROM memory_metadata
		 WHERE content LIKE ?
		 ORDER BY current_confidence DESC, created_at DESC
		 LIMIT ?`,
		"%"+keyword+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search keyword: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

// GetRecent returns the newest entries.
func (s *SQLiteStore) GetRecent(ctx context.Context, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx,
		selectColumns+" FROM memory_metadata ORDER BY created_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

// GetBefore returns entries created strictly before the cutoff.
func (s *SQLiteStore) GetBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		selectColumns+" FROM memory_metadata WHERE created_at < ? ORDER BY created_at DESC LIMIT ?",
		cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query before cutoff: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

// GetAfter returns entries created at or after the cutoff.
func (s *SQLiteStore) GetAfter(ctx context.Context, cutoff time.Time, limit int) ([]*Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		selectColumns+" FROM memory_metadata WHERE created_at >= ? ORDER BY created_at DESC LIMIT ?",
		cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query after cutoff: %w", err)
	}
	defer rows.Close()
	return collectEntries(rows)
}

// Stats summarizes the store contents.
func (s *SQLiteStore) Stats(ctx context.Context) (*StoreStats, error) {
	stats := &StoreStats{
		ByType:       make(map[string]int),
		ByConfidence: map[string]int{"high": 0, "medium": 0, "low": 0},
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT memory_type, COUNT(*) FROM memory_metadata GROUP BY memory_type")
	if err != nil {
		return nil, fmt.Errorf("failed to query type stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, err
		}
		stats.ByType[typ] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	confRows, err := s.db.QueryContext(ctx, `
		SELECT
			SUM(CASE WHEN current_confidence >= 0.8 THEN 1 ELSE 0 END),
			SUM(CASE WHEN current_confidence >= 0.5 AND current_confidence < 0.8 THEN 1 ELSE 0 END),
			SUM(CASE WHEN current_confidence < 0.5 THEN 1 ELSE 0 END)
		FROM memory_metadata
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query confidence stats: %w", err)
	}
	defer confRows.Close()
	if confRows.Next() {
		var high, medium, low sql.NullInt64
		if err := confRows.Scan(&high, &medium, &low); err != nil {
			return nil, err
		}
		stats.ByConfidence["high"] = int(high.Int64)
		stats.ByConfidence["medium"] = int(medium.Int64)
		stats.ByConfidence["low"] = int(low.Int64)
	}
	return stats, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

const selectColumns = `SELECT id, content, memory_type, confidence_level, created_at, last_accessed,
	initial_confidence, access_count, tags, metadata, source`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var entry Entry
	var typ, level, tagsJSON, metadataJSON string
	var source sql.NullString
	err := row.Scan(
		&entry.ID,
		&entry.Content,
		&typ,
		&level,
		&entry.CreatedAt,
		&entry.LastAccessed,
		&entry.InitialConfidence,
		&entry.AccessCount,
		&tagsJSON,
		&metadataJSON,
		&source,
	)
	if err != nil {
		return nil, err
	}
	entry.MemoryType = Type(typ)
	entry.Level = Level(level)
	entry.Source = source.String
	if tagsJSON != "" {
		if err := json.Unmarshal([]byte(tagsJSON), &entry.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}
	if metadataJSON != "" && metadataJSON != "null" {
		if err := json.Unmarshal([]byte(metadataJSON), &entry.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &entry, nil
}

func scanEntryWithBlob(rows *sql.Rows, blob *[]byte) (*Entry, error) {
	var entry Entry
	var typ, level, tagsJSON, metadataJSON string
	var source sql.NullString
	err := rows.Scan(
		&entry.ID,
		&entry.Content,
		&typ,
		&level,
		&entry.CreatedAt,
		&entry.LastAccessed,
		&entry.InitialConfidence,
		&entry.AccessCount,
		&tagsJSON,
		&metadataJSON,
		&source,
		blob,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to scan row: %w", err)
	}
	entry.MemoryType = Type(typ)
	entry.Level = Level(level)
	entry.Source = source.String
	if tagsJSON != "" {
		if err := json.Unmarshal([]byte(tagsJSON), &entry.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}
	if metadataJSON != "" && metadataJSON != "null" {
		if err := json.Unmarshal([]byte(metadataJSON), &entry.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	return &entry, nil
}

func collectEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// encodeEmbedding converts []float32 to little-endian bytes for storage.
func encodeEmbedding(embedding []float32) []byte {
	if len(embedding) == 0 {
		return nil
	}
	data := make([]byte, len(embedding)*4)
	for i, f := range embedding {
		bits := math.Float32bits(f)
		data[i*4] = byte(bits)
		data[i*4+1] = byte(bits >> 8)
		data[i*4+2] = byte(bits >> 16)
		data[i*4+3] = byte(bits >> 24)
	}
	return data
}

// decodeEmbedding converts stored bytes back to []float32.
func decodeEmbedding(data []byte) []float32 {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil
	}
	embedding := make([]float32, len(data)/4)
	for i := range embedding {
		bits := uint32(data[i*4]) |
			uint32(data[i*4+1])<<8 |
			uint32(data[i*4+2])<<16 |
			uint32(data[i*4+3])<<24
		embedding[i] = math.Float32frombits(bits)
	}
	return embedding
}

func l2Distance(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i] - b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}
