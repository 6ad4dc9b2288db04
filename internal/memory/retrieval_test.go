package memory

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/haasonsaas/sidekick/internal/memory/embeddings"
)

// fakeStore is an in-memory Store with scripted vector results.
type fakeStore struct {
	entries    map[string]*Entry
	vecResults []ScoredEntry
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string]*Entry)}
}

func (f *fakeStore) Save(ctx context.Context, e *Entry) error {
	f.entries[e.ID] = e
	return nil
}

func (f *fakeStore) Get(ctx context.Context, id string) (*Entry, error) {
	return f.entries[id], nil
}

func (f *fakeStore) Update(ctx context.Context, e *Entry) error {
	f.entries[e.ID] = e
	return nil
}

func (f *fakeStore) Delete(ctx context.Context, id string) error {
	delete(f.entries, id)
	return nil
}

func (f *fakeStore) SearchVector(ctx context.Context, embedding []float32, topK int) ([]ScoredEntry, error) {
	if len(f.vecResults) > topK {
		return f.vecResults[:topK], nil
	}
	return f.vecResults, nil
}

func (f *fakeStore) SearchKeyword(ctx context.Context, keyword string, limit int) ([]*Entry, error) {
	var out []*Entry
	for _, e := range f.entries {
		if strings.Contains(strings.ToLower(e.Content), strings.ToLower(keyword)) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeStore) GetRecent(ctx context.Context, limit int) ([]*Entry, error) { return nil, nil }
func (f *fakeStore) GetBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Entry, error) {
	return nil, nil
}
func (f *fakeStore) GetAfter(ctx context.Context, cutoff time.Time, limit int) ([]*Entry, error) {
	var out []*Entry
	for _, e := range f.entries {
		if !e.CreatedAt.Before(cutoff) {
			out = append(out, e)
		}
	}
	return out, nil
}
func (f *fakeStore) Stats(ctx context.Context) (*StoreStats, error) {
	return &StoreStats{Total: len(f.entries), ByType: map[string]int{}, ByConfidence: map[string]int{}}, nil
}
func (f *fakeStore) Close() error { return nil }

func newTestSystem(t *testing.T, store Store) *System {
	t.Helper()
	fb, err := NewFallbackStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFallbackStore: %v", err)
	}
	wm := NewWorkingMemory(WorkingConfig{}, nil, nil, nil)
	return NewSystemWithStores(store, fb, embeddings.NewHashProvider(8), wm, nil)
}

func TestKeywordsExtraction(t *testing.T) {
	kws := keywords("find the budget report from finance budget team")
	if len(kws) != 3 {
		t.Fatalf("got %d keywords, want 3: %v", len(kws), kws)
	}
	seen := make(map[string]bool)
	for _, k := range kws {
		if len(k) < 2 {
			t.Errorf("keyword %q shorter than 2", k)
		}
		if seen[k] {
			t.Errorf("duplicate keyword %q", k)
		}
		seen[k] = true
	}
}

func TestKeywordsExtractionChinese(t *testing.T) {
	kws := keywords("帮我清理任务 记住会议")
	if len(kws) == 0 {
		t.Fatal("Chinese query produced no keywords")
	}
	for _, k := range kws {
		if k != "帮我清理任务" && k != "记住会议" {
			t.Errorf("unexpected keyword %q", k)
		}
	}
}

func TestRecencyScore(t *testing.T) {
	now := time.Now()
	fresh := NewEntry("x", TypeFact, LevelFact)
	if got := recencyScore(fresh, now, 168); got < 0.99 {
		t.Errorf("fresh recency = %v, want ~1", got)
	}
	old := NewEntry("x", TypeFact, LevelFact)
	old.CreatedAt = now.Add(-168 * time.Hour)
	if got := recencyScore(old, now, 168); math.Abs(got-math.Exp(-1)) > 1e-6 {
		t.Errorf("week-old recency = %v, want e^-1", got)
	}
}

func TestImportanceScoreClamped(t *testing.T) {
	e := NewEntry("x", TypeSolution, LevelFact)
	e.InitialConfidence = 1.0
	// 0.5 + 0.3 + 0.2 = 1.0 exactly
	if got := importanceScore(e); got != 1.0 {
		t.Errorf("importance = %v, want 1.0", got)
	}

	g := NewEntry("x", TypeObservation, LevelGossip)
	g.InitialConfidence = 0.0
	if got := importanceScore(g); got != 0 {
		t.Errorf("importance = %v, want clamp at 0", got)
	}
}

func TestFrequencyScore(t *testing.T) {
	e := NewEntry("x", TypeFact, LevelFact)
	if got := frequencyScore(e); got != 0 {
		t.Errorf("frequency with zero accesses = %v, want 0", got)
	}
	e.AccessCount = 10
	if got := frequencyScore(e); math.Abs(got-1.0) > 1e-9 {
		t.Errorf("frequency at 10 accesses = %v, want 1", got)
	}
	e.AccessCount = 1000
	if got := frequencyScore(e); got > 1.0 {
		t.Errorf("frequency above 1: %v", got)
	}
}

func TestRetrieveBlendsAndFilters(t *testing.T) {
	store := newFakeStore()
	sys := newTestSystem(t, store)

	strong := NewEntry("user prefers coffee over tea", TypeFact, LevelFact)
	weak := NewEntry("someone said it might rain", TypeObservation, LevelGossip)
	weak.CreatedAt = time.Now().Add(-20 * 24 * time.Hour) // decayed below 0.3
	store.Save(context.Background(), strong)
	store.Save(context.Background(), weak)
	store.vecResults = []ScoredEntry{
		{Entry: strong, Score: 0.9},
		{Entry: weak, Score: 0.95},
	}

	r := NewRetriever(sys, RetrievalConfig{TopK: 5}, nil, nil)
	got := r.Retrieve(context.Background(), "coffee preference")

	for _, item := range got {
		if item.Entry.ID == weak.ID {
			t.Error("decayed entry should be filtered out")
		}
	}
	found := false
	for _, item := range got {
		if item.Entry.ID == strong.ID {
			found = true
			if item.Final <= 0 || item.Final > 1 {
				t.Errorf("final score out of range: %v", item.Final)
			}
		}
	}
	if !found {
		t.Fatal("strong entry missing from results")
	}
}

func TestKeywordHitBumpsSemantic(t *testing.T) {
	store := newFakeStore()
	sys := newTestSystem(t, store)

	e := NewEntry("the budget meeting is on friday", TypeFact, LevelFact)
	store.Save(context.Background(), e)
	store.vecResults = []ScoredEntry{{Entry: e, Score: 0.95}}

	r := NewRetriever(sys, RetrievalConfig{TopK: 5}, nil, nil)
	got := r.Retrieve(context.Background(), "budget meeting")
	if len(got) == 0 {
		t.Fatal("no results")
	}
	if got[0].Semantic > 1.0 {
		t.Errorf("semantic score exceeded cap: %v", got[0].Semantic)
	}
	if got[0].Semantic < 0.95 {
		t.Errorf("keyword hit should not lower semantic: %v", got[0].Semantic)
	}
}

func TestRenderBlockBudgetAndAccess(t *testing.T) {
	store := newFakeStore()
	sys := newTestSystem(t, store)

	e := NewEntry("用户的生日是五月四日", TypeFact, LevelFact)
	store.Save(context.Background(), e)
	store.vecResults = []ScoredEntry{{Entry: e, Score: 0.9}}

	r := NewRetriever(sys, RetrievalConfig{TopK: 3, TokenBudget: 500}, nil, nil)
	block := r.RenderBlock(context.Background(), "生日")
	if !strings.HasPrefix(block, "【相关记忆】") {
		t.Fatalf("block missing header: %q", block)
	}
	if !strings.Contains(block, e.Content) {
		t.Errorf("block missing entry content: %q", block)
	}
	if store.entries[e.ID].AccessCount != 1 {
		t.Errorf("rendered entry AccessCount = %d, want 1", store.entries[e.ID].AccessCount)
	}
}

func TestRenderBlockEmptyWhenNoResults(t *testing.T) {
	store := newFakeStore()
	sys := newTestSystem(t, store)
	r := NewRetriever(sys, RetrievalConfig{}, nil, nil)
	if block := r.RenderBlock(context.Background(), "nothing"); block != "" {
		t.Errorf("expected empty block, got %q", block)
	}
}
