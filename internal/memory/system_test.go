package memory

import (
	"context"
	"errors"
	"testing"
	"time"
)

// failingStore errors on every write.
type failingStore struct {
	fakeStore
}

func (f *failingStore) Save(ctx context.Context, e *Entry) error {
	return errors.New("disk on fire")
}

func TestRememberLatchesFallbackOnStoreFailure(t *testing.T) {
	fb, err := NewFallbackStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFallbackStore: %v", err)
	}
	failing := &failingStore{fakeStore: *newFakeStore()}
	wm := NewWorkingMemory(WorkingConfig{}, nil, nil, nil)
	sys := NewSystemWithStores(failing, fb, nil, wm, nil)

	entry, err := sys.Remember(context.Background(), "重要笔记", TypeFact, LevelFact, nil)
	if err != nil {
		t.Fatalf("Remember: %v", err)
	}
	if !sys.UsingFallback() {
		t.Error("store failure should latch fallback")
	}

	// The entry landed in the fallback store.
	got, err := fb.Get(context.Background(), entry.ID)
	if err != nil || got == nil {
		t.Fatalf("entry not in fallback: %v, %v", got, err)
	}

	// The latch is permanent: later writes go straight to the fallback.
	second, err := sys.Remember(context.Background(), "第二条", TypeEpisodic, LevelEvent, nil)
	if err != nil {
		t.Fatalf("second Remember: %v", err)
	}
	if got, _ := fb.Get(context.Background(), second.ID); got == nil {
		t.Error("second entry not routed to fallback")
	}
}

func TestRecallDegradationDoesNotLatch(t *testing.T) {
	fb, err := NewFallbackStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFallbackStore: %v", err)
	}
	store := newFakeStore()
	wm := NewWorkingMemory(WorkingConfig{}, nil, nil, nil)
	sys := NewSystemWithStores(store, fb, nil, wm, nil)

	// No embedder: recall degrades to keyword search on the primary.
	e := NewEntry("meeting notes about coffee", TypeFact, LevelFact)
	store.Save(context.Background(), e)

	results, err := sys.Recall(context.Background(), "coffee", 5)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(results) != 1 {
		t.Errorf("results = %d, want 1", len(results))
	}
	if sys.UsingFallback() {
		t.Error("recall degradation must not latch the fallback")
	}
}

func TestRecallOnFallbackUsesTermSearch(t *testing.T) {
	fb, err := NewFallbackStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFallbackStore: %v", err)
	}
	e := NewEntry("travel plans for tokyo", TypeEpisodic, LevelEvent)
	fb.Save(context.Background(), e)

	wm := NewWorkingMemory(WorkingConfig{}, nil, nil, nil)
	sys := NewSystemWithStores(nil, fb, nil, wm, nil)

	results, err := sys.Recall(context.Background(), "tokyo travel", 5)
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if len(results) != 1 || results[0].Score != 1.0 {
		t.Errorf("results = %+v", results)
	}
}

func TestCutoff(t *testing.T) {
	c := Cutoff(1)
	if d := time.Since(c); d < 23*time.Hour || d > 25*time.Hour {
		t.Errorf("Cutoff(1) is %v ago", d)
	}
}
