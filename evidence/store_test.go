package evidence

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func newTestStore(opts ...StoreOption) *Store {
	opts = append([]StoreOption{WithTokenCounter(WordsTokenCounter{})}, opts...)
	return NewStore(opts...)
}

func TestAddDeduplicatesBySource(t *testing.T) {
	store := newTestStore()
	isNew, err := store.Add(Item{Source: "https://example.com/a", Text: "first version"})
	if err != nil {
		t.Fatalf("Error adding item: %v", err)
	}
	if !isNew {
		t.Error("Expect first add to be new")
	}
	isNew, err = store.Add(Item{Source: "https://example.com/a", Text: "second version replacing the first"})
	if err != nil {
		t.Fatalf("Error re-adding item: %v", err)
	}
	if isNew {
		t.Error("Expect re-add not to be new")
	}
	if n := store.Len(); n != 1 {
		t.Fatalf("Expect 1 stored item, but got %d", n)
	}
	snap := store.Snapshot()
	if text := snap.Items()[0].Text; text != "second version replacing the first" {
		t.Errorf("Expect last write to win, but got %q", text)
	}
}

func TestAddKeepsFirstWriteOrdering(t *testing.T) {
	store := newTestStore()
	store.Add(Item{Source: "https://example.com/a", Text: "alpha"})
	store.Add(Item{Source: "https://example.com/b", Text: "beta"})
	store.Add(Item{Source: "https://example.com/a", Text: "alpha refetched"})
	snap := store.Snapshot()
	if src := snap.Items()[0].Source; src != "https://example.com/a" {
		t.Errorf("Expect refetched item to keep its position, but got %s first", src)
	}
	if key := snap.Key(0); key != "S1" {
		t.Errorf("Expect first citation key S1, but got %s", key)
	}
}

func TestAddRejectsOversizeItem(t *testing.T) {
	store := newTestStore(WithPerItemCap(3))
	_, err := store.Add(Item{Source: "https://example.com/big", Text: "one two three four five"})
	if err == nil {
		t.Fatal("expected capacity error")
	}
	var capErr *CapacityError
	if !errors.As(err, &capErr) {
		t.Fatalf("expected *CapacityError, got %T", err)
	}
	if store.Len() != 0 {
		t.Error("rejected item must not be stored")
	}
}

func TestEvictToBudgetLowestRelevanceThenOldest(t *testing.T) {
	store := newTestStore()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	store.Add(Item{Source: "low-old", Text: "one two three", Relevance: 0.2, RetrievedAt: base})
	store.Add(Item{Source: "low-new", Text: "one two three", Relevance: 0.2, RetrievedAt: base.Add(time.Minute)})
	store.Add(Item{Source: "high", Text: "one two three", Relevance: 0.9, RetrievedAt: base})
	removed := store.EvictToBudget(6)
	if len(removed) != 1 {
		t.Fatalf("Expect 1 eviction, but got %d: %v", len(removed), removed)
	}
	if removed[0] != "low-old" {
		t.Errorf("Expect lowest-relevance-then-oldest eviction, but got %s", removed[0])
	}
	removed = store.EvictToBudget(3)
	if len(removed) != 1 || removed[0] != "low-new" {
		t.Errorf("Expect low-new evicted next, but got %v", removed)
	}
	if store.TotalTokens() != 3 {
		t.Errorf("Expect 3 tokens after eviction, but got %d", store.TotalTokens())
	}
}

func TestEvictToBudgetNoopUnderBudget(t *testing.T) {
	store := newTestStore()
	store.Add(Item{Source: "a", Text: "one two"})
	if removed := store.EvictToBudget(100); removed != nil {
		t.Errorf("Expect no evictions, but got %v", removed)
	}
}

func TestSnapshotIsImmutable(t *testing.T) {
	store := newTestStore()
	store.Add(Item{Source: "a", Text: "alpha"})
	snap := store.Snapshot()
	store.Add(Item{Source: "b", Text: "beta"})
	if snap.Len() != 1 {
		t.Errorf("Expect snapshot unaffected by later writes, but got %d items", snap.Len())
	}
}

func TestSnapshotResolveAndInfo(t *testing.T) {
	store := newTestStore()
	store.Add(Item{Source: "https://example.com/a", Title: "Alpha", Text: "alpha text", Query: "q1"})
	store.Add(Item{Source: "https://example.com/b", Title: "Beta", Text: "beta text"})
	snap := store.Snapshot()
	item, ok := snap.Resolve("S2")
	if !ok {
		t.Fatal("Expect S2 to resolve")
	}
	if item.Source != "https://example.com/b" {
		t.Errorf("Expect S2 to be item b, but got %s", item.Source)
	}
	if _, ok := snap.Resolve("S9"); ok {
		t.Error("Expect unknown key not to resolve")
	}
	info := snap.Info()
	if !strings.Contains(info, "[S1] Alpha (https://example.com/a)") {
		t.Errorf("Expect rendered info to carry citation keys, got %q", info)
	}
	if !strings.Contains(info, "Found via: q1") {
		t.Errorf("Expect rendered info to carry originating query, got %q", info)
	}
}
