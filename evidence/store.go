// Package evidence holds retrieved documents and their provenance for the
// lifetime of one research session.
package evidence

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// Item is one piece of retrieved evidence. Immutable once stored.
type Item struct {
	// Source is the URL or document id; the store deduplicates on it.
	Source string `json:"source"`
	// Title of the source document when known.
	Title string `json:"title,omitempty"`
	// Text is the extracted content, bounded by the per-item cap.
	Text string `json:"text"`
	// Query is the sub-query that produced this item (lookup only).
	Query string `json:"query,omitempty"`
	// Relevance in [0,1] when the retriever scored it.
	Relevance float64 `json:"relevance,omitempty"`
	// RetrievedAt is when the content was fetched.
	RetrievedAt time.Time `json:"retrieved_at"`
	// Tokens is the store's token estimate for Text.
	Tokens int `json:"tokens"`
}

// CapacityError reports an item over the absolute per-item token cap. The
// item is rejected outright rather than truncated, so citation spans can
// never point into text the model did not see.
type CapacityError struct {
	Source string
	Tokens int
	Cap    int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("evidence item %s has %d tokens, above the per-item cap %d", e.Source, e.Tokens, e.Cap)
}

// Store is the per-session evidence container. It is owned by exactly one
// research controller; the lock only guards against the controller's own
// concurrent retrieval workers.
type Store struct {
	mtx        sync.RWMutex
	items      map[string]Item
	order      []string // first-write ordering, drives citation keys
	counter    TokenCounter
	perItemCap int
	total      *atomic.Int64
}

type StoreOption func(*Store)

// WithTokenCounter overrides the token estimator.
func WithTokenCounter(c TokenCounter) StoreOption {
	return func(s *Store) {
		s.counter = c
	}
}

// WithPerItemCap sets the absolute per-item token cap. Zero disables it.
func WithPerItemCap(tokens int) StoreOption {
	return func(s *Store) {
		s.perItemCap = tokens
	}
}

func NewStore(opts ...StoreOption) *Store {
	ret := &Store{
		items: make(map[string]Item),
		total: atomic.NewInt64(0),
	}
	for _, opt := range opts {
		opt(ret)
	}
	if ret.counter == nil {
		ret.counter = DefaultTokenCounter()
	}
	return ret
}

// Add inserts or replaces an item by source identifier and reports whether
// it was new. A re-add replaces the stored text (last write wins) but keeps
// the original position in citation ordering (first write wins).
func (s *Store) Add(item Item) (bool, error) {
	item.Tokens = s.counter.Count(item.Text)
	if s.perItemCap > 0 && item.Tokens > s.perItemCap {
		return false, &CapacityError{Source: item.Source, Tokens: item.Tokens, Cap: s.perItemCap}
	}
	if item.RetrievedAt.IsZero() {
		item.RetrievedAt = time.Now()
	}
	s.mtx.Lock()
	defer s.mtx.Unlock()
	prev, exists := s.items[item.Source]
	s.items[item.Source] = item
	if exists {
		s.total.Add(int64(item.Tokens - prev.Tokens))
		return false, nil
	}
	s.order = append(s.order, item.Source)
	s.total.Add(int64(item.Tokens))
	return true, nil
}

// TotalTokens is the current aggregate token estimate.
func (s *Store) TotalTokens() int64 {
	return s.total.Load()
}

// Len returns the number of stored items.
func (s *Store) Len() int {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	return len(s.items)
}

// EvictToBudget removes lowest-relevance-then-oldest items until the
// aggregate token estimate fits the budget, and returns the removed source
// identifiers in eviction order.
func (s *Store) EvictToBudget(maxTokens int64) []string {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.total.Load() <= maxTokens {
		return nil
	}
	candidates := make([]Item, 0, len(s.order))
	for _, src := range s.order {
		candidates = append(candidates, s.items[src])
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Relevance != candidates[j].Relevance {
			return candidates[i].Relevance < candidates[j].Relevance
		}
		return candidates[i].RetrievedAt.Before(candidates[j].RetrievedAt)
	})
	var removed []string
	for _, victim := range candidates {
		if s.total.Load() <= maxTokens {
			break
		}
		delete(s.items, victim.Source)
		s.total.Sub(int64(victim.Tokens))
		removed = append(removed, victim.Source)
	}
	if len(removed) > 0 {
		kept := make([]string, 0, len(s.order)-len(removed))
		for _, src := range s.order {
			if _, ok := s.items[src]; ok {
				kept = append(kept, src)
			}
		}
		s.order = kept
	}
	return removed
}

// Snapshot returns an immutable ordered view. Mutations after the call do
// not affect it.
func (s *Store) Snapshot() *Snapshot {
	s.mtx.RLock()
	defer s.mtx.RUnlock()
	items := make([]Item, 0, len(s.order))
	keys := make(map[string]int, len(s.order))
	for idx, src := range s.order {
		items = append(items, s.items[src])
		keys[citationKey(idx)] = idx
	}
	return &Snapshot{items: items, keys: keys, tokens: s.total.Load()}
}
