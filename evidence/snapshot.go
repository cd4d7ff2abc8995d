package evidence

import (
	"fmt"
	"strings"
)

// citationKey is the stable marker identifier for the item at the given
// snapshot position: S1, S2, ...
func citationKey(idx int) string {
	return fmt.Sprintf("S%d", idx+1)
}

// Snapshot is a frozen, ordered view of the store taken for one planning or
// synthesis step. It implements systemprompt.ContextProvider so it can be
// attached to a prompt directly.
type Snapshot struct {
	items  []Item
	keys   map[string]int
	tokens int64
}

func (s *Snapshot) Len() int {
	return len(s.items)
}

// TotalTokens is the aggregate token estimate at snapshot time.
func (s *Snapshot) TotalTokens() int64 {
	return s.tokens
}

// Items returns the snapshot's items in citation order.
func (s *Snapshot) Items() []Item {
	return s.items
}

// Key returns the citation key for position idx.
func (s *Snapshot) Key(idx int) string {
	return citationKey(idx)
}

// Resolve maps a citation key back to its item.
func (s *Snapshot) Resolve(key string) (Item, bool) {
	idx, ok := s.keys[key]
	if !ok {
		return Item{}, false
	}
	return s.items[idx], true
}

func (s *Snapshot) Title() string {
	return "Collected Evidence"
}

// Info renders the snapshot for a prompt, one block per item headed by its
// citation key.
func (s *Snapshot) Info() string {
	if len(s.items) == 0 {
		return ""
	}
	var b strings.Builder
	for idx, item := range s.items {
		fmt.Fprintf(&b, "[%s] %s (%s)\n", citationKey(idx), item.Title, item.Source)
		if item.Query != "" {
			fmt.Fprintf(&b, "Found via: %s\n", item.Query)
		}
		b.WriteString(strings.TrimSpace(item.Text))
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String())
}
