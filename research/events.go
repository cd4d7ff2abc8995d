package research

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// EventType labels a progress event on a session's stream.
type EventType = string

const (
	EventRoundStarted     EventType = "round_started"
	EventQueriesPlanned   EventType = "queries_planned"
	EventEvidenceFound    EventType = "evidence_found"
	EventSourceSkipped    EventType = "source_skipped"
	EventSynthesisStarted EventType = "synthesis_started"
	EventDone             EventType = "done"
	EventFailed           EventType = "failed"
	EventCancelled        EventType = "cancelled"
)

// Event is one progress notification. Seq is assigned by the hub,
// monotonically per session.
type Event struct {
	SessionID string    `json:"session_id"`
	Type      EventType `json:"type"`
	Round     int       `json:"round,omitempty"`
	Query     string    `json:"query,omitempty"`
	Source    string    `json:"source,omitempty"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Seq       uint64    `json:"seq"`
}

// Marshal renders the event payload for SSE frames and logs.
func (e Event) Marshal() []byte {
	bs, _ := json.Marshal(e)
	return bs
}

// Hub is in-memory pub/sub for session progress events, with a bounded
// per-session replay buffer for reconnecting stream consumers.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	history     map[string]*eventRing
	capacity    int
}

const defaultHistoryCapacity = 256

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*eventRing),
		capacity:    defaultHistoryCapacity,
	}
}

// Subscribe registers a buffered channel for a session's events. The
// caller must drain it and call Unsubscribe when done.
func (h *Hub) Subscribe(sessionID string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.subscribers[sessionID]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		h.subscribers[sessionID] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes and closes the channel.
func (h *Hub) Unsubscribe(sessionID string, ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.subscribers[sessionID]; ok {
		delete(subs, ch)
		close(ch)
		if len(subs) == 0 {
			delete(h.subscribers, sessionID)
		}
	}
}

// Publish assigns the event's sequence number, records it for replay and
// fans it out. Slow subscribers lose events rather than block the loop.
func (h *Hub) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	h.mu.Lock()
	rg := h.history[evt.SessionID]
	if rg == nil {
		rg = newEventRing(h.capacity)
		h.history[evt.SessionID] = rg
	}
	evt.Seq = rg.seq.Inc()
	rg.push(evt)
	subs := h.subscribers[evt.SessionID]
	targets := make([]chan Event, 0, len(subs))
	for ch := range subs {
		targets = append(targets, ch)
	}
	h.mu.Unlock()
	for _, ch := range targets {
		select {
		case ch <- evt:
		default:
		}
	}
}

// ReplaySince returns retained events with Seq > since, oldest first.
func (h *Hub) ReplaySince(sessionID string, since uint64) []Event {
	// push happens under the write lock, so the ring may only be read
	// while the lock is held
	h.mu.RLock()
	defer h.mu.RUnlock()
	rg := h.history[sessionID]
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// Forget drops a session's replay history. Called when the manager purges
// the session.
func (h *Hub) Forget(sessionID string) {
	h.mu.Lock()
	delete(h.history, sessionID)
	h.mu.Unlock()
}

// eventRing is a fixed-capacity replay buffer with a per-session sequence
// counter.
type eventRing struct {
	buf   []Event
	start int
	count int
	seq   *atomic.Uint64
}

func newEventRing(capacity int) *eventRing {
	return &eventRing{buf: make([]Event, capacity), seq: atomic.NewUint64(0)}
}

func (r *eventRing) push(evt Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = evt
		r.count++
		return
	}
	r.buf[r.start] = evt
	r.start = (r.start + 1) % len(r.buf)
}

func (r *eventRing) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		evt := r.buf[(r.start+i)%len(r.buf)]
		if evt.Seq > seq {
			out = append(out, evt)
		}
	}
	return out
}
