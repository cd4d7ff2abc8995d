package server

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/bububa/deep-researcher/research"
)

const heartbeatInterval = 15 * time.Second

// handleEvents streams a session's progress via Server-Sent Events. A
// Last-Event-ID header (or last_event_id query param) replays the retained
// backlog first, so reconnecting clients miss nothing within the buffer.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	sess, err := s.manager.Get(id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	var lastID uint64
	if lei := r.Header.Get("Last-Event-ID"); lei != "" {
		if n, err := strconv.ParseUint(lei, 10, 64); err == nil {
			lastID = n
		}
	}
	if q := r.URL.Query().Get("last_event_id"); q != "" && lastID == 0 {
		if n, err := strconv.ParseUint(q, 10, 64); err == nil {
			lastID = n
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	hub := s.manager.Hub()
	ch := hub.Subscribe(id, 256)
	defer hub.Unsubscribe(id, ch)

	fmt.Fprintf(w, ": connected to session %s\n\n", id)
	flusher.Flush()

	var sent uint64
	for _, evt := range hub.ReplaySince(id, lastID) {
		writeSSE(w, evt)
		sent = evt.Seq
	}
	flusher.Flush()

	// a terminal session will not publish again; end after the replay
	if sess.Terminal() {
		return
	}

	hb := time.NewTicker(heartbeatInterval)
	defer hb.Stop()
	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("sse client disconnected", zap.String("session_id", id))
			return
		case evt := <-ch:
			// the subscription predates the replay, so drop anything
			// the replay already delivered
			if evt.Seq <= sent {
				continue
			}
			writeSSE(w, evt)
			flusher.Flush()
			if terminalEvent(evt.Type) {
				return
			}
		case <-hb.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, evt research.Event) {
	fmt.Fprintf(w, "id: %d\n", evt.Seq)
	fmt.Fprintf(w, "event: %s\n", evt.Type)
	fmt.Fprintf(w, "data: %s\n\n", evt.Marshal())
}

func terminalEvent(t research.EventType) bool {
	switch t {
	case research.EventDone, research.EventFailed, research.EventCancelled:
		return true
	}
	return false
}
