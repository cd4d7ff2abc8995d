package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/bububa/deep-researcher/research"
)

var validate = validator.New()

type createRequest struct {
	Question string          `json:"question" validate:"required,min=3"`
	Options  *requestOptions `json:"options,omitempty"`
}

type requestOptions struct {
	MaxRounds       int   `json:"max_rounds,omitempty" validate:"gte=0"`
	MaxTokens       int64 `json:"max_tokens,omitempty" validate:"gte=0"`
	DeadlineSeconds int   `json:"deadline_seconds,omitempty" validate:"gte=0"`
}

type createdResponse struct {
	ID     string          `json:"id"`
	Status research.Status `json:"status"`
}

// handleCreate starts a session. By default it blocks until the session
// terminates and returns the result; with ?async=1 it returns 202 and the
// session id right away.
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validate.Struct(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var opts research.Options
	if req.Options != nil {
		opts = research.Options{
			MaxRounds: req.Options.MaxRounds,
			MaxTokens: req.Options.MaxTokens,
			Deadline:  time.Duration(req.Options.DeadlineSeconds) * time.Second,
		}
	}
	sess, err := s.manager.Start(req.Question, opts)
	if err != nil {
		if errors.Is(err, research.ErrTooManySessions) {
			s.writeError(w, http.StatusTooManyRequests, err.Error())
			return
		}
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	if r.URL.Query().Get("async") == "1" {
		s.writeJSON(w, http.StatusAccepted, createdResponse{ID: sess.ID, Status: sess.Status()})
		return
	}
	result, err := s.manager.Wait(r.Context(), sess.ID)
	if err != nil {
		if r.Context().Err() != nil {
			// client went away; the session keeps running
			s.logger.Info("client disconnected before completion",
				zap.String("session_id", sess.ID))
			return
		}
		switch sess.Status() {
		case research.StatusCancelled:
			s.writeError(w, http.StatusConflict, err.Error())
		default:
			s.writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	sess, err := s.manager.Get(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, sess.Summary())
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.manager.Cancel(id); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "status": "cancelling"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
