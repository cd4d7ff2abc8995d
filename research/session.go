// Package research runs the plan, retrieve, synthesize loop and manages
// the sessions executing it.
package research

import (
	"sync"
	"time"

	"github.com/rs/xid"

	"github.com/bububa/deep-researcher/components"
	"github.com/bububa/deep-researcher/synthesis"
)

// Status is a session lifecycle state. Transitions are monotonic: a
// session never returns to an earlier state.
type Status = string

const (
	StatusPending      Status = "pending"
	StatusPlanning     Status = "planning"
	StatusRetrieving   Status = "retrieving"
	StatusSynthesizing Status = "synthesizing"
	StatusDone         Status = "done"
	StatusFailed       Status = "failed"
	StatusCancelled    Status = "cancelled"
)

// TerminationReason records why the research loop stopped planning.
type TerminationReason = string

const (
	// ReasonPlannerStop means the model judged the evidence sufficient.
	ReasonPlannerStop TerminationReason = "planner-stop"
	// ReasonRoundLimit means the configured round cap was reached.
	ReasonRoundLimit TerminationReason = "round-limit"
	// ReasonTimeLimit means the session's time budget ran out.
	ReasonTimeLimit TerminationReason = "time-limit"
	// ReasonTokenLimit means the evidence token budget was exhausted.
	ReasonTokenLimit TerminationReason = "token-limit"
	// ReasonError means planning stopped on an unrecoverable planner error.
	ReasonError TerminationReason = "error"
)

// Result is a finished session's output.
type Result struct {
	Answer    string               `json:"answer"`
	Citations []synthesis.Citation `json:"citations,omitempty"`
	Rounds    int                  `json:"rounds"`
	Reason    TerminationReason    `json:"reason"`
	Usage     components.LLMUsage  `json:"usage"`
}

// Options are per-request knobs. Zero values fall back to the manager's
// defaults; non-zero values are clamped to its ceilings.
type Options struct {
	MaxRounds int           `json:"max_rounds,omitempty" validate:"gte=0"`
	MaxTokens int64         `json:"max_tokens,omitempty" validate:"gte=0"`
	Deadline  time.Duration `json:"-"`
}

// Session is one research run. The manager owns the registry entry; only
// the session's controller mutates state after creation.
type Session struct {
	ID        string
	Question  string
	CreatedAt time.Time
	Deadline  time.Time

	mu      sync.RWMutex
	status  Status
	round   int
	result  *Result
	failure string
}

func newSession(question string, deadline time.Time) *Session {
	return &Session{
		ID:        xid.New().String(),
		Question:  question,
		CreatedAt: time.Now(),
		Deadline:  deadline,
		status:    StatusPending,
	}
}

func (s *Session) setStatus(status Status) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
}

func (s *Session) setRound(round int) {
	s.mu.Lock()
	s.round = round
	s.mu.Unlock()
}

func (s *Session) finish(result *Result) {
	s.mu.Lock()
	s.status = StatusDone
	s.result = result
	s.mu.Unlock()
}

func (s *Session) fail(msg string) {
	s.mu.Lock()
	s.status = StatusFailed
	s.failure = msg
	s.mu.Unlock()
}

func (s *Session) cancel() {
	s.mu.Lock()
	s.status = StatusCancelled
	s.mu.Unlock()
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Terminal reports whether the session reached a final state.
func (s *Session) Terminal() bool {
	switch s.Status() {
	case StatusDone, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Result returns the output of a done session, nil otherwise.
func (s *Session) Result() *Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.result
}

// Summary is the transport view of a session.
type Summary struct {
	ID        string    `json:"id"`
	Question  string    `json:"question"`
	Status    Status    `json:"status"`
	Round     int       `json:"round"`
	CreatedAt time.Time `json:"created_at"`
	Result    *Result   `json:"result,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Summary snapshots the session for transport.
func (s *Session) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Summary{
		ID:        s.ID,
		Question:  s.Question,
		Status:    s.status,
		Round:     s.round,
		CreatedAt: s.CreatedAt,
		Result:    s.result,
		Error:     s.failure,
	}
}
