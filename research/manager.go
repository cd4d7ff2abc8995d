package research

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bububa/deep-researcher/evidence"
	"github.com/bububa/deep-researcher/planner"
	"github.com/bububa/deep-researcher/retrieval"
	"github.com/bububa/deep-researcher/synthesis"
)

// ErrTooManySessions is returned when the concurrent-session cap is hit.
var ErrTooManySessions = errors.New("too many concurrent research sessions")

// ErrSessionNotFound is returned for unknown or already purged sessions.
var ErrSessionNotFound = errors.New("research session not found")

// Limits are the manager's default budgets and the hard ceilings request
// options are clamped to.
type Limits struct {
	DefaultRounds     int
	MaxRounds         int
	DefaultTokens     int64
	MaxTokens         int64
	DefaultDeadline   time.Duration
	MaxDeadline       time.Duration
	TopK              int
	FetchConcurrency  int
	MaxSessions       int
	Retention         time.Duration
	PerItemTokenCap   int
	EvidenceTokenizer evidence.TokenCounter
}

func defaultLimits() Limits {
	return Limits{
		DefaultRounds:    3,
		MaxRounds:        5,
		DefaultTokens:    24000,
		MaxTokens:        48000,
		DefaultDeadline:  5 * time.Minute,
		MaxDeadline:      15 * time.Minute,
		TopK:             5,
		FetchConcurrency: 3,
		MaxSessions:      8,
		Retention:        30 * time.Minute,
		PerItemTokenCap:  8000,
	}
}

type ManagerOption func(*Manager)

// WithLimits replaces the default budgets and ceilings. Zero fields keep
// their defaults.
func WithLimits(limits Limits) ManagerOption {
	return func(m *Manager) {
		merged := m.limits
		if limits.DefaultRounds > 0 {
			merged.DefaultRounds = limits.DefaultRounds
		}
		if limits.MaxRounds > 0 {
			merged.MaxRounds = limits.MaxRounds
		}
		if limits.DefaultTokens > 0 {
			merged.DefaultTokens = limits.DefaultTokens
		}
		if limits.MaxTokens > 0 {
			merged.MaxTokens = limits.MaxTokens
		}
		if limits.DefaultDeadline > 0 {
			merged.DefaultDeadline = limits.DefaultDeadline
		}
		if limits.MaxDeadline > 0 {
			merged.MaxDeadline = limits.MaxDeadline
		}
		if limits.TopK > 0 {
			merged.TopK = limits.TopK
		}
		if limits.FetchConcurrency > 0 {
			merged.FetchConcurrency = limits.FetchConcurrency
		}
		if limits.MaxSessions > 0 {
			merged.MaxSessions = limits.MaxSessions
		}
		if limits.Retention > 0 {
			merged.Retention = limits.Retention
		}
		if limits.PerItemTokenCap > 0 {
			merged.PerItemTokenCap = limits.PerItemTokenCap
		}
		if limits.EvidenceTokenizer != nil {
			merged.EvidenceTokenizer = limits.EvidenceTokenizer
		}
		m.limits = merged
	}
}

func WithManagerLogger(logger *zap.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

type sessionEntry struct {
	sess       *Session
	cancel     context.CancelFunc
	done       chan struct{}
	finishedAt time.Time
}

// Manager creates one controller per request and tracks the resulting
// sessions until they expire.
type Manager struct {
	limits      Limits
	logger      *zap.Logger
	planner     *planner.Planner
	retriever   retrieval.Gateway
	synthesizer *synthesis.Synthesizer
	hub         *Hub

	mu       sync.RWMutex
	sessions map[string]*sessionEntry
	slots    chan struct{}
	closed   bool
	stop     chan struct{}
}

func NewManager(p *planner.Planner, r retrieval.Gateway, s *synthesis.Synthesizer, opts ...ManagerOption) *Manager {
	m := &Manager{
		limits:      defaultLimits(),
		logger:      zap.NewNop(),
		planner:     p,
		retriever:   r,
		synthesizer: s,
		hub:         NewHub(),
		sessions:    make(map[string]*sessionEntry),
		stop:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.slots = make(chan struct{}, m.limits.MaxSessions)
	go m.janitor()
	return m
}

// janitor drops finished sessions past the retention window.
func (m *Manager) janitor() {
	interval := m.limits.Retention / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			m.purge(now)
		case <-m.stop:
			return
		}
	}
}

// Hub exposes the progress event hub for stream transports.
func (m *Manager) Hub() *Hub {
	return m.hub
}

// Start launches a session in the background and returns immediately. The
// session runs detached from the caller's context; only Cancel or Close
// stops it early.
func (m *Manager) Start(question string, opts Options) (*Session, error) {
	select {
	case m.slots <- struct{}{}:
	default:
		return nil, fmt.Errorf("%w: limit %d", ErrTooManySessions, m.limits.MaxSessions)
	}
	cfg, deadline := m.resolve(opts)
	sess := newSession(question, deadline)
	ctx, cancel := context.WithCancel(context.Background())
	entry := &sessionEntry{sess: sess, cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		<-m.slots
		return nil, errors.New("research manager is shut down")
	}
	m.sessions[sess.ID] = entry
	m.mu.Unlock()

	storeOpts := []evidence.StoreOption{evidence.WithPerItemCap(m.limits.PerItemTokenCap)}
	if m.limits.EvidenceTokenizer != nil {
		storeOpts = append(storeOpts, evidence.WithTokenCounter(m.limits.EvidenceTokenizer))
	}
	ctrl := newController(cfg, m.planner, m.retriever, m.synthesizer, evidence.NewStore(storeOpts...), m.hub)

	m.logger.Info("research session started",
		zap.String("session_id", sess.ID),
		zap.Int("max_rounds", cfg.maxRounds),
		zap.Int64("max_evidence_tokens", cfg.maxEvidenceTokens),
		zap.Time("deadline", deadline))
	go func() {
		defer func() {
			cancel()
			<-m.slots
			m.mu.Lock()
			entry.finishedAt = time.Now()
			m.mu.Unlock()
			// closed last so waiters observe a released slot and final state
			close(entry.done)
		}()
		ctrl.run(ctx, sess)
	}()
	return sess, nil
}

// resolve clamps request options to the configured ceilings.
func (m *Manager) resolve(opts Options) (controllerConfig, time.Time) {
	rounds := m.limits.DefaultRounds
	if opts.MaxRounds > 0 {
		rounds = min(opts.MaxRounds, m.limits.MaxRounds)
	}
	tokens := m.limits.DefaultTokens
	if opts.MaxTokens > 0 {
		tokens = min(opts.MaxTokens, m.limits.MaxTokens)
	}
	budget := m.limits.DefaultDeadline
	if opts.Deadline > 0 {
		budget = min(opts.Deadline, m.limits.MaxDeadline)
	}
	cfg := controllerConfig{
		maxRounds:         rounds,
		maxEvidenceTokens: tokens,
		topK:              m.limits.TopK,
		fetchConcurrency:  m.limits.FetchConcurrency,
		logger:            m.logger,
	}
	return cfg, time.Now().Add(budget)
}

// Get returns a live or retained session.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return entry.sess, nil
}

// Wait blocks until the session terminates or ctx expires, then returns
// the session's result when it finished successfully.
func (m *Manager) Wait(ctx context.Context, id string) (*Result, error) {
	m.mu.RLock()
	entry, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	select {
	case <-entry.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	summary := entry.sess.Summary()
	switch summary.Status {
	case StatusDone:
		return summary.Result, nil
	case StatusCancelled:
		return nil, fmt.Errorf("session %s was cancelled", id)
	default:
		return nil, fmt.Errorf("session %s failed: %s", id, summary.Error)
	}
}

// Cancel requests cooperative cancellation. Idempotent; cancelling a
// finished session is a no-op.
func (m *Manager) Cancel(id string) error {
	m.mu.RLock()
	entry, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return ErrSessionNotFound
	}
	entry.cancel()
	return nil
}

// purge drops finished sessions past the retention window.
func (m *Manager) purge(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, entry := range m.sessions {
		if entry.finishedAt.IsZero() {
			continue
		}
		if now.Sub(entry.finishedAt) >= m.limits.Retention {
			delete(m.sessions, id)
			m.hub.Forget(id)
		}
	}
}

// Close cancels every live session and refuses new ones.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.stop)
	entries := make([]*sessionEntry, 0, len(m.sessions))
	for _, entry := range m.sessions {
		entries = append(entries, entry)
	}
	m.mu.Unlock()
	for _, entry := range entries {
		entry.cancel()
		<-entry.done
	}
}
