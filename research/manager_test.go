package research

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bububa/deep-researcher/planner"
	"github.com/bububa/deep-researcher/retrieval"
	"github.com/bububa/deep-researcher/synthesis"
)

func newTestManager(t *testing.T, gw *scriptedGateway, ret retrieval.Gateway, opts ...ManagerOption) *Manager {
	t.Helper()
	m := NewManager(planner.New(gw), ret, synthesis.New(gw), opts...)
	t.Cleanup(m.Close)
	return m
}

func TestManagerStartAndWait(t *testing.T) {
	gw := &scriptedGateway{
		decisions: []planner.Decision{stopDecision()},
		answer:    "Done quickly.",
	}
	m := newTestManager(t, gw, &fakeRetriever{})
	sess, err := m.Start("what happened?", Options{})
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID)

	result, err := m.Wait(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "Done quickly.", result.Answer)
	assert.Equal(t, ReasonPlannerStop, result.Reason)

	got, err := m.Get(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, got.Status())
}

func TestManagerClampsOptions(t *testing.T) {
	gw := &scriptedGateway{decisions: []planner.Decision{stopDecision()}, answer: "ok"}
	m := newTestManager(t, gw, &fakeRetriever{},
		WithLimits(Limits{MaxRounds: 2, MaxTokens: 100, MaxDeadline: time.Minute}))
	cfg, deadline := m.resolve(Options{MaxRounds: 99, MaxTokens: 9999, Deadline: time.Hour})
	assert.Equal(t, 2, cfg.maxRounds)
	assert.Equal(t, int64(100), cfg.maxEvidenceTokens)
	assert.WithinDuration(t, time.Now().Add(time.Minute), deadline, 5*time.Second)

	cfg, _ = m.resolve(Options{})
	assert.Equal(t, m.limits.DefaultRounds, cfg.maxRounds)
	assert.Equal(t, m.limits.DefaultTokens, cfg.maxEvidenceTokens)
}

func TestManagerSessionCap(t *testing.T) {
	gw := &scriptedGateway{
		decisions: []planner.Decision{continueDecision("q")},
		answer:    "ok",
	}
	ret := &fakeRetriever{
		results:    map[string][]retrieval.Result{"q": {{URL: "https://example.com/a"}}},
		blockFetch: make(chan struct{}),
	}
	m := newTestManager(t, gw, ret, WithLimits(Limits{MaxSessions: 1, MaxRounds: 1, DefaultRounds: 1}))
	first, err := m.Start("q1", Options{})
	require.NoError(t, err)

	_, err = m.Start("q2", Options{})
	require.ErrorIs(t, err, ErrTooManySessions)

	close(ret.blockFetch)
	_, err = m.Wait(context.Background(), first.ID)
	require.NoError(t, err)

	// the finished session released its slot
	_, err = m.Start("q3", Options{})
	require.NoError(t, err)
}

func TestManagerCancel(t *testing.T) {
	gw := &scriptedGateway{
		decisions: []planner.Decision{continueDecision("q")},
		answer:    "never",
	}
	ret := &fakeRetriever{
		results:    map[string][]retrieval.Result{"q": {{URL: "https://example.com/a"}}},
		blockFetch: make(chan struct{}),
	}
	m := newTestManager(t, gw, ret)
	sess, err := m.Start("q", Options{})
	require.NoError(t, err)

	require.NoError(t, m.Cancel(sess.ID))
	_, err = m.Wait(context.Background(), sess.ID)
	require.Error(t, err)
	assert.Equal(t, StatusCancelled, sess.Status())

	assert.ErrorIs(t, m.Cancel("nope"), ErrSessionNotFound)
}

func TestManagerWaitHonorsContext(t *testing.T) {
	gw := &scriptedGateway{
		decisions: []planner.Decision{continueDecision("q")},
		answer:    "slow",
	}
	ret := &fakeRetriever{
		results:    map[string][]retrieval.Result{"q": {{URL: "https://example.com/a"}}},
		blockFetch: make(chan struct{}),
	}
	m := newTestManager(t, gw, ret)
	sess, err := m.Start("q", Options{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = m.Wait(ctx, sess.ID)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	close(ret.blockFetch)
}

func TestManagerPurgeRespectsRetention(t *testing.T) {
	gw := &scriptedGateway{decisions: []planner.Decision{stopDecision()}, answer: "ok"}
	m := newTestManager(t, gw, &fakeRetriever{}, WithLimits(Limits{Retention: time.Minute}))
	sess, err := m.Start("q", Options{})
	require.NoError(t, err)
	_, err = m.Wait(context.Background(), sess.ID)
	require.NoError(t, err)

	m.purge(time.Now())
	_, err = m.Get(sess.ID)
	require.NoError(t, err, "finished sessions stay readable within the retention window")

	m.purge(time.Now().Add(2 * time.Minute))
	_, err = m.Get(sess.ID)
	require.ErrorIs(t, err, ErrSessionNotFound)
	assert.Nil(t, m.Hub().ReplaySince(sess.ID, 0))
}

func TestManagerUnknownSession(t *testing.T) {
	gw := &scriptedGateway{decisions: []planner.Decision{stopDecision()}, answer: "ok"}
	m := newTestManager(t, gw, &fakeRetriever{})
	_, err := m.Get("missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = m.Wait(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}
