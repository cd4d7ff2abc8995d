package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bububa/deep-researcher/components"
	"github.com/bububa/deep-researcher/llm"
	"github.com/bububa/deep-researcher/planner"
	"github.com/bububa/deep-researcher/research"
	"github.com/bububa/deep-researcher/retrieval"
	"github.com/bububa/deep-researcher/synthesis"
)

type stubGateway struct {
	answer string
}

func (g *stubGateway) Complete(ctx context.Context, req *llm.Request, apiResp *components.LLMResponse) (string, error) {
	apiResp.Usage = &components.LLMUsage{InputTokens: 5, OutputTokens: 2}
	return g.answer, nil
}

func (g *stubGateway) CompleteStructured(ctx context.Context, req *llm.Request, out any, apiResp *components.LLMResponse) error {
	stop := true
	*(out.(*planner.Decision)) = planner.Decision{Stop: &stop, Reasoning: "done"}
	return nil
}

type stubRetriever struct{}

func (stubRetriever) Search(ctx context.Context, query string, topK int) ([]retrieval.Result, error) {
	return nil, nil
}

func (stubRetriever) FetchAndExtract(ctx context.Context, link string) (string, error) {
	return "", &retrieval.FetchError{URL: link, Err: errors.New("unreachable")}
}

func newTestServer(t *testing.T, opts ...research.ManagerOption) *Server {
	t.Helper()
	gw := &stubGateway{answer: "The answer."}
	mgr := research.NewManager(planner.New(gw), stubRetriever{}, synthesis.New(gw), opts...)
	t.Cleanup(mgr.Close)
	return New(mgr)
}

func TestCreateSync(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/research",
		strings.NewReader(`{"question":"why did it happen?"}`))
	w := httptest.NewRecorder()
	srv.Routes().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var result research.Result
	require.NoError(t, json.NewDecoder(w.Body).Decode(&result))
	assert.Equal(t, "The answer.", result.Answer)
	assert.Equal(t, research.ReasonPlannerStop, result.Reason)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestCreateAsyncAndGet(t *testing.T) {
	srv := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/research?async=1",
		strings.NewReader(`{"question":"why did it happen?"}`))
	w := httptest.NewRecorder()
	srv.Routes().ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	var created createdResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&created))
	require.NotEmpty(t, created.ID)

	require.Eventually(t, func() bool {
		w := httptest.NewRecorder()
		srv.Routes().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/research/"+created.ID, nil))
		if w.Code != http.StatusOK {
			return false
		}
		var summary research.Summary
		if err := json.NewDecoder(w.Body).Decode(&summary); err != nil {
			return false
		}
		return summary.Status == research.StatusDone
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCreateRejectsBadPayload(t *testing.T) {
	srv := newTestServer(t)
	for name, body := range map[string]string{
		"malformed json":   `{"question":`,
		"missing question": `{}`,
		"short question":   `{"question":"ab"}`,
		"negative rounds":  `{"question":"valid question","options":{"max_rounds":-1}}`,
	} {
		t.Run(name, func(t *testing.T) {
			w := httptest.NewRecorder()
			srv.Routes().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/research", strings.NewReader(body)))
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestGetUnknownSession(t *testing.T) {
	srv := newTestServer(t)
	w := httptest.NewRecorder()
	srv.Routes().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/research/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCancelUnknownSession(t *testing.T) {
	srv := newTestServer(t)
	w := httptest.NewRecorder()
	srv.Routes().ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/api/research/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSessionCapReturns429(t *testing.T) {
	// hold the only slot with an async session that blocks until released
	block := make(chan struct{})
	srv := New(blockedManager(t, block))
	defer close(block)

	w := httptest.NewRecorder()
	srv.Routes().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/research?async=1",
		strings.NewReader(`{"question":"first question"}`)))
	require.Equal(t, http.StatusAccepted, w.Code)

	w = httptest.NewRecorder()
	srv.Routes().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/research?async=1",
		strings.NewReader(`{"question":"second question"}`)))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

// blockedManager builds a manager whose synthesis blocks until released.
func blockedManager(t *testing.T, release <-chan struct{}) *research.Manager {
	t.Helper()
	gw := &blockingGateway{release: release}
	mgr := research.NewManager(planner.New(gw), stubRetriever{}, synthesis.New(gw),
		research.WithLimits(research.Limits{MaxSessions: 1}))
	t.Cleanup(mgr.Close)
	return mgr
}

type blockingGateway struct {
	release <-chan struct{}
}

func (g *blockingGateway) Complete(ctx context.Context, req *llm.Request, apiResp *components.LLMResponse) (string, error) {
	select {
	case <-g.release:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	return "released", nil
}

func (g *blockingGateway) CompleteStructured(ctx context.Context, req *llm.Request, out any, apiResp *components.LLMResponse) error {
	stop := true
	*(out.(*planner.Decision)) = planner.Decision{Stop: &stop, Reasoning: "done"}
	return nil
}

func TestEventsReplayAfterCompletion(t *testing.T) {
	srv := newTestServer(t)
	w := httptest.NewRecorder()
	srv.Routes().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/research?async=1",
		strings.NewReader(`{"question":"why did it happen?"}`)))
	require.Equal(t, http.StatusAccepted, w.Code)
	var created createdResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&created))

	require.Eventually(t, func() bool {
		sess, err := srv.manager.Get(created.ID)
		return err == nil && sess.Terminal()
	}, 2*time.Second, 10*time.Millisecond)

	w = httptest.NewRecorder()
	srv.Routes().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/research/"+created.ID+"/events", nil))
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "event: round_started")
	assert.Contains(t, body, "event: done")
	assert.Contains(t, body, "id: 1")
}

func TestEventsLiveStream(t *testing.T) {
	block := make(chan struct{})
	srv := New(blockedManager(t, block))
	ts := httptest.NewServer(srv.Routes())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/api/research?async=1", "application/json",
		strings.NewReader(`{"question":"streaming question"}`))
	require.NoError(t, err)
	var created createdResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	resp.Body.Close()

	stream, err := http.Get(ts.URL + "/api/research/" + created.ID + "/events")
	require.NoError(t, err)
	defer stream.Body.Close()
	require.Equal(t, "text/event-stream", stream.Header.Get("Content-Type"))

	go func() {
		time.Sleep(50 * time.Millisecond)
		close(block)
	}()
	scanner := bufio.NewScanner(stream.Body)
	var sawDone bool
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), "event: done") {
			sawDone = true
			break
		}
	}
	assert.True(t, sawDone, "stream should carry the terminal event")
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)
	w := httptest.NewRecorder()
	srv.Routes().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "ok")
}
