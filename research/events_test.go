package research

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHubPublishAssignsMonotonicSeq(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe("sess-1", 8)
	defer hub.Unsubscribe("sess-1", ch)
	hub.Publish(Event{SessionID: "sess-1", Type: EventRoundStarted, Round: 1})
	hub.Publish(Event{SessionID: "sess-1", Type: EventEvidenceFound, Round: 1})

	first := <-ch
	second := <-ch
	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, uint64(2), second.Seq)
	assert.False(t, first.Timestamp.IsZero())
}

func TestHubIsolatesSessions(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe("sess-1", 8)
	defer hub.Unsubscribe("sess-1", ch)
	hub.Publish(Event{SessionID: "sess-2", Type: EventDone})
	select {
	case evt := <-ch:
		t.Fatalf("expected no event, got %v", evt)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestHubSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe("sess-1", 1)
	defer hub.Unsubscribe("sess-1", ch)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			hub.Publish(Event{SessionID: "sess-1", Type: EventEvidenceFound})
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	// replay still has everything within capacity
	assert.Len(t, hub.ReplaySince("sess-1", 0), 10)
}

func TestHubReplaySince(t *testing.T) {
	hub := NewHub()
	for i := 1; i <= 5; i++ {
		hub.Publish(Event{SessionID: "sess-1", Type: EventRoundStarted, Round: i})
	}
	replay := hub.ReplaySince("sess-1", 3)
	require.Len(t, replay, 2)
	assert.Equal(t, uint64(4), replay[0].Seq)
	assert.Equal(t, uint64(5), replay[1].Seq)
	assert.Nil(t, hub.ReplaySince("unknown", 0))
}

func TestHubReplayDuringConcurrentPublish(t *testing.T) {
	hub := NewHub()
	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				hub.Publish(Event{SessionID: "sess-1", Type: EventEvidenceFound})
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				hub.ReplaySince("sess-1", 0)
			}
		}()
	}
	wg.Wait()
	// 400 events published, the ring retains the newest capacity-worth
	replay := hub.ReplaySince("sess-1", 0)
	require.Len(t, replay, defaultHistoryCapacity)
	assert.Equal(t, uint64(400), replay[len(replay)-1].Seq)
}

func TestHubForget(t *testing.T) {
	hub := NewHub()
	hub.Publish(Event{SessionID: "sess-1", Type: EventDone})
	hub.Forget("sess-1")
	assert.Nil(t, hub.ReplaySince("sess-1", 0))
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe("sess-1", 1)
	hub.Unsubscribe("sess-1", ch)
	_, open := <-ch
	assert.False(t, open)
}
