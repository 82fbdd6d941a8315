package broadcast

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (s *captureSink) Name() string { return "capture" }

func (s *captureSink) Publish(_ context.Context, ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return s.err
}

func TestHubDeliversInOrder(t *testing.T) {
	hub := NewHub(8, nil)
	sub := hub.Subscribe("s1")
	ctx := context.Background()

	hub.Publish(ctx, "s1", TypeSpeech, "a")
	hub.Publish(ctx, "s1", TypeEvolutionUpdate, "b")
	hub.Publish(ctx, "s2", TypeSpeech, "other session")
	hub.Publish(ctx, "s1", TypeSessionComplete, "c")
	hub.CloseSession("s1")

	var got []Event
	for {
		ev, err := sub.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, ev)
	}

	require.Len(t, got, 3)
	assert.Equal(t, []uint64{1, 2, 3}, []uint64{got[0].Seq, got[1].Seq, got[2].Seq})
	assert.Equal(t, TypeSpeech, got[0].Type)
	assert.Equal(t, TypeSessionComplete, got[2].Type)
}

func TestSubscriptionDropsOldestUnderBackpressure(t *testing.T) {
	hub := NewHub(3, nil)
	sub := hub.Subscribe("s1")
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		hub.Publish(ctx, "s1", TypeSpeech, i)
	}
	assert.Equal(t, uint64(2), sub.Dropped())
	assert.Equal(t, 3, sub.Buffered())

	var seqs []uint64
	for i := 0; i < 3; i++ {
		ev, err := sub.Next(ctx)
		require.NoError(t, err)
		seqs = append(seqs, ev.Seq)
	}
	assert.Equal(t, []uint64{3, 4, 5}, seqs)
}

func TestSubscriptionNextHonoursContext(t *testing.T) {
	hub := NewHub(2, nil)
	sub := hub.Subscribe("s1")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := sub.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSubscriptionWakesOnPublish(t *testing.T) {
	hub := NewHub(2, nil)
	sub := hub.Subscribe("s1")

	done := make(chan Event, 1)
	go func() {
		ev, err := sub.Next(context.Background())
		if err == nil {
			done <- ev
		}
	}()

	hub.Publish(context.Background(), "s1", TypeTurnStarted, nil)
	select {
	case ev := <-done:
		assert.Equal(t, TypeTurnStarted, ev.Type)
	case <-time.After(time.Second):
		t.Fatal("subscriber was not woken")
	}
}

func TestHubMirrorsToSinksAndIgnoresSinkErrors(t *testing.T) {
	sink := &captureSink{err: errors.New("redis down")}
	hub := NewHub(4, nil, sink)
	sub := hub.Subscribe("s1")

	hub.Publish(context.Background(), "s1", TypeSpeech, "x")

	ev, err := sub.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), ev.Seq)
	require.Len(t, sink.events, 1)
	assert.Equal(t, ev.ID, sink.events[0].ID)
}

func TestClosedSessionDiscardsAndEOFs(t *testing.T) {
	hub := NewHub(4, nil)
	hub.CloseSession("s1")

	ev := hub.Publish(context.Background(), "s1", TypeSpeech, "late")
	assert.Zero(t, ev.Seq)

	sub := hub.Subscribe("s1")
	_, err := sub.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestUnsubscribe(t *testing.T) {
	hub := NewHub(4, nil)
	sub := hub.Subscribe("s1")
	assert.Equal(t, 1, hub.Subscribers("s1"))
	sub.Close()
	assert.Equal(t, 0, hub.Subscribers("s1"))
}
