package calls

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ringing(id string) Session {
	return Session{
		CallID:     id,
		CallerID:   "alice",
		CallerName: "Alice",
		ReceiverID: "bob",
		CallType:   CallTypeAudio,
		Status:     StatusRinging,
		CreatedAt:  time.Now().UTC(),
	}
}

func recv(t *testing.T, ch <-chan Session) Session {
	t.Helper()
	select {
	case s, ok := <-ch:
		require.True(t, ok, "channel closed")
		return s
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for change")
	}
	return Session{}
}

func TestMemoryStore_CreateGet(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()

	require.NoError(t, st.Create(ctx, ringing("c1")))
	assert.ErrorIs(t, st.Create(ctx, ringing("c1")), ErrAlreadyExists)

	got, err := st.Get(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, StatusRinging, got.Status)

	_, err = st.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_TransitionIsConditional(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	require.NoError(t, st.Create(ctx, ringing("c1")))

	now := time.Now()
	s, applied, err := st.Transition(ctx, Transition{CallID: "c1", From: []Status{StatusRinging}, To: StatusAnswered, AnsweredAt: &now})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, StatusAnswered, s.Status)
	require.NotNil(t, s.AnsweredAt)

	// A racing reject arrives after the answer landed.
	s, applied, err = st.Transition(ctx, Transition{CallID: "c1", From: []Status{StatusRinging}, To: StatusRejected})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, StatusAnswered, s.Status)

	_, _, err = st.Transition(ctx, Transition{CallID: "c1", From: []Status{StatusEnded}, To: StatusRinging})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestMemoryStore_ConcurrentTerminalWritesConverge(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	require.NoError(t, st.Create(ctx, ringing("c1")))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		applied int
	)
	for _, to := range []Status{StatusMissed, StatusRejected, StatusEnded, StatusMissed} {
		wg.Add(1)
		go func(to Status) {
			defer wg.Done()
			_, ok, err := st.Transition(ctx, Transition{CallID: "c1", From: SourcesFor(to), To: to})
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				applied++
				mu.Unlock()
			}
		}(to)
	}
	wg.Wait()

	assert.Equal(t, 1, applied)
	got, err := st.Get(ctx, "c1")
	require.NoError(t, err)
	assert.True(t, got.Status.IsTerminal())
}

func TestMemoryStore_EndedAtIsWrittenOnce(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	require.NoError(t, st.Create(ctx, ringing("c1")))

	first := time.Now().Add(-time.Minute)
	_, ok, err := st.Transition(ctx, Transition{CallID: "c1", From: SourcesFor(StatusEnded), To: StatusEnded, EndedAt: &first})
	require.NoError(t, err)
	require.True(t, ok)

	second := time.Now()
	s, ok, err := st.Transition(ctx, Transition{CallID: "c1", From: SourcesFor(StatusEnded), To: StatusEnded, EndedAt: &second})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, first.UTC().Equal(*s.EndedAt))
}

func TestMemoryStore_SubscribeDeliversInCommitOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st := NewMemoryStore()
	require.NoError(t, st.Create(ctx, ringing("c1")))

	ch, stop, err := st.Subscribe(ctx, Filter{CallID: "c1"})
	require.NoError(t, err)
	defer stop()

	assert.Equal(t, StatusRinging, recv(t, ch).Status)

	for _, to := range []Status{StatusAnswered, StatusConnecting, StatusConnected, StatusEnded} {
		_, ok, err := st.Transition(ctx, Transition{CallID: "c1", From: SourcesFor(to), To: to})
		require.NoError(t, err)
		require.True(t, ok)
	}
	for _, want := range []Status{StatusAnswered, StatusConnecting, StatusConnected, StatusEnded} {
		assert.Equal(t, want, recv(t, ch).Status)
	}
}

func TestMemoryStore_SubscribeByReceiverSkipsClosedCalls(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	st := NewMemoryStore()

	require.NoError(t, st.Create(ctx, ringing("old")))
	_, _, err := st.Transition(ctx, Transition{CallID: "old", From: SourcesFor(StatusMissed), To: StatusMissed})
	require.NoError(t, err)

	ch, stop, err := st.Subscribe(ctx, Filter{ReceiverID: "bob"})
	require.NoError(t, err)
	defer stop()

	other := ringing("other")
	other.ReceiverID = "carol"
	require.NoError(t, st.Create(ctx, other))
	require.NoError(t, st.Create(ctx, ringing("new")))

	got := recv(t, ch)
	assert.Equal(t, "new", got.CallID)
}

func TestMemoryStore_CancelClosesChannel(t *testing.T) {
	st := NewMemoryStore()
	ch, stop, err := st.Subscribe(context.Background(), Filter{CallID: "c1"})
	require.NoError(t, err)
	stop()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatalf("channel not closed")
	}
}

func TestMemoryStore_ListStaleRinging(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()

	stale := ringing("stale")
	stale.CreatedAt = time.Now().Add(-time.Minute)
	require.NoError(t, st.Create(ctx, stale))
	require.NoError(t, st.Create(ctx, ringing("fresh")))

	got, err := st.ListStaleRinging(ctx, time.Now().Add(-30*time.Second), 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "stale", got[0].CallID)
}

func TestMemoryStore_FailWrites(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	st.FailWrites(1)
	assert.Error(t, st.Create(ctx, ringing("c1")))
	assert.NoError(t, st.Create(ctx, ringing("c1")))
}
