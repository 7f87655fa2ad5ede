package presence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbe_OnlineAndOffline(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	p := NewProbe(st, 50*time.Millisecond, nil, nil)

	require.NoError(t, st.MarkOnline(ctx, "bob"))
	assert.True(t, p.CheckOnline(ctx, "bob"))

	require.NoError(t, st.MarkOffline(ctx, "bob"))
	assert.False(t, p.CheckOnline(ctx, "bob"))

	// Never seen is a definitive negative read.
	assert.False(t, p.CheckOnline(ctx, "carol"))
}

func TestProbe_TimeoutAssumesReachable(t *testing.T) {
	st := NewMemoryStore()
	require.NoError(t, st.MarkOffline(context.Background(), "bob"))
	st.Delay = time.Second
	p := NewProbe(st, 20*time.Millisecond, nil, nil)

	start := time.Now()
	assert.True(t, p.CheckOnline(context.Background(), "bob"))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestProbe_ErrorAssumesReachable(t *testing.T) {
	st := NewMemoryStore()
	st.Err = errors.New("connection refused")
	p := NewProbe(st, 50*time.Millisecond, nil, nil)
	assert.True(t, p.CheckOnline(context.Background(), "bob"))
}

func TestTrack_MarksOfflineOnExit(t *testing.T) {
	st := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		Track(ctx, st, "alice", 5*time.Millisecond, nil)
		close(done)
	}()

	require.Eventually(t, func() bool { return st.State("alice") == StateOnline }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.Equal(t, StateOffline, st.State("alice"))
}

func TestRedisKey(t *testing.T) {
	assert.Equal(t, "presence:bob", key("bob"))
	assert.Equal(t, 30*time.Second, NewRedisStore(nil, 0).ttl)
}
