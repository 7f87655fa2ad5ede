package presence

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Delay and Err let tests simulate a slow
// or broken realtime store.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string]State

	Delay time.Duration
	Err   error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: map[string]State{}}
}

func (m *MemoryStore) Lookup(ctx context.Context, userID string) (State, error) {
	if userID == "" {
		return StateUnknown, ErrInvalidUser
	}
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return StateUnknown, ctx.Err()
		}
	}
	if m.Err != nil {
		return StateUnknown, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[userID], nil
}

func (m *MemoryStore) MarkOnline(ctx context.Context, userID string) error {
	return m.set(userID, StateOnline)
}

func (m *MemoryStore) MarkOffline(ctx context.Context, userID string) error {
	return m.set(userID, StateOffline)
}

func (m *MemoryStore) set(userID string, st State) error {
	if userID == "" {
		return ErrInvalidUser
	}
	m.mu.Lock()
	m.states[userID] = st
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) State(userID string) State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[userID]
}
