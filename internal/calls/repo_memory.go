package calls

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used by tests and single-node development.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session
	hub      *hub
	clock    func() time.Time

	failWrites int
}

var errInjected = errors.New("calls: injected write failure")

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: map[string]Session{},
		hub:      newHub(),
		clock:    time.Now,
	}
}

// FailWrites makes the next n Create/Transition calls fail.
func (m *MemoryStore) FailWrites(n int) {
	m.mu.Lock()
	m.failWrites = n
	m.mu.Unlock()
}

func (m *MemoryStore) Create(ctx context.Context, s Session) error {
	if err := Validate(s); err != nil {
		return err
	}
	m.mu.Lock()
	if m.failWrites > 0 {
		m.failWrites--
		m.mu.Unlock()
		return errInjected
	}
	if _, ok := m.sessions[s.CallID]; ok {
		m.mu.Unlock()
		return ErrAlreadyExists
	}
	s.UpdatedAt = m.clock().UTC()
	m.sessions[s.CallID] = s
	m.mu.Unlock()

	m.hub.publish(s)
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, callID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[callID]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (m *MemoryStore) Transition(ctx context.Context, t Transition) (Session, bool, error) {
	if err := validateTransition(t); err != nil {
		return Session{}, false, err
	}
	m.mu.Lock()
	if m.failWrites > 0 {
		m.failWrites--
		m.mu.Unlock()
		return Session{}, false, errInjected
	}
	cur, ok := m.sessions[t.CallID]
	if !ok {
		m.mu.Unlock()
		return Session{}, false, ErrNotFound
	}
	if !statusIn(cur.Status, t.From) {
		m.mu.Unlock()
		return cur, false, nil
	}
	cur = apply(cur, t, m.clock().UTC())
	m.sessions[t.CallID] = cur
	m.mu.Unlock()

	m.hub.publish(cur)
	return cur, true, nil
}

func (m *MemoryStore) Subscribe(ctx context.Context, f Filter) (<-chan Session, func(), error) {
	return m.hub.add(ctx, f, func() ([]Session, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		var out []Session
		for _, s := range m.sessions {
			if !f.Match(s) {
				continue
			}
			if f.CallID == "" && s.Status.IsTerminal() {
				continue
			}
			out = append(out, s)
		}
		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
		return out, nil
	})
}

func (m *MemoryStore) ListStaleRinging(ctx context.Context, cutoff time.Time, limit int) ([]Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Session
	for _, s := range m.sessions {
		if s.Status == StatusRinging && s.CreatedAt.Before(cutoff) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Close ends every open subscription.
func (m *MemoryStore) Close() {
	m.hub.closeAll()
}

func statusIn(s Status, set []Status) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

func apply(cur Session, t Transition, now time.Time) Session {
	cur.Status = t.To
	if t.AnsweredAt != nil && cur.AnsweredAt == nil {
		v := t.AnsweredAt.UTC()
		cur.AnsweredAt = &v
	}
	if t.EndedAt != nil && cur.EndedAt == nil {
		v := t.EndedAt.UTC()
		cur.EndedAt = &v
	}
	if t.DurationSeconds > 0 {
		cur.DurationSeconds = t.DurationSeconds
	}
	cur.UpdatedAt = now
	return cur
}
