package conversation

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a simple in-memory store useful for tests.
type MemoryStore struct {
	mu       sync.Mutex
	convs    map[string]Conversation
	messages map[string][]Message
	ids      map[string]struct{}

	// Err, when set, fails every write.
	Err error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		convs:    map[string]Conversation{},
		messages: map[string][]Message{},
		ids:      map[string]struct{}{},
	}
}

func (m *MemoryStore) Ensure(ctx context.Context, id, a, b string) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.convs[id]; !ok {
		m.convs[id] = Conversation{ID: id, ParticipantA: a, ParticipantB: b}
	}
	return nil
}

func (m *MemoryStore) AppendMessage(ctx context.Context, conversationID string, msg Message) (bool, error) {
	if m.Err != nil {
		return false, m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.convs[conversationID]; !ok {
		return false, ErrNotFound
	}
	if _, dup := m.ids[msg.ID]; dup {
		return false, nil
	}
	m.ids[msg.ID] = struct{}{}
	msg.ConversationID = conversationID
	m.messages[conversationID] = append(m.messages[conversationID], msg)
	return true, nil
}

func (m *MemoryStore) UpdatePreview(ctx context.Context, conversationID, text string, at time.Time) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[conversationID]
	if !ok {
		return ErrNotFound
	}
	if c.LastMessageAt != nil && c.LastMessageAt.After(at) {
		return nil
	}
	at = at.UTC()
	c.LastMessage = text
	c.LastMessageAt = &at
	m.convs[conversationID] = c
	return nil
}

func (m *MemoryStore) Messages(conversationID string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.messages[conversationID]))
	copy(out, m.messages[conversationID])
	return out
}

func (m *MemoryStore) Conversation(id string) (Conversation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[id]
	return c, ok
}
