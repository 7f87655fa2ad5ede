package signaling

import (
	"context"
	"sync"

	"call-platform/pkg/utils"
)

// MemoryTransport is an in-process Transport for tests and single-node runs.
type MemoryTransport struct {
	mu    sync.Mutex
	calls map[string]*memCall
	next  uint64
}

type memCall struct {
	slots map[Kind]Envelope
	ice   []Envelope
	subs  map[uint64]*memSub
}

type memSub struct {
	filter Filter
	box    *utils.Mailbox[Envelope]
}

func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{calls: map[string]*memCall{}}
}

func (m *MemoryTransport) call(id string) *memCall {
	c, ok := m.calls[id]
	if !ok {
		c = &memCall{slots: map[Kind]Envelope{}, subs: map[uint64]*memSub{}}
		m.calls[id] = c
	}
	return c
}

func (m *MemoryTransport) Publish(ctx context.Context, e Envelope) error {
	if err := e.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.call(e.CallID)
	if e.Kind.Slotted() {
		c.slots[e.Kind] = e
	} else {
		c.ice = append(c.ice, e)
	}
	for _, s := range c.subs {
		if s.filter.Match(e) {
			s.box.Push(e)
		}
	}
	return nil
}

// Redeliver pushes an already published envelope to current subscribers again,
// the way a reconnecting realtime store may replay it.
func (m *MemoryTransport) Redeliver(e Envelope) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[e.CallID]
	if !ok {
		return
	}
	for _, s := range c.subs {
		if s.filter.Match(e) {
			s.box.Push(e)
		}
	}
}

func (m *MemoryTransport) Subscribe(ctx context.Context, callID string, f Filter) (<-chan Envelope, func(), error) {
	if callID == "" {
		return nil, nil, ErrInvalidEnvelope
	}
	sub := &memSub{filter: f, box: utils.NewMailbox[Envelope]()}

	m.mu.Lock()
	c := m.call(callID)
	for _, k := range []Kind{KindOffer, KindAnswer} {
		if e, ok := c.slots[k]; ok && f.Match(e) {
			sub.box.Push(e)
		}
	}
	for _, e := range c.ice {
		if f.Match(e) {
			sub.box.Push(e)
		}
	}
	id := m.next
	m.next++
	c.subs[id] = sub
	m.mu.Unlock()

	cancel := func() {
		sub.box.Close()
		m.mu.Lock()
		if c, ok := m.calls[callID]; ok {
			delete(c.subs, id)
		}
		m.mu.Unlock()
	}
	go func() {
		sub.box.Run(ctx)
		cancel()
	}()
	return sub.box.Out(), cancel, nil
}

func (m *MemoryTransport) Purge(ctx context.Context, callID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callID]
	if !ok {
		return nil
	}
	c.slots = map[Kind]Envelope{}
	c.ice = nil
	if len(c.subs) == 0 {
		delete(m.calls, callID)
	}
	return nil
}

// Stored returns how many envelopes are kept for a call.
func (m *MemoryTransport) Stored(callID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.calls[callID]
	if !ok {
		return 0
	}
	return len(c.slots) + len(c.ice)
}
