package calls

import (
	"context"
	"sync"

	"call-platform/pkg/utils"
)

// hub fans committed session changes out to subscribers.
type hub struct {
	mu     sync.Mutex
	next   uint64
	subs   map[uint64]*subscriber
	closed bool
}

type subscriber struct {
	filter Filter
	box    *utils.Mailbox[Session]
}

func newHub() *hub {
	return &hub{subs: map[uint64]*subscriber{}}
}

// add registers a subscriber, then calls seed and queues its result ahead of any
// change published afterwards.
func (h *hub) add(ctx context.Context, f Filter, seed func() ([]Session, error)) (<-chan Session, func(), error) {
	sub := &subscriber{filter: f, box: utils.NewMailbox[Session]()}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil, nil, context.Canceled
	}
	id := h.next
	h.next++
	h.subs[id] = sub
	h.mu.Unlock()

	cancel := func() {
		sub.box.Close()
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}

	if seed != nil {
		initial, err := seed()
		if err != nil {
			cancel()
			return nil, nil, err
		}
		sub.box.Prepend(initial)
	}

	go func() {
		sub.box.Run(ctx)
		cancel()
	}()
	return sub.box.Out(), cancel, nil
}

func (h *hub) publish(s Session) {
	h.mu.Lock()
	targets := make([]*subscriber, 0, len(h.subs))
	for _, sub := range h.subs {
		if sub.filter.Match(s) {
			targets = append(targets, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range targets {
		sub.box.Push(s)
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	subs := h.subs
	h.subs = map[uint64]*subscriber{}
	h.closed = true
	h.mu.Unlock()

	for _, sub := range subs {
		sub.box.Close()
	}
}
