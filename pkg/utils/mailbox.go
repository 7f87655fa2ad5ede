package utils

import (
	"context"
	"sync"
)

// Mailbox is an unbounded FIFO between one producer side and one reader.
// Push never blocks, so writers are never held up by a slow subscriber and
// ordering is preserved.
type Mailbox[T any] struct {
	mu    sync.Mutex
	queue []T
	wake  chan struct{}

	out  chan T
	done chan struct{}
	once sync.Once
}

func NewMailbox[T any]() *Mailbox[T] {
	return &Mailbox[T]{
		wake: make(chan struct{}, 1),
		out:  make(chan T),
		done: make(chan struct{}),
	}
}

// Out is closed when Run returns.
func (m *Mailbox[T]) Out() <-chan T { return m.out }

func (m *Mailbox[T]) Push(vs ...T) {
	if len(vs) == 0 {
		return
	}
	m.mu.Lock()
	m.queue = append(m.queue, vs...)
	m.mu.Unlock()
	m.signal()
}

// Prepend queues vs ahead of everything not yet delivered.
func (m *Mailbox[T]) Prepend(vs []T) {
	if len(vs) == 0 {
		return
	}
	m.mu.Lock()
	m.queue = append(append(make([]T, 0, len(vs)+len(m.queue)), vs...), m.queue...)
	m.mu.Unlock()
	m.signal()
}

// Close stops delivery. Undelivered items are dropped.
func (m *Mailbox[T]) Close() {
	m.once.Do(func() { close(m.done) })
}

// Run delivers queued items to Out until Close is called or ctx is done.
func (m *Mailbox[T]) Run(ctx context.Context) {
	defer close(m.out)
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			select {
			case <-m.wake:
				continue
			case <-m.done:
				return
			case <-ctx.Done():
				return
			}
		}
		next := m.queue[0]
		var zero T
		m.queue[0] = zero
		m.queue = m.queue[1:]
		m.mu.Unlock()

		select {
		case m.out <- next:
		case <-m.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (m *Mailbox[T]) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}
