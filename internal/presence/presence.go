package presence

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"call-platform/internal/metrics"
)

type State string

const (
	StateOnline  State = "online"
	StateOffline State = "offline"

	// StateUnknown means no presence record exists (never seen, or expired).
	StateUnknown State = ""
)

var ErrInvalidUser = errors.New("presence: user id required")

// Store reads and writes per-user presence records.
type Store interface {
	Lookup(ctx context.Context, userID string) (State, error)
	MarkOnline(ctx context.Context, userID string) error
	MarkOffline(ctx context.Context, userID string) error
}

// Probe answers "is the receiver probably reachable" without ever blocking a
// call for longer than its timeout.
type Probe struct {
	store   Store
	timeout time.Duration
	log     *slog.Logger
	metrics *metrics.Metrics
}

func NewProbe(store Store, timeout time.Duration, log *slog.Logger, m *metrics.Metrics) *Probe {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Probe{store: store, timeout: timeout, log: log, metrics: m}
}

// CheckOnline returns false only on a definitive negative read within the
// timeout. Timeouts and errors resolve to true.
func (p *Probe) CheckOnline(ctx context.Context, userID string) bool {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	type result struct {
		state State
		err   error
	}
	done := make(chan result, 1)
	go func() {
		st, err := p.store.Lookup(ctx, userID)
		done <- result{st, err}
	}()

	select {
	case <-ctx.Done():
		p.log.Debug("presence probe timed out, assuming reachable", "user_id", userID)
		p.metrics.Probe("assumed")
		return true
	case r := <-done:
		if r.err != nil {
			p.log.Warn("presence probe failed, assuming reachable", "user_id", userID, "err", r.err)
			p.metrics.Probe("assumed")
			return true
		}
		if r.state == StateOnline {
			p.metrics.Probe("online")
			return true
		}
		p.metrics.Probe("offline")
		return false
	}
}
