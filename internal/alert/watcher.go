package alert

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"call-platform/internal/calls"
	"call-platform/internal/metrics"
)

// IncomingCall is what the user is shown while a call rings. The actions feed
// back into the user's call machine.
type IncomingCall struct {
	CallID     string         `json:"call_id"`
	CallerID   string         `json:"caller_id"`
	CallerName string         `json:"caller_name,omitempty"`
	CallType   calls.CallType `json:"call_type"`
	CreatedAt  time.Time      `json:"created_at"`

	Answer  func(ctx context.Context) error `json:"-"`
	Reject  func(ctx context.Context) error `json:"-"`
	EndCall func(ctx context.Context) error `json:"-"`
}

// Alerter presents incoming calls to one user. Implementations must not block.
type Alerter interface {
	Alert(ctx context.Context, call IncomingCall)
	// Dismiss removes an alert once the call stopped ringing.
	Dismiss(ctx context.Context, callID string, status calls.Status)
}

// Sessions is the command surface of the local call machines.
type Sessions interface {
	Track(userID string, s calls.Session) error
	Answer(ctx context.Context, userID, callID string) error
	Reject(ctx context.Context, userID, callID string) error
	HangUp(ctx context.Context, userID, callID string, durationSeconds int) error
	MarkBusy(ctx context.Context, userID, callID string) error
	HasActiveCall(userID, exceptCallID string) bool
}

// Watcher turns RINGING sessions that target a user into alerts.
type Watcher struct {
	store    calls.Store
	sessions Sessions
	log      *slog.Logger
	metrics  *metrics.Metrics
}

func NewWatcher(store calls.Store, sessions Sessions, log *slog.Logger, m *metrics.Metrics) (*Watcher, error) {
	if store == nil || sessions == nil {
		return nil, errors.New("alert: store and sessions required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{store: store, sessions: sessions, log: log, metrics: m}, nil
}

// Watch alerts userID about incoming calls until ctx is done. A user already
// on another call gets the new one marked BUSY instead.
func (w *Watcher) Watch(ctx context.Context, userID string, a Alerter) error {
	if userID == "" || a == nil {
		return calls.ErrInvalidArgument
	}
	ch, stop, err := w.store.Subscribe(ctx, calls.Filter{ReceiverID: userID})
	if err != nil {
		return fmt.Errorf("watch incoming calls: %w", err)
	}
	defer stop()

	log := w.log.With("user_id", userID)
	alerted := map[string]struct{}{}
	for {
		select {
		case <-ctx.Done():
			return nil
		case s, ok := <-ch:
			if !ok {
				return nil
			}
			if s.Status != calls.StatusRinging {
				if _, ok := alerted[s.CallID]; ok {
					delete(alerted, s.CallID)
					a.Dismiss(ctx, s.CallID, s.Status)
				}
				continue
			}
			if _, ok := alerted[s.CallID]; ok {
				continue
			}
			w.ring(ctx, log, userID, s, a, alerted)
		}
	}
}

func (w *Watcher) ring(ctx context.Context, log *slog.Logger, userID string, s calls.Session, a Alerter, alerted map[string]struct{}) {
	if w.sessions.HasActiveCall(userID, s.CallID) {
		log.Info("receiver busy", "call_id", s.CallID)
		if err := w.sessions.MarkBusy(ctx, userID, s.CallID); err != nil {
			log.Warn("mark busy", "call_id", s.CallID, "err", err)
		}
		w.metrics.Alert("busy")
		return
	}
	if err := w.sessions.Track(userID, s); err != nil {
		log.Warn("track incoming call", "call_id", s.CallID, "err", err)
		w.metrics.Alert("error")
		return
	}

	callID := s.CallID
	alerted[callID] = struct{}{}
	a.Alert(ctx, IncomingCall{
		CallID:     callID,
		CallerID:   s.CallerID,
		CallerName: s.CallerName,
		CallType:   s.CallType,
		CreatedAt:  s.CreatedAt,
		Answer:     func(ctx context.Context) error { return w.sessions.Answer(ctx, userID, callID) },
		Reject:     func(ctx context.Context) error { return w.sessions.Reject(ctx, userID, callID) },
		EndCall:    func(ctx context.Context) error { return w.sessions.HangUp(ctx, userID, callID, 0) },
	})
	w.metrics.Alert("shown")
	log.Info("incoming call", "call_id", callID, "caller_id", s.CallerID, "call_type", string(s.CallType))
}
