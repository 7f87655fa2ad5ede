package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"call-platform/internal/calls"
	"call-platform/internal/metrics"
)

// Outcome is the text of the notice left in the conversation.
type Outcome string

const (
	OutcomeMissed   Outcome = "missed call"
	OutcomeDeclined Outcome = "call declined"
)

// OutcomeFor reports which notice, if any, a terminal session deserves.
// A call that ended before anyone answered counts as missed.
func OutcomeFor(s calls.Session) (Outcome, bool) {
	switch s.Status {
	case calls.StatusRejected:
		return OutcomeDeclined, true
	case calls.StatusMissed, calls.StatusNoAnswer, calls.StatusBusy:
		return OutcomeMissed, true
	case calls.StatusEnded:
		if s.AnsweredAt == nil {
			return OutcomeMissed, true
		}
	}
	return "", false
}

// Notifier writes missed and declined call notices into the participants'
// conversation. It is best-effort: callers log its error and move on.
type Notifier struct {
	store   Store
	log     *slog.Logger
	metrics *metrics.Metrics
	clock   func() time.Time
}

func NewNotifier(store Store, log *slog.Logger, m *metrics.Metrics) *Notifier {
	if log == nil {
		log = slog.Default()
	}
	return &Notifier{store: store, log: log, metrics: m, clock: time.Now}
}

// NotifyMissedOrRejected appends the notice and bumps the conversation preview.
// Calling it again for the same call and outcome adds no message.
func (n *Notifier) NotifyMissedOrRejected(ctx context.Context, s calls.Session, outcome Outcome) error {
	if s.CallID == "" || s.CallerID == "" || s.ReceiverID == "" || outcome == "" {
		return ErrInvalidMessage
	}
	convID := ID(s.CallerID, s.ReceiverID)
	if err := n.store.Ensure(ctx, convID, s.CallerID, s.ReceiverID); err != nil {
		n.metrics.Notice("error")
		return err
	}

	// The notice is stamped with the call's end so repeats carry the same time.
	now := n.clock().UTC()
	if s.EndedAt != nil {
		now = s.EndedAt.UTC()
	}
	msg := Message{
		ID:             noticeID(s.CallID, outcome),
		ConversationID: convID,
		SenderID:       SystemSender,
		Kind:           KindSystem,
		Text:           string(outcome),
		CallID:         s.CallID,
		CreatedAt:      now,
	}
	inserted, err := n.store.AppendMessage(ctx, convID, msg)
	if err != nil {
		n.metrics.Notice("error")
		return err
	}
	// A repeat still bumps the preview in case an earlier attempt stored the
	// notice but failed here.
	if err := n.store.UpdatePreview(ctx, convID, msg.Text, now); err != nil {
		n.metrics.Notice("error")
		return fmt.Errorf("notice stored, preview not updated: %w", err)
	}
	if !inserted {
		n.metrics.Notice("duplicate")
		return nil
	}
	n.metrics.Notice("written")
	n.log.Info("call notice written", "call_id", s.CallID, "outcome", string(outcome))
	return nil
}
