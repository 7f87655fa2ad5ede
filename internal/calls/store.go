package calls

import (
	"context"
	"time"
)

// Transition describes a conditional status write.
//
// The write applies only while the stored status is one of From. Otherwise the
// store reports applied=false and returns the current record, which lets racing
// peers converge without transactions.
type Transition struct {
	CallID string
	From   []Status
	To     Status

	AnsweredAt      *time.Time
	EndedAt         *time.Time
	DurationSeconds int
}

// Filter selects which change notifications a subscriber receives.
// Empty fields match everything.
type Filter struct {
	CallID     string
	ReceiverID string
	UserID     string // caller or receiver
}

func (f Filter) Match(s Session) bool {
	if f.CallID != "" && s.CallID != f.CallID {
		return false
	}
	if f.ReceiverID != "" && s.ReceiverID != f.ReceiverID {
		return false
	}
	if f.UserID != "" && !s.IsParticipant(f.UserID) {
		return false
	}
	return true
}

// Store is the authoritative shared record of call sessions.
type Store interface {
	Create(ctx context.Context, s Session) error
	Get(ctx context.Context, callID string) (Session, error)
	Transition(ctx context.Context, t Transition) (Session, bool, error)

	// Subscribe streams every change matching f, in commit order, until ctx is
	// done or cancel is called.
	Subscribe(ctx context.Context, f Filter) (<-chan Session, func(), error)

	// ListStaleRinging returns sessions still RINGING that were created before cutoff.
	ListStaleRinging(ctx context.Context, cutoff time.Time, limit int) ([]Session, error)
}

// Validate checks a new session before creation.
func Validate(s Session) error {
	if s.CallID == "" || s.CallerID == "" || s.ReceiverID == "" {
		return ErrInvalidArgument
	}
	if s.CallerID == s.ReceiverID {
		return ErrInvalidArgument
	}
	if !s.CallType.Valid() {
		return ErrInvalidArgument
	}
	if s.Status != StatusRinging {
		return ErrInvalidArgument
	}
	if s.CreatedAt.IsZero() {
		return ErrInvalidArgument
	}
	return nil
}

func validateTransition(t Transition) error {
	if t.CallID == "" || !t.To.Valid() || len(t.From) == 0 {
		return ErrInvalidArgument
	}
	for _, from := range t.From {
		if !CanTransition(from, t.To) {
			return ErrInvalidArgument
		}
	}
	return nil
}
