package calls

import (
	"errors"
	"time"
)

// Session is the shared record of one call attempt between two users.
//
// Invariants:
// - CallID never changes after creation.
// - Status only moves forward (see Rank); nothing returns to RINGING.
// - Either participant may write Status; concurrent terminal writes converge.
type Session struct {
	CallID     string   `json:"call_id" db:"call_id"`
	CallerID   string   `json:"caller_id" db:"caller_id"`
	CallerName string   `json:"caller_name,omitempty" db:"caller_name"`
	ReceiverID string   `json:"receiver_id" db:"receiver_id"`
	CallType   CallType `json:"call_type" db:"call_type"`
	Status     Status   `json:"status" db:"status"`

	// CreatedAt is taken from the caller's clock.
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	AnsweredAt *time.Time `json:"answered_at,omitempty" db:"answered_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	// DurationSeconds is only set for calls that went CONNECTED -> ENDED.
	DurationSeconds int `json:"duration_seconds" db:"duration_seconds"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Peer returns the other participant from userID's point of view.
func (s Session) Peer(userID string) string {
	if userID == s.CallerID {
		return s.ReceiverID
	}
	return s.CallerID
}

// IsParticipant reports whether userID is the caller or the receiver.
func (s Session) IsParticipant(userID string) bool {
	return userID != "" && (userID == s.CallerID || userID == s.ReceiverID)
}

type CallType string

const (
	CallTypeAudio CallType = "AUDIO"
	CallTypeVideo CallType = "VIDEO"
)

func (t CallType) Valid() bool {
	return t == CallTypeAudio || t == CallTypeVideo
}

type Status string

const (
	StatusRinging    Status = "RINGING"
	StatusAnswered   Status = "ANSWERED"
	StatusConnecting Status = "CONNECTING"
	StatusConnected  Status = "CONNECTED"
	StatusRejected   Status = "REJECTED"
	StatusMissed     Status = "MISSED"
	StatusBusy       Status = "BUSY"
	StatusNoAnswer   Status = "NO_ANSWER"
	StatusEnded      Status = "ENDED"
	StatusFailed     Status = "FAILED"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []Status{
	StatusRinging,
	StatusAnswered,
	StatusConnecting,
	StatusConnected,
	StatusRejected,
	StatusMissed,
	StatusBusy,
	StatusNoAnswer,
	StatusEnded,
	StatusFailed,
}

var (
	ErrNotFound        = errors.New("calls: session not found")
	ErrAlreadyExists   = errors.New("calls: session already exists")
	ErrInvalidArgument = errors.New("calls: invalid argument")
)
