package history

import (
	"errors"
	"time"

	"call-platform/internal/calls"
)

type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
)

// Record is one participant's immutable copy of a finished call.
// (OwnerID, CallID) is unique; records are never updated.
type Record struct {
	OwnerID   string    `json:"owner_id" db:"owner_id"`
	CallID    string    `json:"call_id" db:"call_id"`
	PeerID    string    `json:"peer_id" db:"peer_id"`
	PeerName  string    `json:"peer_name,omitempty" db:"peer_name"`
	Direction Direction `json:"direction" db:"direction"`

	CallType calls.CallType `json:"call_type" db:"call_type"`
	Status   calls.Status   `json:"status" db:"status"`

	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	AnsweredAt      *time.Time `json:"answered_at,omitempty" db:"answered_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty" db:"ended_at"`
	DurationSeconds int        `json:"duration_seconds" db:"duration_seconds"`

	RecordedAt time.Time `json:"recorded_at" db:"recorded_at"`
}

var (
	ErrNotTerminal   = errors.New("history: session is not terminal")
	ErrInvalidRecord = errors.New("history: invalid record")
)

// recordsFor builds both participants' copies of a terminal session.
func recordsFor(s calls.Session, now time.Time) []Record {
	base := Record{
		CallID:          s.CallID,
		CallType:        s.CallType,
		Status:          s.Status,
		CreatedAt:       s.CreatedAt,
		AnsweredAt:      s.AnsweredAt,
		EndedAt:         s.EndedAt,
		DurationSeconds: s.DurationSeconds,
		RecordedAt:      now,
	}
	caller := base
	caller.OwnerID = s.CallerID
	caller.PeerID = s.ReceiverID
	caller.Direction = DirectionOutgoing

	receiver := base
	receiver.OwnerID = s.ReceiverID
	receiver.PeerID = s.CallerID
	receiver.PeerName = s.CallerName
	receiver.Direction = DirectionIncoming

	return []Record{caller, receiver}
}
