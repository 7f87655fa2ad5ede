package signaling

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Kind is the signaling message type exchanged for one call.
type Kind string

const (
	KindOffer        Kind = "OFFER"
	KindAnswer       Kind = "ANSWER"
	KindICECandidate Kind = "ICE_CANDIDATE"
)

func (k Kind) Valid() bool {
	return k == KindOffer || k == KindAnswer || k == KindICECandidate
}

// Slotted reports whether a kind keeps only its latest write per call.
func (k Kind) Slotted() bool { return k == KindOffer || k == KindAnswer }

// Envelope carries one session description or ICE candidate.
// Payload is opaque to this package: SDP text or a JSON-encoded candidate.
type Envelope struct {
	ID       string    `json:"id"`
	CallID   string    `json:"call_id"`
	Kind     Kind      `json:"kind"`
	SenderID string    `json:"sender_id"`
	Payload  string    `json:"payload"`
	SentAt   time.Time `json:"sent_at"`
}

var ErrInvalidEnvelope = errors.New("signaling: invalid envelope")

// New builds an envelope with a fresh synthetic id.
func New(callID string, kind Kind, senderID, payload string) Envelope {
	return Envelope{
		ID:       uuid.NewString(),
		CallID:   callID,
		Kind:     kind,
		SenderID: senderID,
		Payload:  payload,
		SentAt:   time.Now().UTC(),
	}
}

func (e Envelope) Validate() error {
	if e.ID == "" || e.CallID == "" || e.SenderID == "" || e.Payload == "" {
		return ErrInvalidEnvelope
	}
	if !e.Kind.Valid() {
		return ErrInvalidEnvelope
	}
	return nil
}

// Filter narrows a subscription. Empty fields match everything.
type Filter struct {
	Kind          Kind
	ExcludeSender string
}

func (f Filter) Match(e Envelope) bool {
	if f.Kind != "" && e.Kind != f.Kind {
		return false
	}
	if f.ExcludeSender != "" && e.SenderID == f.ExcludeSender {
		return false
	}
	return true
}

// Transport exchanges envelopes between the two peers of a call.
//
// Delivery is at-least-once: a subscriber first receives the envelopes already
// stored for the call, then live ones, and may see the same envelope twice.
type Transport interface {
	Publish(ctx context.Context, e Envelope) error
	Subscribe(ctx context.Context, callID string, f Filter) (<-chan Envelope, func(), error)

	// Purge drops every stored envelope of a finished call.
	Purge(ctx context.Context, callID string) error
}
