// Package media bridges call lifecycle events to a peer-connection engine.
//
// Engine is the await-style boundary to the external media stack. Bridge runs
// the offer/answer/candidate exchange for one call over a signaling.Transport.
package media

import (
	"context"
	"errors"

	"call-platform/internal/calls"
)

type SDPType string

const (
	SDPOffer  SDPType = "offer"
	SDPAnswer SDPType = "answer"
)

type Description struct {
	Type SDPType
	SDP  string
}

// Candidate mirrors the browser RTCIceCandidateInit JSON shape, which is what
// travels inside ICE_CANDIDATE envelopes.
type Candidate struct {
	Candidate        string  `json:"candidate"`
	SDPMid           *string `json:"sdpMid,omitempty"`
	SDPMLineIndex    *uint16 `json:"sdpMLineIndex,omitempty"`
	UsernameFragment *string `json:"usernameFragment,omitempty"`
}

type ConnectionState string

const (
	StateNew          ConnectionState = "new"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateDisconnected ConnectionState = "disconnected"
	StateFailed       ConnectionState = "failed"
	StateClosed       ConnectionState = "closed"
)

// RemoteStream describes a track the remote peer started sending.
type RemoteStream struct {
	Kind     string
	TrackID  string
	StreamID string
	Codec    string
}

// Engine is one peer connection. Every call returns when the operation has
// completed; callbacks may fire from engine goroutines.
type Engine interface {
	CreateOffer(ctx context.Context) (Description, error)
	CreateAnswer(ctx context.Context) (Description, error)
	SetLocalDescription(ctx context.Context, d Description) error
	SetRemoteDescription(ctx context.Context, d Description) error
	AddICECandidate(ctx context.Context, c Candidate) error

	OnICECandidate(fn func(Candidate))
	OnConnectionStateChange(fn func(ConnectionState))
	OnRemoteStream(fn func(RemoteStream))

	Close() error
}

// Factory creates an engine with local tracks attached for the call type.
type Factory func(ctx context.Context, callID string, callType calls.CallType) (Engine, error)

var (
	ErrNegotiation  = errors.New("media: negotiation failed")
	ErrConnectivity = errors.New("media: connectivity lost")
)
