// Package mediatest provides a recording media.Engine for tests.
package mediatest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"call-platform/internal/calls"
	"call-platform/internal/media"
)

// SDP is a minimal description that parses as valid SDP with one audio section.
func SDP(tag string) string {
	return "v=0\r\n" +
		"o=- 4215 0 IN IP4 127.0.0.1\r\n" +
		"s=" + tag + "\r\n" +
		"t=0 0\r\n" +
		"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
		"c=IN IP4 0.0.0.0\r\n" +
		"a=rtpmap:111 opus/48000/2\r\n"
}

var ErrNoRemoteDescription = errors.New("mediatest: remote description not set")

// Engine records every call. Candidates added before a remote description is
// set are rejected, the same way a real peer connection rejects them.
type Engine struct {
	// Tag distinguishes the SDP this engine produces.
	Tag string
	// ConnectOnNegotiated reports StateConnected once both descriptions are set.
	ConnectOnNegotiated bool
	// Fail maps a method name to the error it should return.
	Fail map[string]error

	mu         sync.Mutex
	local      *media.Description
	remote     *media.Description
	candidates []media.Candidate
	closed     bool
	offers     int
	answers    int

	onCandidate func(media.Candidate)
	onState     func(media.ConnectionState)
	onStream    func(media.RemoteStream)
}

func NewEngine(tag string) *Engine {
	return &Engine{Tag: tag, Fail: map[string]error{}}
}

func (e *Engine) failure(method string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return errors.New("mediatest: engine closed")
	}
	return e.Fail[method]
}

func (e *Engine) CreateOffer(ctx context.Context) (media.Description, error) {
	if err := e.failure("CreateOffer"); err != nil {
		return media.Description{}, err
	}
	e.mu.Lock()
	e.offers++
	e.mu.Unlock()
	return media.Description{Type: media.SDPOffer, SDP: SDP(e.Tag + "-offer")}, nil
}

func (e *Engine) CreateAnswer(ctx context.Context) (media.Description, error) {
	if err := e.failure("CreateAnswer"); err != nil {
		return media.Description{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.remote == nil {
		return media.Description{}, ErrNoRemoteDescription
	}
	e.answers++
	return media.Description{Type: media.SDPAnswer, SDP: SDP(e.Tag + "-answer")}, nil
}

func (e *Engine) SetLocalDescription(ctx context.Context, d media.Description) error {
	if err := e.failure("SetLocalDescription"); err != nil {
		return err
	}
	e.mu.Lock()
	e.local = &d
	e.mu.Unlock()
	e.maybeConnect()
	return nil
}

func (e *Engine) SetRemoteDescription(ctx context.Context, d media.Description) error {
	if err := e.failure("SetRemoteDescription"); err != nil {
		return err
	}
	e.mu.Lock()
	e.remote = &d
	e.mu.Unlock()
	e.maybeConnect()
	return nil
}

func (e *Engine) AddICECandidate(ctx context.Context, c media.Candidate) error {
	if err := e.failure("AddICECandidate"); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.remote == nil {
		return ErrNoRemoteDescription
	}
	e.candidates = append(e.candidates, c)
	return nil
}

func (e *Engine) OnICECandidate(fn func(media.Candidate)) {
	e.mu.Lock()
	e.onCandidate = fn
	e.mu.Unlock()
}

func (e *Engine) OnConnectionStateChange(fn func(media.ConnectionState)) {
	e.mu.Lock()
	e.onState = fn
	e.mu.Unlock()
}

func (e *Engine) OnRemoteStream(fn func(media.RemoteStream)) {
	e.mu.Lock()
	e.onStream = fn
	e.mu.Unlock()
}

func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

// Gather simulates the engine discovering a local candidate.
func (e *Engine) Gather(candidate string) {
	e.mu.Lock()
	fn := e.onCandidate
	e.mu.Unlock()
	if fn != nil {
		mid := "0"
		fn(media.Candidate{Candidate: candidate, SDPMid: &mid})
	}
}

// SetState simulates a connectivity change.
func (e *Engine) SetState(s media.ConnectionState) {
	e.mu.Lock()
	fn := e.onState
	e.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (e *Engine) maybeConnect() {
	e.mu.Lock()
	ok := e.ConnectOnNegotiated && e.local != nil && e.remote != nil
	fn := e.onState
	e.mu.Unlock()
	if ok && fn != nil {
		go fn(media.StateConnected)
	}
}

func (e *Engine) Candidates() []media.Candidate {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]media.Candidate, len(e.candidates))
	copy(out, e.candidates)
	return out
}

func (e *Engine) Local() *media.Description {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.local
}

func (e *Engine) Remote() *media.Description {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.remote
}

func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Factory hands out Engines and remembers them by call id.
type Factory struct {
	Tag                 string
	ConnectOnNegotiated bool
	Err                 error

	mu      sync.Mutex
	engines map[string]*Engine
}

func NewFactory(tag string) *Factory {
	return &Factory{Tag: tag, engines: map[string]*Engine{}}
}

func (f *Factory) New(ctx context.Context, callID string, callType calls.CallType) (media.Engine, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	e := NewEngine(fmt.Sprintf("%s-%s", f.Tag, callID))
	e.ConnectOnNegotiated = f.ConnectOnNegotiated
	f.mu.Lock()
	f.engines[callID] = e
	f.mu.Unlock()
	return e, nil
}

func (f *Factory) Engine(callID string) *Engine {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.engines[callID]
}
