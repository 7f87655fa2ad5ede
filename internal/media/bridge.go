package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"call-platform/internal/metrics"
	"call-platform/internal/signaling"
)

type Role string

const (
	RoleCaller   Role = "caller"
	RoleReceiver Role = "receiver"
)

type BridgeConfig struct {
	CallID      string
	LocalUserID string
	Role        Role

	Engine    Engine
	Transport signaling.Transport

	// ConnectGrace reports the call ready this long after both descriptions are
	// applied when the engine has not reported connectivity. Zero disables it.
	ConnectGrace time.Duration

	// OnReady and OnFailure fire at most once each and must not block.
	OnReady        func()
	OnFailure      func(error)
	OnRemoteStream func(RemoteStream)

	Log     *slog.Logger
	Metrics *metrics.Metrics
}

// Bridge runs the offer/answer/candidate exchange of one call.
//
// The caller publishes an OFFER and applies the first ANSWER; the receiver
// applies the first OFFER and publishes an ANSWER. Both sides relay local
// candidates and apply each remote candidate exactly once, buffering those that
// arrive before the remote description.
type Bridge struct {
	cfg BridgeConfig
	log *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	applied   map[string]struct{}
	pending   []Candidate
	remoteSet bool
	grace     *time.Timer

	readyOnce sync.Once
	failOnce  sync.Once
	stopOnce  sync.Once
}

func NewBridge(cfg BridgeConfig) (*Bridge, error) {
	if cfg.CallID == "" || cfg.LocalUserID == "" {
		return nil, errors.New("media: call id and local user required")
	}
	if cfg.Engine == nil || cfg.Transport == nil {
		return nil, errors.New("media: engine and transport required")
	}
	if cfg.Role != RoleCaller && cfg.Role != RoleReceiver {
		return nil, fmt.Errorf("media: unknown role %q", cfg.Role)
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	return &Bridge{
		cfg:     cfg,
		log:     cfg.Log.With("call_id", cfg.CallID, "role", string(cfg.Role)),
		applied: map[string]struct{}{},
	}, nil
}

// Start wires engine callbacks, subscribes to the remote side and, for the
// caller, publishes the offer. ctx bounds the whole negotiation; Stop ends it early.
func (b *Bridge) Start(ctx context.Context) error {
	b.ctx, b.cancel = context.WithCancel(ctx)

	b.cfg.Engine.OnICECandidate(b.relayLocalCandidate)
	b.cfg.Engine.OnConnectionStateChange(b.onConnectionState)
	if b.cfg.OnRemoteStream != nil {
		b.cfg.Engine.OnRemoteStream(b.cfg.OnRemoteStream)
	}

	ice, stopICE, err := b.cfg.Transport.Subscribe(b.ctx, b.cfg.CallID, signaling.Filter{
		Kind:          signaling.KindICECandidate,
		ExcludeSender: b.cfg.LocalUserID,
	})
	if err != nil {
		return fmt.Errorf("subscribe candidates: %w", err)
	}
	go b.consumeCandidates(ice, stopICE)

	switch b.cfg.Role {
	case RoleCaller:
		answers, stopAnswers, err := b.cfg.Transport.Subscribe(b.ctx, b.cfg.CallID, signaling.Filter{
			Kind:          signaling.KindAnswer,
			ExcludeSender: b.cfg.LocalUserID,
		})
		if err != nil {
			return fmt.Errorf("subscribe answer: %w", err)
		}
		if err := b.publishOffer(b.ctx); err != nil {
			stopAnswers()
			return err
		}
		go b.awaitRemote(answers, stopAnswers, SDPAnswer)

	case RoleReceiver:
		offers, stopOffers, err := b.cfg.Transport.Subscribe(b.ctx, b.cfg.CallID, signaling.Filter{
			Kind:          signaling.KindOffer,
			ExcludeSender: b.cfg.LocalUserID,
		})
		if err != nil {
			return fmt.Errorf("subscribe offer: %w", err)
		}
		go b.awaitRemote(offers, stopOffers, SDPOffer)
	}
	return nil
}

// Stop cancels subscriptions and timers and releases the engine.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		if b.cancel != nil {
			b.cancel()
		}
		b.mu.Lock()
		if b.grace != nil {
			b.grace.Stop()
		}
		b.mu.Unlock()
		if err := b.cfg.Engine.Close(); err != nil {
			b.log.Debug("engine close", "err", err)
		}
	})
}

func (b *Bridge) publishOffer(ctx context.Context) error {
	offer, err := b.cfg.Engine.CreateOffer(ctx)
	if err != nil {
		return fmt.Errorf("%w: create offer: %v", ErrNegotiation, err)
	}
	if err := b.cfg.Engine.SetLocalDescription(ctx, offer); err != nil {
		return fmt.Errorf("%w: set local offer: %v", ErrNegotiation, err)
	}
	env := signaling.New(b.cfg.CallID, signaling.KindOffer, b.cfg.LocalUserID, offer.SDP)
	if err := b.cfg.Transport.Publish(ctx, env); err != nil {
		return fmt.Errorf("publish offer: %w", err)
	}
	b.log.Debug("offer published", "sdp_len", len(offer.SDP))
	return nil
}

// awaitRemote applies the first remote description of kind typ and ignores
// later redeliveries.
func (b *Bridge) awaitRemote(ch <-chan signaling.Envelope, stop func(), typ SDPType) {
	defer stop()
	for {
		select {
		case <-b.ctx.Done():
			return
		case env, ok := <-ch:
			if !ok {
				return
			}
			if err := b.applyRemote(env, typ); err != nil {
				b.fail(err)
			}
			return
		}
	}
}

func (b *Bridge) applyRemote(env signaling.Envelope, typ SDPType) error {
	if _, err := ValidateSDP(env.Payload); err != nil {
		return err
	}
	ctx := b.ctx
	if err := b.cfg.Engine.SetRemoteDescription(ctx, Description{Type: typ, SDP: env.Payload}); err != nil {
		return fmt.Errorf("%w: set remote %s: %v", ErrNegotiation, typ, err)
	}
	b.log.Debug("remote description applied", "type", string(typ), "sdp_len", len(env.Payload))

	if typ == SDPOffer {
		answer, err := b.cfg.Engine.CreateAnswer(ctx)
		if err != nil {
			return fmt.Errorf("%w: create answer: %v", ErrNegotiation, err)
		}
		if err := b.cfg.Engine.SetLocalDescription(ctx, answer); err != nil {
			return fmt.Errorf("%w: set local answer: %v", ErrNegotiation, err)
		}
		if err := b.cfg.Transport.Publish(ctx, signaling.New(b.cfg.CallID, signaling.KindAnswer, b.cfg.LocalUserID, answer.SDP)); err != nil {
			return fmt.Errorf("publish answer: %w", err)
		}
	}

	b.mu.Lock()
	b.remoteSet = true
	pending := b.pending
	b.pending = nil
	if b.cfg.ConnectGrace > 0 && b.grace == nil {
		b.grace = time.AfterFunc(b.cfg.ConnectGrace, func() {
			b.log.Debug("connect grace elapsed")
			b.ready()
		})
	}
	b.mu.Unlock()

	for _, c := range pending {
		if err := b.cfg.Engine.AddICECandidate(ctx, c); err != nil {
			return fmt.Errorf("%w: add buffered candidate: %v", ErrNegotiation, err)
		}
		b.cfg.Metrics.RemoteCandidate("applied")
	}
	return nil
}

func (b *Bridge) consumeCandidates(ch <-chan signaling.Envelope, stop func()) {
	defer stop()
	for {
		select {
		case <-b.ctx.Done():
			return
		case env, ok := <-ch:
			if !ok {
				return
			}
			if err := b.ApplyCandidate(b.ctx, env); err != nil {
				b.fail(err)
				return
			}
		}
	}
}

// ApplyCandidate feeds a remote ICE_CANDIDATE envelope to the engine once.
// Repeated envelope ids are ignored.
func (b *Bridge) ApplyCandidate(ctx context.Context, env signaling.Envelope) error {
	b.mu.Lock()
	if _, dup := b.applied[env.ID]; dup {
		b.mu.Unlock()
		b.cfg.Metrics.RemoteCandidate("duplicate")
		return nil
	}
	b.applied[env.ID] = struct{}{}

	var c Candidate
	if err := json.Unmarshal([]byte(env.Payload), &c); err != nil || c.Candidate == "" {
		b.mu.Unlock()
		b.cfg.Metrics.RemoteCandidate("invalid")
		b.log.Warn("skipping malformed candidate", "envelope_id", env.ID)
		return nil
	}
	if !b.remoteSet {
		b.pending = append(b.pending, c)
		b.mu.Unlock()
		return nil
	}
	b.mu.Unlock()

	if err := b.cfg.Engine.AddICECandidate(ctx, c); err != nil {
		return fmt.Errorf("%w: add candidate: %v", ErrNegotiation, err)
	}
	b.cfg.Metrics.RemoteCandidate("applied")
	return nil
}

func (b *Bridge) relayLocalCandidate(c Candidate) {
	if b.ctx.Err() != nil {
		return
	}
	payload, err := json.Marshal(c)
	if err != nil {
		b.log.Warn("encode local candidate", "err", err)
		return
	}
	env := signaling.New(b.cfg.CallID, signaling.KindICECandidate, b.cfg.LocalUserID, string(payload))
	if err := b.cfg.Transport.Publish(b.ctx, env); err != nil {
		b.log.Warn("publish local candidate", "err", err)
	}
}

func (b *Bridge) onConnectionState(s ConnectionState) {
	switch s {
	case StateConnected:
		b.ready()
	case StateFailed:
		b.fail(ErrConnectivity)
	case StateDisconnected:
		b.log.Info("peer connection disconnected")
	}
}

func (b *Bridge) ready() {
	if b.ctx.Err() != nil {
		return
	}
	b.readyOnce.Do(func() {
		if b.cfg.OnReady != nil {
			b.cfg.OnReady()
		}
	})
}

func (b *Bridge) fail(err error) {
	if b.ctx.Err() != nil {
		return
	}
	b.failOnce.Do(func() {
		b.log.Warn("negotiation failed", "err", err)
		if b.cfg.OnFailure != nil {
			b.cfg.OnFailure(err)
		}
	})
}
