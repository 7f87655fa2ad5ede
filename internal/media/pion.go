package media

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	"call-platform/internal/calls"
)

// PionConfig configures peer connections built by NewPionFactory.
type PionConfig struct {
	ICEServers []string
	Log        *slog.Logger
}

// NewPionFactory builds one webrtc API (codecs plus default interceptors) and
// returns a Factory that creates a peer connection per call from it.
func NewPionFactory(cfg PionConfig) (Factory, error) {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if len(cfg.ICEServers) == 0 {
		cfg.ICEServers = []string{"stun:stun.l.google.com:19302"}
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}
	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(mediaEngine),
		webrtc.WithInterceptorRegistry(interceptorRegistry),
	)
	pcConfig := webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: cfg.ICEServers}},
	}

	return func(ctx context.Context, callID string, callType calls.CallType) (Engine, error) {
		pc, err := api.NewPeerConnection(pcConfig)
		if err != nil {
			return nil, fmt.Errorf("new peer connection: %w", err)
		}
		e := &PionEngine{pc: pc, log: cfg.Log.With("call_id", callID)}
		if err := e.attachLocalTracks(callID, callType); err != nil {
			_ = pc.Close()
			return nil, err
		}
		return e, nil
	}, nil
}

// PionEngine adapts a pion PeerConnection to Engine.
type PionEngine struct {
	pc  *webrtc.PeerConnection
	log *slog.Logger

	mu     sync.Mutex
	tracks []*webrtc.TrackLocalStaticSample
}

// Tracks returns the local tracks the host application writes captured samples to.
func (e *PionEngine) Tracks() []*webrtc.TrackLocalStaticSample {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*webrtc.TrackLocalStaticSample, len(e.tracks))
	copy(out, e.tracks)
	return out
}

func (e *PionEngine) attachLocalTracks(callID string, callType calls.CallType) error {
	caps := []webrtc.RTPCodecCapability{{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}}
	if callType == calls.CallTypeVideo {
		caps = append(caps, webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000})
	}
	for _, c := range caps {
		kind := "audio"
		if c.MimeType == webrtc.MimeTypeVP8 {
			kind = "video"
		}
		track, err := webrtc.NewTrackLocalStaticSample(c, kind, "call-"+callID)
		if err != nil {
			return fmt.Errorf("create %s track: %w", kind, err)
		}
		sender, err := e.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("add %s track: %w", kind, err)
		}
		// RTCP must be read for interceptors to work.
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := sender.Read(buf); err != nil {
					return
				}
			}
		}()
		e.mu.Lock()
		e.tracks = append(e.tracks, track)
		e.mu.Unlock()
	}
	return nil
}

func (e *PionEngine) CreateOffer(ctx context.Context) (Description, error) {
	if err := ctx.Err(); err != nil {
		return Description{}, err
	}
	offer, err := e.pc.CreateOffer(nil)
	if err != nil {
		return Description{}, err
	}
	return Description{Type: SDPOffer, SDP: offer.SDP}, nil
}

func (e *PionEngine) CreateAnswer(ctx context.Context) (Description, error) {
	if err := ctx.Err(); err != nil {
		return Description{}, err
	}
	answer, err := e.pc.CreateAnswer(nil)
	if err != nil {
		return Description{}, err
	}
	return Description{Type: SDPAnswer, SDP: answer.SDP}, nil
}

func toPion(d Description) webrtc.SessionDescription {
	t := webrtc.SDPTypeOffer
	if d.Type == SDPAnswer {
		t = webrtc.SDPTypeAnswer
	}
	return webrtc.SessionDescription{Type: t, SDP: d.SDP}
}

func (e *PionEngine) SetLocalDescription(ctx context.Context, d Description) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.pc.SetLocalDescription(toPion(d))
}

func (e *PionEngine) SetRemoteDescription(ctx context.Context, d Description) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.pc.SetRemoteDescription(toPion(d))
}

func (e *PionEngine) AddICECandidate(ctx context.Context, c Candidate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return e.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	})
}

func (e *PionEngine) OnICECandidate(fn func(Candidate)) {
	e.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		// nil marks the end of gathering.
		if c == nil {
			return
		}
		init := c.ToJSON()
		fn(Candidate{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	})
}

func (e *PionEngine) OnConnectionStateChange(fn func(ConnectionState)) {
	e.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		e.log.Debug("peer connection state", "state", s.String())
		switch s {
		case webrtc.PeerConnectionStateConnecting:
			fn(StateConnecting)
		case webrtc.PeerConnectionStateConnected:
			fn(StateConnected)
		case webrtc.PeerConnectionStateDisconnected:
			fn(StateDisconnected)
		case webrtc.PeerConnectionStateFailed:
			fn(StateFailed)
		case webrtc.PeerConnectionStateClosed:
			fn(StateClosed)
		default:
			fn(StateNew)
		}
	})
}

func (e *PionEngine) OnRemoteStream(fn func(RemoteStream)) {
	e.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		fn(RemoteStream{
			Kind:     track.Kind().String(),
			TrackID:  track.ID(),
			StreamID: track.StreamID(),
			Codec:    track.Codec().MimeType,
		})
		go func() {
			buf := make([]byte, 1500)
			for {
				if _, _, err := track.Read(buf); err != nil {
					return
				}
			}
		}()
	})
}

func (e *PionEngine) Close() error {
	return e.pc.Close()
}
