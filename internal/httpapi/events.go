package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"call-platform/internal/alert"
	"call-platform/internal/auth"
	"call-platform/internal/calls"
	"call-platform/internal/metrics"
	"call-platform/internal/presence"
	"call-platform/internal/session"
	"call-platform/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Tokens travel in the query string, so any origin may connect.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server event names.
const (
	EventIncomingCall = "incoming_call"
	EventCallStatus   = "call_status"
	EventAlertClosed  = "alert_dismissed"
	EventError        = "error"
)

// Client actions.
const (
	ActionAnswer  = "answer"
	ActionReject  = "reject"
	ActionEndCall = "end_call"
)

type serverEvent struct {
	Event  string              `json:"event"`
	Call   *calls.Session      `json:"call,omitempty"`
	Alert  *alert.IncomingCall `json:"alert,omitempty"`
	CallID string              `json:"call_id,omitempty"`
	Status calls.Status        `json:"status,omitempty"`
	Error  string              `json:"error,omitempty"`
}

type clientAction struct {
	Action          string `json:"action"`
	CallID          string `json:"call_id"`
	DurationSeconds int    `json:"duration_seconds"`
}

// Events streams call activity to one signed-in user over a websocket and
// accepts answer, reject and end_call actions back.
type Events struct {
	Store    calls.Store
	Watcher  *alert.Watcher
	Sessions *session.Manager
	Presence presence.Store
	// PresenceInterval is how often the connected user is refreshed online.
	PresenceInterval time.Duration
	Metrics          *metrics.Metrics
}

func (e *Events) Serve(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	log := logger.FromGin(c).With("user_id", userID)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "err", err)
		return
	}
	e.Metrics.StreamOpened()
	defer e.Metrics.StreamClosed()

	cl := newClient(conn, userID, log)

	g, ctx := errgroup.WithContext(c.Request.Context())
	g.Go(func() error { return cl.writeLoop(ctx) })
	g.Go(func() error {
		err := cl.readLoop(ctx, e.Sessions)
		// A closed socket ends the stream.
		if err == nil {
			err = errClientGone
		}
		return err
	})
	g.Go(func() error { return e.forwardStatus(ctx, cl) })
	if e.Watcher != nil {
		g.Go(func() error { return e.Watcher.Watch(ctx, userID, cl) })
	}
	if e.Presence != nil {
		g.Go(func() error {
			presence.Track(ctx, e.Presence, userID, e.PresenceInterval, log)
			return nil
		})
	}

	log.Info("event stream opened")
	if err := g.Wait(); err != nil && !errors.Is(err, errClientGone) && !errors.Is(err, context.Canceled) {
		log.Warn("event stream ended", "err", err)
		return
	}
	log.Info("event stream closed")
}

var errClientGone = errors.New("client disconnected")

func (e *Events) forwardStatus(ctx context.Context, cl *client) error {
	ch, stop, err := e.Store.Subscribe(ctx, calls.Filter{UserID: cl.userID})
	if err != nil {
		return err
	}
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case s, ok := <-ch:
			if !ok {
				return nil
			}
			cl.send(serverEvent{Event: EventCallStatus, Call: &s})
		}
	}
}

// client serializes writes to one connection and implements alert.Alerter.
type client struct {
	conn   *websocket.Conn
	userID string
	log    *slog.Logger
	out    chan serverEvent

	mu      sync.Mutex
	pending map[string]alert.IncomingCall
}

func newClient(conn *websocket.Conn, userID string, log *slog.Logger) *client {
	return &client{
		conn:    conn,
		userID:  userID,
		log:     log,
		out:     make(chan serverEvent, sendBuffer),
		pending: map[string]alert.IncomingCall{},
	}
}

// send drops the event when the client cannot keep up.
func (cl *client) send(ev serverEvent) {
	select {
	case cl.out <- ev:
	default:
		cl.log.Warn("event dropped", "event", ev.Event)
	}
}

func (cl *client) Alert(ctx context.Context, in alert.IncomingCall) {
	cl.mu.Lock()
	cl.pending[in.CallID] = in
	cl.mu.Unlock()
	cl.send(serverEvent{Event: EventIncomingCall, Alert: &in})
}

func (cl *client) Dismiss(ctx context.Context, callID string, status calls.Status) {
	cl.mu.Lock()
	delete(cl.pending, callID)
	cl.mu.Unlock()
	cl.send(serverEvent{Event: EventAlertClosed, CallID: callID, Status: status})
}

func (cl *client) alerted(callID string) (alert.IncomingCall, bool) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	in, ok := cl.pending[callID]
	return in, ok
}

// writeLoop owns the connection and closes it on exit, which also unblocks
// readLoop.
func (cl *client) writeLoop(ctx context.Context) error {
	defer cl.conn.Close()
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			_ = cl.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
			return nil
		case ev := <-cl.out:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cl.conn.WriteJSON(ev); err != nil {
				return err
			}
		case <-ping.C:
			if err := cl.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return err
			}
		}
	}
}

func (cl *client) readLoop(ctx context.Context, sessions *session.Manager) error {
	_ = cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var req clientAction
		if err := cl.conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				cl.log.Warn("unexpected close", "err", err)
			}
			return nil
		}
		if err := cl.act(ctx, sessions, req); err != nil {
			cl.send(serverEvent{Event: EventError, CallID: req.CallID, Error: err.Error()})
		}
	}
}

// act prefers the alert's own actions for calls that are ringing here.
func (cl *client) act(ctx context.Context, sessions *session.Manager, req clientAction) error {
	if req.CallID == "" {
		return calls.ErrInvalidArgument
	}
	in, ok := cl.alerted(req.CallID)
	switch req.Action {
	case ActionAnswer:
		if ok {
			return in.Answer(ctx)
		}
		return sessions.Answer(ctx, cl.userID, req.CallID)
	case ActionReject:
		if ok {
			return in.Reject(ctx)
		}
		return sessions.Reject(ctx, cl.userID, req.CallID)
	case ActionEndCall:
		if req.DurationSeconds < 0 {
			return calls.ErrInvalidArgument
		}
		if ok && req.DurationSeconds == 0 {
			return in.EndCall(ctx)
		}
		return sessions.HangUp(ctx, cl.userID, req.CallID, req.DurationSeconds)
	default:
		return calls.ErrInvalidArgument
	}
}
