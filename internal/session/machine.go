package session

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/looplab/fsm"

	"call-platform/internal/audit"
	"call-platform/internal/calls"
	"call-platform/internal/conversation"
	"call-platform/internal/media"
)

const stateIdle = "IDLE"

// Event names of the local lifecycle. Each maps to exactly one target status.
const (
	eventPlace     = "place"
	eventAnswer    = "answer"
	eventNegotiate = "negotiate"
	eventConnect   = "connect"
	eventReject    = "reject"
	eventMiss      = "miss"
	eventNoAnswer  = "no_answer"
	eventBusy      = "busy"
	eventHangUp    = "hangup"
	eventFail      = "fail"
)

var eventFor = map[calls.Status]string{
	calls.StatusRinging:    eventPlace,
	calls.StatusAnswered:   eventAnswer,
	calls.StatusConnecting: eventNegotiate,
	calls.StatusConnected:  eventConnect,
	calls.StatusRejected:   eventReject,
	calls.StatusMissed:     eventMiss,
	calls.StatusNoAnswer:   eventNoAnswer,
	calls.StatusBusy:       eventBusy,
	calls.StatusEnded:      eventHangUp,
	calls.StatusFailed:     eventFail,
}

func names(ss ...calls.Status) []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}

// lifecycleEvents is the transition table shared by caller and receiver.
func lifecycleEvents() fsm.Events {
	events := fsm.Events{{Name: eventPlace, Src: []string{stateIdle}, Dst: string(calls.StatusRinging)}}
	for _, to := range calls.AllStatuses {
		if to == calls.StatusRinging {
			continue
		}
		events = append(events, fsm.EventDesc{
			Name: eventFor[to],
			Src:  names(calls.SourcesFor(to)...),
			Dst:  string(to),
		})
	}
	return events
}

// inbox events
type (
	cmdKind int

	command struct {
		kind     cmdKind
		duration int
		reply    chan error
	}
	observed    struct{ session calls.Session }
	started     struct{ placed bool }
	ringExpired struct{}
	mediaReady  struct{}
	mediaFailed struct{ err error }
)

const (
	cmdAnswer cmdKind = iota + 1
	cmdReject
	cmdHangUp
	cmdBusy
)

func (k cmdKind) String() string {
	switch k {
	case cmdAnswer:
		return "answer"
	case cmdReject:
		return "reject"
	case cmdHangUp:
		return "hangup"
	case cmdBusy:
		return "busy"
	default:
		return "unknown"
	}
}

// Machine drives one call from one participant's point of view.
//
// All state below the inbox is owned by the run goroutine. Commands, store
// notifications, timers and media callbacks are serialized through the inbox
// in arrival order.
type Machine struct {
	callID string
	userID string
	role   media.Role
	mgr    *Manager
	log    *slog.Logger

	fsm    *fsm.FSM
	inbox  chan any
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	stopStore func()

	session      calls.Session
	ringTimer    *time.Timer
	bridge       *media.Bridge
	pendingReady bool
	connectedAt  time.Time
	finished     bool
}

func newMachine(mgr *Manager, s calls.Session, userID string) *Machine {
	role := media.RoleReceiver
	if userID == s.CallerID {
		role = media.RoleCaller
	}
	ctx, cancel := context.WithCancel(mgr.ctx)
	mc := &Machine{
		callID:  s.CallID,
		userID:  userID,
		role:    role,
		mgr:     mgr,
		log:     mgr.log.With("call_id", s.CallID, "user_id", userID, "role", string(role)),
		inbox:   make(chan any, 64),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		session: s,
	}
	mc.fsm = fsm.NewFSM(
		stateIdle,
		lifecycleEvents(),
		fsm.Callbacks{
			"after_event": func(_ context.Context, e *fsm.Event) {
				mc.log.Debug("call state changed", "event", e.Event, "from", e.Src, "to", e.Dst)
			},
		},
	)
	return mc
}

func (mc *Machine) CallID() string { return mc.callID }

func (mc *Machine) Role() media.Role { return mc.role }

// Status is the locally known status, or "" before the machine has started.
func (mc *Machine) Status() calls.Status {
	cur := mc.fsm.Current()
	if cur == stateIdle {
		return ""
	}
	return calls.Status(cur)
}

// Done is closed once the machine has released every resource.
func (mc *Machine) Done() <-chan struct{} { return mc.done }

// post hands ev to the run loop. It gives up once the machine is done.
func (mc *Machine) post(ev any) {
	select {
	case mc.inbox <- ev:
	case <-mc.done:
	}
}

// do runs a command on the loop and waits for it. A machine that finishes
// first treats the command as a no-op.
func (mc *Machine) do(ctx context.Context, kind cmdKind, duration int) error {
	cmd := command{kind: kind, duration: duration, reply: make(chan error, 1)}
	select {
	case mc.inbox <- cmd:
	case <-mc.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-mc.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// start subscribes to the call record and launches the loop.
func (mc *Machine) start(placed bool) error {
	ch, stop, err := mc.mgr.store.Subscribe(mc.ctx, calls.Filter{CallID: mc.callID})
	if err != nil {
		mc.cancel()
		return fmt.Errorf("subscribe call %s: %w", mc.callID, err)
	}
	mc.stopStore = stop
	mc.inbox <- started{placed: placed}

	go func() {
		for {
			select {
			case <-mc.ctx.Done():
				return
			case s, ok := <-ch:
				if !ok {
					return
				}
				mc.post(observed{session: s})
			}
		}
	}()
	go mc.run()
	return nil
}

func (mc *Machine) run() {
	defer mc.finish()
	for !mc.finished {
		select {
		case <-mc.ctx.Done():
			return
		case ev := <-mc.inbox:
			mc.handle(ev)
		}
	}
}

func (mc *Machine) handle(ev any) {
	switch ev := ev.(type) {
	case started:
		mc.onStarted(ev.placed)
	case observed:
		mc.observe(ev.session)
	case command:
		ev.reply <- mc.onCommand(ev)
	case ringExpired:
		if mc.Status() == calls.StatusRinging {
			mc.log.Info("ring timeout elapsed")
			now := mc.mgr.now()
			mc.write(calls.StatusMissed, audit.ReasonRingTimeout, calls.Transition{EndedAt: &now})
		}
	case mediaReady:
		mc.onMediaReady()
	case mediaFailed:
		if st := mc.Status(); st != "" && !st.IsTerminal() {
			mc.log.Warn("media negotiation failed", "err", ev.err)
			now := mc.mgr.now()
			mc.write(calls.StatusFailed, audit.ReasonMediaFailed, calls.Transition{EndedAt: &now})
		}
	}
}

func (mc *Machine) onStarted(placed bool) {
	s := mc.session
	if placed {
		mc.enter(s, true, audit.ReasonCommand)
		return
	}
	// Attaching to an existing call: adopt its status without side effects,
	// then resume what this side is responsible for.
	mc.fsm.SetState(string(s.Status))
	mc.log.Debug("attached to call", "status", string(s.Status))
	switch {
	case s.Status.IsTerminal():
		mc.terminate(s, false)
	case mc.role == media.RoleCaller && s.Status == calls.StatusRinging:
		mc.armRingTimer()
		mc.startMedia()
	case mc.role == media.RoleReceiver && (s.Status == calls.StatusAnswered || s.Status == calls.StatusConnecting):
		mc.startMedia()
	}
}

func (mc *Machine) onCommand(cmd command) error {
	st := mc.Status()
	now := mc.mgr.now()
	switch cmd.kind {
	case cmdAnswer:
		if st != calls.StatusRinging {
			return nil
		}
		mc.write(calls.StatusAnswered, audit.ReasonCommand, calls.Transition{AnsweredAt: &now})
	case cmdReject:
		if st != calls.StatusRinging {
			return nil
		}
		mc.write(calls.StatusRejected, audit.ReasonCommand, calls.Transition{EndedAt: &now})
	case cmdBusy:
		if st != calls.StatusRinging {
			return nil
		}
		mc.write(calls.StatusBusy, audit.ReasonBusy, calls.Transition{EndedAt: &now})
	case cmdHangUp:
		if st == "" || st.IsTerminal() {
			return nil
		}
		t := calls.Transition{EndedAt: &now}
		if st == calls.StatusConnected {
			d := cmd.duration
			if d <= 0 && !mc.connectedAt.IsZero() {
				d = int(now.Sub(mc.connectedAt).Seconds())
			}
			t.DurationSeconds = d
		}
		mc.write(calls.StatusEnded, audit.ReasonCommand, t)
	default:
		return fmt.Errorf("unknown command %d", cmd.kind)
	}
	return nil
}

func (mc *Machine) onMediaReady() {
	switch mc.Status() {
	case calls.StatusAnswered, calls.StatusConnecting:
		mc.write(calls.StatusConnected, audit.ReasonMediaReady, calls.Transition{})
	case calls.StatusRinging:
		// The caller can finish negotiating before it sees ANSWERED.
		mc.pendingReady = true
	}
}

// observe applies a status written by anyone, provided it is later than what
// this side already knows.
func (mc *Machine) observe(s calls.Session) {
	local := mc.Status()
	if !calls.Supersedes(s.Status, local) {
		return
	}
	mc.enter(s, false, audit.ReasonObserved)
}

// write conditionally moves the shared record to `to`. A write that loses the
// race adopts whatever the winner stored. A write that keeps failing is applied
// locally only.
func (mc *Machine) write(to calls.Status, reason string, t calls.Transition) {
	t.CallID = mc.callID
	t.To = to
	t.From = calls.SourcesFor(to)

	var (
		cur     calls.Session
		applied bool
	)
	err := withRetry(mc.ctx, mc.mgr.cfg.Retry, mc.log, "transition "+string(to), func(ctx context.Context) error {
		opCtx, cancel := context.WithTimeout(ctx, mc.mgr.cfg.OpTimeout)
		defer cancel()
		var err error
		cur, applied, err = mc.mgr.store.Transition(opCtx, t)
		return err
	}, func(int, error) { mc.mgr.metrics.WriteRetry() })

	if err != nil {
		if mc.ctx.Err() != nil {
			return
		}
		mc.log.Error("status write failed, continuing locally", "to", string(to), "err", err)
		local := mc.session
		local.Status = to
		if t.AnsweredAt != nil && local.AnsweredAt == nil {
			local.AnsweredAt = t.AnsweredAt
		}
		if t.EndedAt != nil && local.EndedAt == nil {
			local.EndedAt = t.EndedAt
		}
		if t.DurationSeconds > 0 {
			local.DurationSeconds = t.DurationSeconds
		}
		mc.enter(local, true, reason)
		return
	}
	if applied {
		mc.enter(cur, true, reason)
		return
	}
	mc.log.Debug("status write lost race", "to", string(to), "current", string(cur.Status))
	mc.observe(cur)
}

// enter moves the local machine to s.Status and runs its side effects. own
// marks transitions this side wrote.
func (mc *Machine) enter(s calls.Session, own bool, reason string) {
	from := mc.Status()
	to := s.Status
	if ev := eventFor[to]; mc.fsm.Can(ev) {
		if err := mc.fsm.Event(mc.ctx, ev); err != nil {
			mc.log.Warn("fsm event", "event", ev, "err", err)
			mc.fsm.SetState(string(to))
		}
	} else {
		// Notifications can skip intermediate statuses.
		mc.fsm.SetState(string(to))
	}
	mc.session = s

	if own {
		mc.mgr.metrics.Transition(string(to))
		mc.mgr.logTransition(mc.callID, mc.userID, from, to, reason)
	}
	if from == calls.StatusRinging && to != calls.StatusRinging {
		mc.stopRingTimer()
	}

	switch to {
	case calls.StatusRinging:
		if mc.role == media.RoleCaller {
			mc.armRingTimer()
			mc.startMedia()
		}
	case calls.StatusAnswered:
		// Only the receiver machine that answered negotiates; other hosts of
		// the same user just follow the record.
		if mc.role == media.RoleReceiver && own {
			mc.startMedia()
		}
		if mc.Status() == calls.StatusAnswered {
			mc.write(calls.StatusConnecting, reason, calls.Transition{})
		}
	case calls.StatusConnecting:
		if mc.pendingReady {
			mc.write(calls.StatusConnected, audit.ReasonMediaReady, calls.Transition{})
		}
	case calls.StatusConnected:
		mc.pendingReady = false
		mc.connectedAt = mc.mgr.now()
	default:
		if to.IsTerminal() {
			mc.terminate(s, own)
		}
	}
}

// startMedia creates the engine and bridge once. Failure to start is a
// negotiation failure of the call.
func (mc *Machine) startMedia() {
	if mc.bridge != nil {
		return
	}
	if err := mc.startBridge(); err != nil {
		mc.log.Warn("media start failed", "err", err)
		if st := mc.Status(); !st.IsTerminal() {
			now := mc.mgr.now()
			mc.write(calls.StatusFailed, audit.ReasonMediaFailed, calls.Transition{EndedAt: &now})
		}
	}
}

func (mc *Machine) startBridge() error {
	eng, err := mc.mgr.engines(mc.ctx, mc.callID, mc.session.CallType)
	if err != nil {
		return fmt.Errorf("%w: create engine: %v", media.ErrNegotiation, err)
	}
	b, err := media.NewBridge(media.BridgeConfig{
		CallID:       mc.callID,
		LocalUserID:  mc.userID,
		Role:         mc.role,
		Engine:       eng,
		Transport:    mc.mgr.transport,
		ConnectGrace: mc.mgr.cfg.ConnectGrace,
		OnReady:      func() { go mc.post(mediaReady{}) },
		OnFailure:    func(err error) { go mc.post(mediaFailed{err: err}) },
		OnRemoteStream: func(rs media.RemoteStream) {
			mc.log.Info("remote stream", "kind", rs.Kind, "track_id", rs.TrackID)
		},
		Log:     mc.log,
		Metrics: mc.mgr.metrics,
	})
	if err != nil {
		_ = eng.Close()
		return err
	}
	mc.bridge = b
	if err := b.Start(mc.ctx); err != nil {
		return err
	}
	return nil
}

func (mc *Machine) armRingTimer() {
	if mc.ringTimer != nil {
		return
	}
	remaining := mc.mgr.cfg.RingTimeout - mc.mgr.now().Sub(mc.session.CreatedAt)
	if remaining < 0 {
		remaining = 0
	}
	mc.ringTimer = time.AfterFunc(remaining, func() { mc.post(ringExpired{}) })
}

func (mc *Machine) stopRingTimer() {
	if mc.ringTimer != nil {
		mc.ringTimer.Stop()
	}
}

// terminate releases media and signaling, then records the outcome. Only the
// side whose write applied leaves the conversation notice.
func (mc *Machine) terminate(s calls.Session, own bool) {
	mc.finished = true
	mc.stopRingTimer()
	if mc.bridge != nil {
		mc.bridge.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), mc.mgr.cfg.OpTimeout)
	defer cancel()

	if err := mc.mgr.transport.Purge(ctx, mc.callID); err != nil {
		mc.log.Warn("purge signaling", "err", err)
	}
	if mc.mgr.history != nil {
		if err := mc.mgr.history.Record(ctx, s); err != nil {
			mc.log.Warn("record history", "err", err)
		}
	}
	if !own {
		return
	}
	mc.mgr.metrics.Terminal(string(s.Status))
	if outcome, ok := conversation.OutcomeFor(s); ok && mc.mgr.notifier != nil {
		if err := mc.mgr.notifier.NotifyMissedOrRejected(ctx, s, outcome); err != nil {
			mc.log.Warn("conversation notice", "outcome", string(outcome), "err", err)
		}
	}
	mc.log.Info("call finished", "status", string(s.Status), "duration_seconds", s.DurationSeconds)
}

func (mc *Machine) finish() {
	mc.stopRingTimer()
	if mc.bridge != nil {
		mc.bridge.Stop()
	}
	mc.cancel()
	if mc.stopStore != nil {
		mc.stopStore()
	}
	mc.mgr.remove(mc)
	close(mc.done)
}
