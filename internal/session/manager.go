package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"call-platform/internal/calls"
	"call-platform/internal/conversation"
	"call-platform/internal/media"
	"call-platform/internal/metrics"
	"call-platform/internal/signaling"
)

var (
	ErrNotParticipant = errors.New("session: user is not a participant of this call")
	ErrWrongRole      = errors.New("session: only the receiver may answer or reject")
	ErrClosed         = errors.New("session: manager closed")
)

// Probe reports whether a user is probably reachable. It never blocks for long
// and prefers true when unsure.
type Probe interface {
	CheckOnline(ctx context.Context, userID string) bool
}

// History stores a terminal call for both participants. Repeated calls for the
// same call are harmless.
type History interface {
	Record(ctx context.Context, s calls.Session) error
}

// Notifier leaves a missed or declined notice in the participants' conversation.
type Notifier interface {
	NotifyMissedOrRejected(ctx context.Context, s calls.Session, outcome conversation.Outcome) error
}

// TransitionLog records locally applied transitions.
type TransitionLog interface {
	LogTransition(ctx context.Context, callID, actor string, from, to calls.Status, reason string) error
}

type Config struct {
	// RingTimeout is measured from the session's CreatedAt.
	RingTimeout time.Duration
	// ConnectGrace is the media fallback delay; zero waits for the engine.
	ConnectGrace time.Duration
	// OpTimeout bounds every single store call.
	OpTimeout time.Duration
	Retry     RetryConfig
}

func (c Config) withDefaults() Config {
	if c.RingTimeout <= 0 {
		c.RingTimeout = 30 * time.Second
	}
	if c.OpTimeout <= 0 {
		c.OpTimeout = 5 * time.Second
	}
	c.Retry = c.Retry.withDefaults()
	return c
}

type Deps struct {
	Store     calls.Store
	Transport signaling.Transport
	Media     media.Factory

	Probe    Probe
	History  History
	Notifier Notifier
	Audit    TransitionLog

	Log     *slog.Logger
	Metrics *metrics.Metrics

	Clock func() time.Time
	NewID func() string
}

// Actor is a locally authenticated user.
type Actor struct {
	ID   string
	Name string
}

type PlaceResult struct {
	CallID         string `json:"call_id"`
	ReceiverOnline bool   `json:"receiver_online"`
}

type machineKey struct{ callID, userID string }

// Manager hosts the call machines of the users served by this process and is
// the command surface for them.
type Manager struct {
	cfg Config

	store     calls.Store
	transport signaling.Transport
	engines   media.Factory
	probe     Probe
	history   History
	notifier  Notifier
	audit     TransitionLog
	log       *slog.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
	newID     func() string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	machines map[machineKey]*Machine
	closed   bool
}

func NewManager(cfg Config, deps Deps) (*Manager, error) {
	if deps.Store == nil || deps.Transport == nil || deps.Media == nil {
		return nil, errors.New("session: store, transport and media factory required")
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	if deps.NewID == nil {
		deps.NewID = uuid.NewString
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:       cfg.withDefaults(),
		store:     deps.Store,
		transport: deps.Transport,
		engines:   deps.Media,
		probe:     deps.Probe,
		history:   deps.History,
		notifier:  deps.Notifier,
		audit:     deps.Audit,
		log:       deps.Log,
		metrics:   deps.Metrics,
		now:       func() time.Time { return deps.Clock().UTC() },
		newID:     deps.NewID,
		ctx:       ctx,
		cancel:    cancel,
		machines:  map[machineKey]*Machine{},
	}, nil
}

// PlaceCall probes the receiver, creates the session in RINGING and starts the
// caller's machine. It does not wait for the receiver. A failed create is
// returned as is and no call exists afterwards.
func (m *Manager) PlaceCall(ctx context.Context, caller Actor, receiverID string, callType calls.CallType) (PlaceResult, error) {
	if caller.ID == "" || receiverID == "" || caller.ID == receiverID || !callType.Valid() {
		return PlaceResult{}, calls.ErrInvalidArgument
	}
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return PlaceResult{}, ErrClosed
	}

	online := true
	if m.probe != nil {
		online = m.probe.CheckOnline(ctx, receiverID)
	}

	s := calls.Session{
		CallID:     m.newID(),
		CallerID:   caller.ID,
		CallerName: caller.Name,
		ReceiverID: receiverID,
		CallType:   callType,
		Status:     calls.StatusRinging,
		CreatedAt:  m.now(),
	}
	if err := m.store.Create(ctx, s); err != nil {
		return PlaceResult{}, fmt.Errorf("create call: %w", err)
	}
	m.metrics.CallPlaced(string(callType))

	if _, err := m.attach(s, caller.ID, true); err != nil {
		return PlaceResult{}, err
	}
	m.log.Info("call placed", "call_id", s.CallID, "user_id", caller.ID, "receiver_online", online, "call_type", string(callType))
	return PlaceResult{CallID: s.CallID, ReceiverOnline: online}, nil
}

// Answer is a no-op unless the call is still RINGING.
func (m *Manager) Answer(ctx context.Context, userID, callID string) error {
	return m.receiverCommand(ctx, userID, callID, cmdAnswer)
}

// Reject is a no-op unless the call is still RINGING.
func (m *Manager) Reject(ctx context.Context, userID, callID string) error {
	return m.receiverCommand(ctx, userID, callID, cmdReject)
}

// MarkBusy ends a RINGING call as BUSY on behalf of the receiver.
func (m *Manager) MarkBusy(ctx context.Context, userID, callID string) error {
	return m.receiverCommand(ctx, userID, callID, cmdBusy)
}

// HangUp ends the call from any non-terminal status. Hanging up a finished
// call does nothing. durationSeconds is used for connected calls; when it is
// not positive the locally measured duration is used.
func (m *Manager) HangUp(ctx context.Context, userID, callID string, durationSeconds int) error {
	mc, err := m.machineFor(ctx, userID, callID)
	if err != nil || mc == nil {
		return err
	}
	return mc.do(ctx, cmdHangUp, durationSeconds)
}

func (m *Manager) receiverCommand(ctx context.Context, userID, callID string, kind cmdKind) error {
	mc, err := m.machineFor(ctx, userID, callID)
	if err != nil || mc == nil {
		return err
	}
	if mc.role != media.RoleReceiver {
		return ErrWrongRole
	}
	return mc.do(ctx, kind, 0)
}

// Get returns the shared record of a call the user takes part in.
func (m *Manager) Get(ctx context.Context, userID, callID string) (calls.Session, error) {
	s, err := m.store.Get(ctx, callID)
	if err != nil {
		return calls.Session{}, err
	}
	if !s.IsParticipant(userID) {
		return calls.Session{}, ErrNotParticipant
	}
	return s, nil
}

// Track starts the user's machine for a session it has observed, such as an
// incoming call. It is a no-op for finished calls and calls already tracked.
func (m *Manager) Track(userID string, s calls.Session) error {
	if !s.IsParticipant(userID) {
		return ErrNotParticipant
	}
	if s.Status.IsTerminal() {
		return nil
	}
	_, err := m.attach(s, userID, false)
	return err
}

// HasActiveCall reports whether the user has a live call other than exceptCallID.
func (m *Manager) HasActiveCall(userID, exceptCallID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, mc := range m.machines {
		if k.userID != userID || k.callID == exceptCallID {
			continue
		}
		if st := mc.Status(); !st.IsTerminal() {
			return true
		}
	}
	return false
}

// Machine returns the running machine of userID for callID.
func (m *Manager) Machine(callID, userID string) (*Machine, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mc, ok := m.machines[machineKey{callID, userID}]
	return mc, ok
}

// Close stops every machine: timers, subscriptions and media engines are
// released. Shared records are left untouched.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) machineFor(ctx context.Context, userID, callID string) (*Machine, error) {
	if userID == "" || callID == "" {
		return nil, calls.ErrInvalidArgument
	}
	if mc, ok := m.Machine(callID, userID); ok {
		return mc, nil
	}
	s, err := m.store.Get(ctx, callID)
	if err != nil {
		return nil, err
	}
	if !s.IsParticipant(userID) {
		return nil, ErrNotParticipant
	}
	if s.Status.IsTerminal() {
		return nil, nil
	}
	return m.attach(s, userID, false)
}

func (m *Manager) attach(s calls.Session, userID string, placed bool) (*Machine, error) {
	key := machineKey{s.CallID, userID}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if mc, ok := m.machines[key]; ok {
		m.mu.Unlock()
		return mc, nil
	}
	mc := newMachine(m, s, userID)
	m.machines[key] = mc
	m.wg.Add(1)
	m.mu.Unlock()

	if err := mc.start(placed); err != nil {
		m.mu.Lock()
		delete(m.machines, key)
		m.mu.Unlock()
		m.wg.Done()
		return nil, err
	}
	m.metrics.MachineStarted()
	return mc, nil
}

func (m *Manager) remove(mc *Machine) {
	m.mu.Lock()
	key := machineKey{mc.callID, mc.userID}
	if cur, ok := m.machines[key]; ok && cur == mc {
		delete(m.machines, key)
	}
	m.mu.Unlock()
	m.metrics.MachineStopped()
	m.wg.Done()
}

func (m *Manager) logTransition(callID, actor string, from, to calls.Status, reason string) {
	if m.audit == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.OpTimeout)
	defer cancel()
	if err := m.audit.LogTransition(ctx, callID, actor, from, to, reason); err != nil {
		m.log.Warn("transition log", "call_id", callID, "to", string(to), "err", err)
	}
}
