package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"call-platform/internal/audit"
	"call-platform/internal/calls"
	"call-platform/internal/conversation"
	"call-platform/internal/metrics"
	"call-platform/pkg/utils"
)

// Lease elects one sweeper among processes. A nil Lease always sweeps.
type Lease interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// RedisLease is a TTL lease on a single Redis key.
type RedisLease struct {
	rdb   *redis.Client
	key   string
	owner string
	ttl   time.Duration
}

func NewRedisLease(rdb *redis.Client, key string, ttl time.Duration) *RedisLease {
	return &RedisLease{rdb: rdb, key: key, owner: uuid.NewString(), ttl: ttl}
}

func (l *RedisLease) Acquire(ctx context.Context) (bool, error) {
	return utils.AcquireLease(ctx, l.rdb, l.key, l.owner, l.ttl)
}

func (l *RedisLease) Release(ctx context.Context) error {
	return utils.ReleaseLease(ctx, l.rdb, l.key, l.owner)
}

type SweeperConfig struct {
	Interval    time.Duration
	RingTimeout time.Duration
	BatchSize   int
}

// Sweeper marks RINGING calls older than the ring timeout as MISSED. It covers
// callers that went away before their own timer fired.
type Sweeper struct {
	cfg      SweeperConfig
	store    calls.Store
	history  History
	notifier Notifier
	audit    TransitionLog
	lease    Lease
	log      *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

type SweeperDeps struct {
	Store    calls.Store
	History  History
	Notifier Notifier
	Audit    TransitionLog
	Lease    Lease
	Log      *slog.Logger
	Metrics  *metrics.Metrics
	Clock    func() time.Time
}

func NewSweeper(cfg SweeperConfig, deps SweeperDeps) (*Sweeper, error) {
	if deps.Store == nil {
		return nil, errors.New("session: sweeper needs a store")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Second
	}
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = 30 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}
	return &Sweeper{
		cfg:      cfg,
		store:    deps.Store,
		history:  deps.History,
		notifier: deps.Notifier,
		audit:    deps.Audit,
		lease:    deps.Lease,
		log:      deps.Log.With("component", "sweeper"),
		metrics:  deps.Metrics,
		now:      func() time.Time { return deps.Clock().UTC() },
	}, nil
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.cfg.Interval)
	defer t.Stop()
	defer func() {
		if s.lease != nil {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = s.lease.Release(ctx)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if n, err := s.SweepOnce(ctx); err != nil {
				s.log.Warn("sweep failed", "err", err)
			} else if n > 0 {
				s.log.Info("stale calls marked missed", "count", n)
			}
		}
	}
}

// SweepOnce marks stale RINGING calls MISSED and returns how many writes
// applied. Calls another client finished first are left alone.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	if s.lease != nil {
		ok, err := s.lease.Acquire(ctx)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, nil
		}
	}

	now := s.now()
	stale, err := s.store.ListStaleRinging(ctx, now.Add(-s.cfg.RingTimeout), s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, c := range stale {
		ended := now
		cur, applied, err := s.store.Transition(ctx, calls.Transition{
			CallID:  c.CallID,
			From:    []calls.Status{calls.StatusRinging},
			To:      calls.StatusMissed,
			EndedAt: &ended,
		})
		if err != nil {
			s.log.Warn("sweep call", "call_id", c.CallID, "err", err)
			continue
		}
		if !applied {
			continue
		}
		swept++
		s.finish(ctx, cur)
	}
	return swept, nil
}

func (s *Sweeper) finish(ctx context.Context, c calls.Session) {
	s.metrics.Swept()
	s.metrics.Terminal(string(c.Status))
	if s.audit != nil {
		if err := s.audit.LogTransition(ctx, c.CallID, audit.SystemActor, calls.StatusRinging, c.Status, audit.ReasonSwept); err != nil {
			s.log.Warn("transition log", "call_id", c.CallID, "err", err)
		}
	}
	if s.history != nil {
		if err := s.history.Record(ctx, c); err != nil {
			s.log.Warn("record history", "call_id", c.CallID, "err", err)
		}
	}
	if outcome, ok := conversation.OutcomeFor(c); ok && s.notifier != nil {
		if err := s.notifier.NotifyMissedOrRejected(ctx, c, outcome); err != nil {
			s.log.Warn("conversation notice", "call_id", c.CallID, "err", err)
		}
	}
}
