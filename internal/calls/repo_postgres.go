package calls

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"call-platform/pkg/utils"
)

// NotifyChannel is the LISTEN channel fed by the call_sessions trigger.
// Each payload is row_to_json of the changed row.
const NotifyChannel = "call_sessions_changed"

// PostgresStore keeps sessions in call_sessions and streams changes via LISTEN/NOTIFY.
//
// Writes go through database/sql (pgx stdlib). Change notifications need a
// session-scoped connection, so Run holds a native pgx.Conn for the listener.
type PostgresStore struct {
	db  *sql.DB
	dsn string
	log *slog.Logger
	hub *hub

	reconnectDelay time.Duration
}

func NewPostgresStore(db *sql.DB, listenDSN string, log *slog.Logger) *PostgresStore {
	if log == nil {
		log = slog.Default()
	}
	return &PostgresStore{
		db:             db,
		dsn:            listenDSN,
		log:            log,
		hub:            newHub(),
		reconnectDelay: 2 * time.Second,
	}
}

const sessionColumns = `call_id, caller_id, caller_name, receiver_id, call_type, status, created_at, answered_at, ended_at, duration_seconds, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (Session, error) {
	var (
		s        Session
		answered sql.NullTime
		ended    sql.NullTime
	)
	if err := r.Scan(
		&s.CallID,
		&s.CallerID,
		&s.CallerName,
		&s.ReceiverID,
		&s.CallType,
		&s.Status,
		&s.CreatedAt,
		&answered,
		&ended,
		&s.DurationSeconds,
		&s.UpdatedAt,
	); err != nil {
		return Session{}, err
	}
	if answered.Valid {
		v := answered.Time.UTC()
		s.AnsweredAt = &v
	}
	if ended.Valid {
		v := ended.Time.UTC()
		s.EndedAt = &v
	}
	return s, nil
}

func (p *PostgresStore) Create(ctx context.Context, s Session) error {
	if err := Validate(s); err != nil {
		return err
	}
	const q = `
INSERT INTO call_sessions (call_id, caller_id, caller_name, receiver_id, call_type, status, created_at, duration_seconds, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, 0, now())
ON CONFLICT (call_id) DO NOTHING
`
	res, err := p.db.ExecContext(ctx, q, s.CallID, s.CallerID, s.CallerName, s.ReceiverID, s.CallType, s.Status, s.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert call session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, callID string) (Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM call_sessions WHERE call_id = $1`
	s, err := scanSession(p.db.QueryRowContext(ctx, q, callID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	return s, nil
}

// Transition performs a compare-and-set on status. Timestamps are only filled
// once; a second writer never overwrites answered_at or ended_at.
func (p *PostgresStore) Transition(ctx context.Context, t Transition) (Session, bool, error) {
	if err := validateTransition(t); err != nil {
		return Session{}, false, err
	}
	from := make([]string, len(t.From))
	for i, s := range t.From {
		from[i] = string(s)
	}
	q := `
UPDATE call_sessions
SET status = $2,
    answered_at = COALESCE(answered_at, $3),
    ended_at = COALESCE(ended_at, $4),
    duration_seconds = CASE WHEN $5 > 0 THEN $5 ELSE duration_seconds END,
    updated_at = now()
WHERE call_id = $1 AND status = ANY($6)
RETURNING ` + sessionColumns

	s, err := scanSession(p.db.QueryRowContext(ctx, q, t.CallID, t.To, nullTime(t.AnsweredAt), nullTime(t.EndedAt), t.DurationSeconds, from))
	if err == nil {
		return s, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Session{}, false, fmt.Errorf("transition %s -> %s: %w", t.CallID, t.To, err)
	}

	// Lost the race or the record is already past From.
	cur, err := p.Get(ctx, t.CallID)
	if err != nil {
		return Session{}, false, err
	}
	return cur, false, nil
}

func (p *PostgresStore) Subscribe(ctx context.Context, f Filter) (<-chan Session, func(), error) {
	return p.hub.add(ctx, f, func() ([]Session, error) {
		if f.CallID != "" {
			s, err := p.Get(ctx, f.CallID)
			if errors.Is(err, ErrNotFound) {
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			if !f.Match(s) {
				return nil, nil
			}
			return []Session{s}, nil
		}
		return p.listOpen(ctx, f)
	})
}

func (p *PostgresStore) listOpen(ctx context.Context, f Filter) ([]Session, error) {
	q := `
SELECT ` + sessionColumns + `
FROM call_sessions
WHERE status IN ('RINGING', 'ANSWERED', 'CONNECTING', 'CONNECTED')
  AND ($1 = '' OR receiver_id = $1)
  AND ($2 = '' OR caller_id = $2 OR receiver_id = $2)
ORDER BY created_at
`
	rows, err := p.db.QueryContext(ctx, q, f.ReceiverID, f.UserID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *PostgresStore) ListStaleRinging(ctx context.Context, cutoff time.Time, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `
SELECT ` + sessionColumns + `
FROM call_sessions
WHERE status = 'RINGING' AND created_at < $1
ORDER BY created_at
LIMIT $2
`
	rows, err := p.db.QueryContext(ctx, q, cutoff.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Run listens for change notifications until ctx is done, reconnecting after
// connection loss. Subscribers only receive changes while Run is active.
func (p *PostgresStore) Run(ctx context.Context) error {
	defer p.hub.closeAll()
	for {
		err := p.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		p.log.Warn("call session listener lost", "err", err)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(p.reconnectDelay):
		}
	}
}

func (p *PostgresStore) listen(ctx context.Context) error {
	conn, err := utils.OpenListener(ctx, p.dsn, NotifyChannel)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = conn.Close(closeCtx)
	}()
	p.log.Info("call session listener started", "channel", NotifyChannel)

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		p.dispatch(n)
	}
}

func (p *PostgresStore) dispatch(n *pgconn.Notification) {
	s, err := decodeNotification([]byte(n.Payload))
	if err != nil {
		p.log.Warn("dropping malformed call session notification", "err", err)
		return
	}
	p.hub.publish(s)
}

func decodeNotification(payload []byte) (Session, error) {
	var s Session
	if err := json.Unmarshal(payload, &s); err != nil {
		return Session{}, err
	}
	if s.CallID == "" || !s.Status.Valid() {
		return Session{}, ErrInvalidArgument
	}
	return s, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
