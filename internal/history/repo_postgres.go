package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresRepo stores records in call_history with UNIQUE (owner_id, call_id).
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const recordColumns = `owner_id, call_id, peer_id, peer_name, direction, call_type, status, created_at, answered_at, ended_at, duration_seconds, recorded_at`

func (p *PostgresRepo) Insert(ctx context.Context, r Record) error {
	q := `
INSERT INTO call_history (` + recordColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
ON CONFLICT (owner_id, call_id) DO NOTHING
`
	_, err := p.db.ExecContext(ctx, q,
		r.OwnerID,
		r.CallID,
		r.PeerID,
		r.PeerName,
		r.Direction,
		r.CallType,
		r.Status,
		r.CreatedAt.UTC(),
		nullTime(r.AnsweredAt),
		nullTime(r.EndedAt),
		r.DurationSeconds,
		r.RecordedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert call history: %w", err)
	}
	return nil
}

func (p *PostgresRepo) List(ctx context.Context, ownerID string, limit int) ([]Record, error) {
	q := `
SELECT ` + recordColumns + `
FROM call_history
WHERE owner_id = $1
ORDER BY created_at DESC
LIMIT $2
`
	return p.query(ctx, q, ownerID, limit)
}

func (p *PostgresRepo) ListRange(ctx context.Context, ownerID string, from, to time.Time) ([]Record, error) {
	q := `
SELECT ` + recordColumns + `
FROM call_history
WHERE owner_id = $1 AND created_at >= $2 AND created_at < $3
ORDER BY created_at DESC
`
	return p.query(ctx, q, ownerID, from.UTC(), to.UTC())
}

func (p *PostgresRepo) query(ctx context.Context, q string, args ...any) ([]Record, error) {
	rows, err := p.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Record, 0)
	for rows.Next() {
		var (
			r        Record
			answered sql.NullTime
			ended    sql.NullTime
		)
		if err := rows.Scan(
			&r.OwnerID,
			&r.CallID,
			&r.PeerID,
			&r.PeerName,
			&r.Direction,
			&r.CallType,
			&r.Status,
			&r.CreatedAt,
			&answered,
			&ended,
			&r.DurationSeconds,
			&r.RecordedAt,
		); err != nil {
			return nil, err
		}
		if answered.Valid {
			v := answered.Time.UTC()
			r.AnsweredAt = &v
		}
		if ended.Valid {
			v := ended.Time.UTC()
			r.EndedAt = &v
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
