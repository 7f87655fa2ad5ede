package audit

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresRepo appends to call_events. The table carries no UPDATE or
// DELETE path.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (p *PostgresRepo) Append(ctx context.Context, e Event) error {
	q := `
INSERT INTO call_events (id, call_id, actor_user_id, from_status, to_status, reason, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`
	if _, err := p.db.ExecContext(ctx, q, e.ID, e.CallID, e.ActorUserID, string(e.FromStatus), string(e.ToStatus), e.Reason, e.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("append call event: %w", err)
	}
	return nil
}

func (p *PostgresRepo) ListByCall(ctx context.Context, callID string) ([]Event, error) {
	q := `
SELECT id, call_id, actor_user_id, from_status, to_status, reason, created_at
FROM call_events
WHERE call_id = $1
ORDER BY created_at ASC, id ASC
`
	rows, err := p.db.QueryContext(ctx, q, callID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Event, 0)
	for rows.Next() {
		var e Event
		if err := rows.Scan(&e.ID, &e.CallID, &e.ActorUserID, &e.FromStatus, &e.ToStatus, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
