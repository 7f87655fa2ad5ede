package conversation

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresStore persists conversations and their messages.
//
// Tables:
// - conversations (id PK, participant_a, participant_b, last_message, last_message_at)
// - conversation_messages (id PK, conversation_id FK, sender_id, kind, text, call_id, created_at)
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{db: db} }

func (p *PostgresStore) Ensure(ctx context.Context, id, a, b string) error {
	const q = `
INSERT INTO conversations (id, participant_a, participant_b, created_at)
VALUES ($1, $2, $3, now())
ON CONFLICT (id) DO NOTHING
`
	if _, err := p.db.ExecContext(ctx, q, id, a, b); err != nil {
		return fmt.Errorf("ensure conversation: %w", err)
	}
	return nil
}

func (p *PostgresStore) AppendMessage(ctx context.Context, conversationID string, m Message) (bool, error) {
	const q = `
INSERT INTO conversation_messages (id, conversation_id, sender_id, kind, text, call_id, created_at)
VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), $7)
ON CONFLICT (id) DO NOTHING
`
	res, err := p.db.ExecContext(ctx, q, m.ID, conversationID, m.SenderID, m.Kind, m.Text, m.CallID, m.CreatedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("append message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (p *PostgresStore) UpdatePreview(ctx context.Context, conversationID, text string, at time.Time) error {
	const q = `
UPDATE conversations
SET last_message = $2, last_message_at = $3
WHERE id = $1 AND (last_message_at IS NULL OR last_message_at <= $3)
`
	if _, err := p.db.ExecContext(ctx, q, conversationID, text, at.UTC()); err != nil {
		return fmt.Errorf("update preview: %w", err)
	}
	return nil
}
