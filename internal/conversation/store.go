package conversation

import (
	"context"
	"time"
)

// Store is the conversation persistence used by call notices.
type Store interface {
	// Ensure creates the conversation between a and b if it does not exist.
	Ensure(ctx context.Context, id, a, b string) error
	// AppendMessage inserts m unless a message with the same id exists.
	AppendMessage(ctx context.Context, conversationID string, m Message) (inserted bool, err error)
	// UpdatePreview moves the preview forward; an older timestamp never replaces a newer one.
	UpdatePreview(ctx context.Context, conversationID, text string, at time.Time) error
}
