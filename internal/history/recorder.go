package history

import (
	"context"
	"errors"
	"fmt"
	"time"

	"call-platform/internal/calls"
)

// Repository stores history records. Insert must ignore a record whose
// (owner_id, call_id) already exists.
type Repository interface {
	Insert(ctx context.Context, r Record) error
	List(ctx context.Context, ownerID string, limit int) ([]Record, error)
	ListRange(ctx context.Context, ownerID string, from, to time.Time) ([]Record, error)
}

// Recorder appends a finished call to both participants' histories.
type Recorder struct {
	repo  Repository
	clock func() time.Time
}

func NewRecorder(repo Repository) *Recorder {
	return &Recorder{repo: repo, clock: time.Now}
}

// Record is safe to call more than once per call; later calls change nothing.
func (r *Recorder) Record(ctx context.Context, s calls.Session) error {
	if r.repo == nil {
		return errors.New("history: repository not configured")
	}
	if !s.Status.IsTerminal() {
		return ErrNotTerminal
	}
	if s.CallID == "" || s.CallerID == "" || s.ReceiverID == "" {
		return ErrInvalidRecord
	}
	for _, rec := range recordsFor(s, r.clock().UTC()) {
		if err := r.repo.Insert(ctx, rec); err != nil {
			return fmt.Errorf("record history for %s: %w", rec.OwnerID, err)
		}
	}
	return nil
}

// List returns ownerID's most recent calls first.
func (r *Recorder) List(ctx context.Context, ownerID string, limit int) ([]Record, error) {
	if ownerID == "" {
		return nil, ErrInvalidRecord
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return r.repo.List(ctx, ownerID, limit)
}
