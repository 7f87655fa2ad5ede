package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"call-platform/internal/calls"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
type Repository interface {
	Append(ctx context.Context, e Event) error
	ListByCall(ctx context.Context, callID string) ([]Event, error)
}

// Service records the call transition log.
//
// Callers should treat audit logging as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.CallID == "" || !e.ToStatus.Valid() {
		return ErrInvalidEvent
	}
	if e.FromStatus != "" && !e.FromStatus.Valid() {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogTransition records that actor moved callID from one status to another.
// from is empty for the initial RINGING record.
func (s *Service) LogTransition(ctx context.Context, callID, actor string, from, to calls.Status, reason string) error {
	return s.Append(ctx, Event{
		CallID:      callID,
		ActorUserID: actor,
		FromStatus:  from,
		ToStatus:    to,
		Reason:      reason,
	})
}

// Timeline returns the transition log of callID, oldest first.
func (s *Service) Timeline(ctx context.Context, callID string) ([]Event, error) {
	if callID == "" {
		return nil, ErrInvalidEvent
	}
	return s.repo.ListByCall(ctx, callID)
}
