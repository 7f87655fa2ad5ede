package reporting

import (
	"context"
	"errors"
	"time"

	"call-platform/internal/calls"
	"call-platform/internal/history"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting.
// history.Repository satisfies it.
type Repository interface {
	ListRange(ctx context.Context, ownerID string, from, to time.Time) ([]history.Record, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.UserID == "" {
		return CallsSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListRange(ctx, req.UserID, req.Range.From, req.Range.To)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{UserID: req.UserID}
	answeredDurations := 0
	for _, r := range rows {
		out.TotalCalls++
		switch r.Direction {
		case history.DirectionOutgoing:
			out.OutgoingCalls++
		case history.DirectionIncoming:
			out.IncomingCalls++
		}
		switch r.CallType {
		case calls.CallTypeAudio:
			out.AudioCalls++
		case calls.CallTypeVideo:
			out.VideoCalls++
		}

		switch r.Status {
		case calls.StatusEnded:
			if r.AnsweredAt == nil {
				out.MissedCalls++
				continue
			}
			out.CompletedCalls++
			out.TotalDurationSeconds += r.DurationSeconds
			answeredDurations++
		case calls.StatusMissed, calls.StatusNoAnswer:
			out.MissedCalls++
		case calls.StatusRejected:
			out.DeclinedCalls++
		case calls.StatusBusy:
			out.BusyCalls++
		case calls.StatusFailed:
			out.FailedCalls++
		}
	}
	if answeredDurations > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / answeredDurations
	}
	if out.TotalCalls > 0 {
		out.AnswerRate = float64(out.CompletedCalls) / float64(out.TotalCalls)
	}
	return out, nil
}
