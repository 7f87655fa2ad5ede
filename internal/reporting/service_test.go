package reporting

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"call-platform/internal/calls"
	"call-platform/internal/history"
)

func session(id, caller, receiver string, st calls.Status, at time.Time, answered bool, dur int) calls.Session {
	s := calls.Session{
		CallID:          id,
		CallerID:        caller,
		ReceiverID:      receiver,
		CallType:        calls.CallTypeAudio,
		Status:          st,
		CreatedAt:       at,
		EndedAt:         &at,
		DurationSeconds: dur,
	}
	if answered {
		s.AnsweredAt = &at
	}
	return s
}

func seed(t *testing.T, sessions ...calls.Session) *history.MemoryRepo {
	t.Helper()
	repo := history.NewMemoryRepo()
	rec := history.NewRecorder(repo)
	for _, s := range sessions {
		require.NoError(t, rec.Record(context.Background(), s))
	}
	return repo
}

func TestReporting_UserIsolation(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	repo := seed(t,
		session("c1", "alice", "bob", calls.StatusEnded, now, true, 30),
		session("c2", "carol", "dave", calls.StatusEnded, now, true, 50),
	)
	svc := NewService(repo)

	out, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{UserID: "alice", Range: TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)}})
	require.NoError(t, err)
	assert.Equal(t, 1, out.TotalCalls)
	assert.Equal(t, 30, out.TotalDurationSeconds)
}

func TestReporting_ClassifiesOutcomes(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	repo := seed(t,
		session("c1", "alice", "bob", calls.StatusEnded, now, true, 40),
		session("c2", "alice", "bob", calls.StatusEnded, now, false, 0),
		session("c3", "bob", "alice", calls.StatusRejected, now, false, 0),
		session("c4", "bob", "alice", calls.StatusMissed, now, false, 0),
		session("c5", "alice", "bob", calls.StatusBusy, now, false, 0),
		session("c6", "alice", "bob", calls.StatusEnded, now, true, 20),
	)
	svc := NewService(repo)

	out, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{UserID: "alice", Range: TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)}})
	require.NoError(t, err)
	assert.Equal(t, 6, out.TotalCalls)
	assert.Equal(t, 4, out.OutgoingCalls)
	assert.Equal(t, 2, out.IncomingCalls)
	assert.Equal(t, 2, out.CompletedCalls)
	assert.Equal(t, 2, out.MissedCalls)
	assert.Equal(t, 1, out.DeclinedCalls)
	assert.Equal(t, 1, out.BusyCalls)
	assert.Equal(t, 60, out.TotalDurationSeconds)
	assert.Equal(t, 30, out.AverageDurationSeconds)
	assert.InDelta(t, 2.0/6.0, out.AnswerRate, 1e-9)
}

func TestReporting_RejectsBadRange(t *testing.T) {
	now := time.Now()
	svc := NewService(history.NewMemoryRepo())
	_, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{UserID: "alice", Range: TimeRange{From: now, To: now}})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	_, err = svc.CallsSummary(context.Background(), CallsSummaryRequest{Range: TimeRange{From: now, To: now.Add(time.Hour)}})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
