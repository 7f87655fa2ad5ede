package calls

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusRank_TerminalIsHighest(t *testing.T) {
	for _, s := range AllStatuses {
		require.True(t, s.Valid(), s)
		if s.IsTerminal() {
			assert.Greater(t, s.Rank(), StatusConnected.Rank(), s)
		}
	}
	assert.False(t, Status("BOGUS").Valid())
	assert.Less(t, StatusRinging.Rank(), StatusAnswered.Rank())
	assert.Less(t, StatusAnswered.Rank(), StatusConnecting.Rank())
	assert.Less(t, StatusConnecting.Rank(), StatusConnected.Rank())
}

func TestCanTransition_NothingReturnsToRinging(t *testing.T) {
	for _, from := range AllStatuses {
		assert.False(t, CanTransition(from, StatusRinging), from)
	}
}

func TestCanTransition_TerminalIsFinal(t *testing.T) {
	for _, from := range AllStatuses {
		if !from.IsTerminal() {
			continue
		}
		for _, to := range AllStatuses {
			assert.False(t, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestCanTransition_ForwardOnly(t *testing.T) {
	for _, from := range AllStatuses {
		for _, to := range AllStatuses {
			if CanTransition(from, to) {
				assert.Greater(t, to.Rank(), from.Rank(), "%s -> %s", from, to)
			}
		}
	}
	assert.True(t, CanTransition(StatusRinging, StatusAnswered))
	assert.True(t, CanTransition(StatusRinging, StatusRejected))
	assert.True(t, CanTransition(StatusRinging, StatusMissed))
	assert.False(t, CanTransition(StatusAnswered, StatusRejected))
	assert.True(t, CanTransition(StatusConnected, StatusEnded))
}

func TestSupersedes(t *testing.T) {
	assert.True(t, Supersedes(StatusAnswered, StatusRinging))
	assert.False(t, Supersedes(StatusRinging, StatusAnswered))
	assert.False(t, Supersedes(StatusEnded, StatusMissed))
	assert.False(t, Supersedes(StatusConnected, StatusConnected))
}

func TestValidate(t *testing.T) {
	ok := Session{
		CallID:     "c1",
		CallerID:   "alice",
		ReceiverID: "bob",
		CallType:   CallTypeAudio,
		Status:     StatusRinging,
		CreatedAt:  time.Now(),
	}
	require.NoError(t, Validate(ok))

	self := ok
	self.ReceiverID = "alice"
	assert.ErrorIs(t, Validate(self), ErrInvalidArgument)

	badType := ok
	badType.CallType = "HOLOGRAM"
	assert.ErrorIs(t, Validate(badType), ErrInvalidArgument)

	answered := ok
	answered.Status = StatusAnswered
	assert.ErrorIs(t, Validate(answered), ErrInvalidArgument)
}

func TestSession_PeerAndParticipant(t *testing.T) {
	s := Session{CallerID: "alice", ReceiverID: "bob"}
	assert.Equal(t, "bob", s.Peer("alice"))
	assert.Equal(t, "alice", s.Peer("bob"))
	assert.True(t, s.IsParticipant("bob"))
	assert.False(t, s.IsParticipant("carol"))
	assert.False(t, s.IsParticipant(""))
}

// A session encoded the way the change stream carries it must read back with
// the same identity, type and status on the other peer.
func TestSession_NotificationRoundTrip(t *testing.T) {
	answered := time.Date(2024, 5, 1, 10, 0, 3, 0, time.UTC)
	in := Session{
		CallID:     "c1",
		CallerID:   "alice",
		CallerName: "Alice",
		ReceiverID: "bob",
		CallType:   CallTypeVideo,
		Status:     StatusAnswered,
		CreatedAt:  time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
		AnsweredAt: &answered,
	}
	b, err := json.Marshal(in)
	require.NoError(t, err)

	out, err := decodeNotification(b)
	require.NoError(t, err)
	assert.Equal(t, in.CallID, out.CallID)
	assert.Equal(t, in.CallType, out.CallType)
	assert.Equal(t, in.Status, out.Status)
	require.NotNil(t, out.AnsweredAt)
	assert.True(t, answered.Equal(*out.AnsweredAt))
	assert.Nil(t, out.EndedAt)
}

func TestDecodeNotification_PostgresRowJSON(t *testing.T) {
	payload := `{"call_id":"c9","caller_id":"a","caller_name":"","receiver_id":"b","call_type":"AUDIO","status":"MISSED",` +
		`"created_at":"2024-05-01T10:00:00.123456+00:00","answered_at":null,"ended_at":"2024-05-01T10:00:30.5+00:00",` +
		`"duration_seconds":0,"updated_at":"2024-05-01T10:00:30.5+00:00"}`
	s, err := decodeNotification([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, StatusMissed, s.Status)
	assert.Nil(t, s.AnsweredAt)
	require.NotNil(t, s.EndedAt)

	_, err = decodeNotification([]byte(`{"call_id":"c9","status":"NOPE"}`))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
