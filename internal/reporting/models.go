package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated call metrics for one user.
// Isolation: UserID is required and only that user's history is read.
type CallsSummaryRequest struct {
	UserID string    `json:"user_id"`
	Range  TimeRange `json:"range"`
}

type CallsSummary struct {
	UserID string `json:"user_id"`

	TotalCalls    int `json:"total_calls"`
	OutgoingCalls int `json:"outgoing_calls"`
	IncomingCalls int `json:"incoming_calls"`

	// CompletedCalls ended after being answered.
	CompletedCalls int `json:"completed_calls"`
	MissedCalls    int `json:"missed_calls"`
	DeclinedCalls  int `json:"declined_calls"`
	BusyCalls      int `json:"busy_calls"`
	FailedCalls    int `json:"failed_calls"`

	AudioCalls int `json:"audio_calls"`
	VideoCalls int `json:"video_calls"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	// AnswerRate is CompletedCalls over TotalCalls.
	AnswerRate float64 `json:"answer_rate"`
}
