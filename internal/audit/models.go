package audit

import (
	"time"

	"call-platform/internal/calls"
)

// Event is an immutable, append-only record of one status change
// observed or caused by a client.
//
// Invariants:
// - Events are never updated or deleted.
// - call_id and to_status are required.
// - Logging is best-effort; call flows never block on audit failures.
type Event struct {
	ID     string `json:"id" db:"id"`
	CallID string `json:"call_id" db:"call_id"`

	// ActorUserID is the client that applied the transition, or "system"
	// for the stale-call sweeper.
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`

	FromStatus calls.Status `json:"from_status,omitempty" db:"from_status"`
	ToStatus   calls.Status `json:"to_status" db:"to_status"`

	// Reason is a short machine-readable cause such as "ring_timeout".
	Reason string `json:"reason,omitempty" db:"reason"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

const SystemActor = "system"

// Reasons used across the service.
const (
	ReasonCommand     = "command"
	ReasonRingTimeout = "ring_timeout"
	ReasonMediaReady  = "media_ready"
	ReasonMediaFailed = "media_failed"
	ReasonObserved    = "observed"
	ReasonSwept       = "swept"
	ReasonBusy        = "busy"
)
