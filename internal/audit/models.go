package audit

import "time"

// Event is an immutable, append-only record of one carrier webhook.
//
// Invariants:
// - Events are never updated or deleted.
// - Payload is the form exactly as received, for replay diagnosis.
// - Recording is best-effort; webhook handling never waits on a failed append.
//
// Storage (Postgres): table webhook_events, INSERT only.
type Event struct {
	ID   string    `json:"id" db:"id"`
	Type EventType `json:"type" db:"event_type"`

	// Identifiers are optional, depending on the event type.
	TenantID  string `json:"tenant_id,omitempty" db:"tenant_id"`
	CallID    string `json:"call_id,omitempty" db:"call_id"`
	MessageID string `json:"message_id,omitempty" db:"message_id"`

	// IPAddress is the resolved client IP of the carrier request.
	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	// Outcome is what the router did: an outcome for voice, applied/retry/malformed otherwise.
	Outcome string `json:"outcome,omitempty" db:"outcome"`
	Error   string `json:"error,omitempty" db:"error"`

	Payload map[string]string `json:"payload" db:"payload"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// EventType is the webhook kind as routed (voice, status, sms, or whatever
// unrecognised path segment arrived).
type EventType string
