package telephony

import (
	"context"
	"errors"
	"time"
)

// Event types and the handler contracts the webhook router dispatches to.
//
// Rules:
// - Carrier form fields are translated here; nothing downstream sees Twilio names.
// - No business decisions in this package; handlers own them.

// EventType is the webhook discriminator, taken from the terminal path segment.
type EventType string

const (
	EventVoice   EventType = "voice"
	EventStatus  EventType = "status"
	EventMessage EventType = "sms"
)

// ErrMalformedEvent means a mandatory field was missing. It is acknowledged, never retried.
var ErrMalformedEvent = errors.New("telephony: malformed event")

// InitiationEvent is the first webhook for a call.
type InitiationEvent struct {
	CallID        string
	AccountID     string
	From          string
	To            string
	Direction     string
	CarrierStatus string
	CallerName    string
	ForwardedFrom string
	FromCountry   string
	ToCountry     string
	OccurredAt    time.Time
}

// StatusEvent is a call-progress callback.
type StatusEvent struct {
	CallID        string
	From          string
	To            string
	Direction     string
	CarrierStatus string
	// DurationSeconds is nil when the carrier did not send one, or sent one that
	// is not a non-negative integer; the raw value is kept in InvalidDuration.
	DurationSeconds *int
	InvalidDuration string
	OccurredAt      time.Time
}

// MessageEvent is an inbound SMS or an SMS delivery-status callback.
type MessageEvent struct {
	MessageID   string
	From        string
	To          string
	Body        string
	Status      string
	NumSegments int
	ErrorCode   string
	OccurredAt  time.Time
}

// Outcome is what the call-control document should do with the line.
type Outcome string

const (
	OutcomeNotFound Outcome = "not_found"
	OutcomeBlocked  Outcome = "blocked"
	OutcomeAllowed  Outcome = "allowed"
	OutcomeError    Outcome = "error"
)

// CallControl is a decision already made, ready to render. The renderer never decides.
type CallControl struct {
	Outcome Outcome `json:"outcome"`

	CallID    string `json:"call_id,omitempty"`
	TenantID  string `json:"tenant_id,omitempty"`
	Direction string `json:"direction,omitempty"`

	// Greeting is announced before the stream connects; empty uses the renderer default.
	Greeting string `json:"greeting,omitempty"`
	// StreamURL is the media pipeline handoff, required for OutcomeAllowed.
	StreamURL string `json:"stream_url,omitempty"`

	// Reason is for logs only.
	Reason string `json:"reason,omitempty"`
}

// InitiationRouter decides and records a new call.
// It must answer within the carrier's synchronous timeout.
type InitiationRouter interface {
	RouteInitiation(ctx context.Context, ev InitiationEvent) (CallControl, error)
}

// StatusReconciler applies a status callback. An error means the carrier should retry.
type StatusReconciler interface {
	ReconcileStatus(ctx context.Context, ev StatusEvent) error
}

// MessageRecorder records messaging events.
type MessageRecorder interface {
	RecordMessage(ctx context.Context, ev MessageEvent) error
}

// WebhookRecord is one dispatched webhook, kept for audit and replay diagnosis.
type WebhookRecord struct {
	EventType  EventType
	CallID     string
	MessageID  string
	TenantID   string
	Payload    map[string]string
	ClientIP   string
	Outcome    string
	Error      string
	ReceivedAt time.Time
}

// WebhookAuditor persists WebhookRecords. Failures are logged, never surfaced to the carrier.
type WebhookAuditor interface {
	RecordWebhook(ctx context.Context, rec WebhookRecord) error
}
