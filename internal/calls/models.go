package calls

import (
	"time"

	"github.com/shopspring/decimal"

	"voicegate/internal/tenants"
	"voicegate/internal/usage"
)

// Session is the per-call record kept across the call's lifetime.
//
// Invariants:
//   - exactly one row per CallID (carrier-assigned, the idempotency key)
//   - Status only moves forward; terminal statuses are sinks
//   - DurationSeconds and CostAmount are written once, at the first terminal event carrying a duration
type Session struct {
	CallID       string            `json:"call_id" db:"call_id"`
	TenantID     string            `json:"tenant_id" db:"tenant_id"`
	CallerNumber string            `json:"caller_number" db:"caller_number"`
	CalledNumber string            `json:"called_number" db:"called_number"`
	Direction    tenants.Direction `json:"direction" db:"direction"`

	Status Status `json:"status" db:"status"`
	// CarrierStatus is the last raw status string the carrier reported, verbatim.
	CarrierStatus string `json:"carrier_status" db:"carrier_status"`

	// Billable is false when entitlement blocked the call; such sessions settle at zero cost.
	Billable bool `json:"billable" db:"billable"`

	StartedAt       time.Time        `json:"started_at" db:"started_at"`
	EndedAt         *time.Time       `json:"ended_at,omitempty" db:"ended_at"`
	DurationSeconds *int             `json:"duration_seconds,omitempty" db:"duration_seconds"`
	CostAmount      *decimal.Decimal `json:"cost_amount,omitempty" db:"cost_amount"`
	CostCurrency    string           `json:"cost_currency,omitempty" db:"cost_currency"`

	Metadata map[string]string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Settled reports whether duration and cost have been written.
func (s Session) Settled() bool {
	return s.DurationSeconds != nil
}

// NewSession is what the initiation flow knows on first sight of a call.
type NewSession struct {
	CallID        string
	TenantID      string
	CallerNumber  string
	CalledNumber  string
	Direction     tenants.Direction
	CarrierStatus string
	Billable      bool
	StartedAt     time.Time
	Metadata      map[string]string
}

// StatusUpdate is one carrier status event, with the settlement already priced
// as if the session were billable. Stores zero the cost for non-billable sessions.
type StatusUpdate struct {
	CallID        string
	Status        Status
	CarrierStatus string
	// DurationSeconds is nil when the carrier did not report one.
	DurationSeconds *int
	At              time.Time

	Cost     decimal.Decimal
	Currency string
	Minutes  int
}

// StatusResult describes what ApplyStatus changed.
type StatusResult struct {
	TenantID string
	Billable bool
	// Status is the session's status after the update.
	Status Status
	// Advanced is true when the update moved the status forward.
	Advanced bool
	// Settled is true only for the one update that wrote duration and cost.
	Settled        bool
	MinutesCharged int
	// Usage is the tenant's counters after the increment, when one happened.
	Usage *usage.Usage
}

// ListFilter scopes call-history queries.
type ListFilter struct {
	TenantID string
	From     *time.Time
	To       *time.Time
	Status   Status
	Limit    int
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

func (f ListFilter) limit() int {
	switch {
	case f.Limit <= 0:
		return defaultListLimit
	case f.Limit > maxListLimit:
		return maxListLimit
	default:
		return f.Limit
	}
}
