package tenants

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Tenant is the provisioning-owned record. This package only reads it; minute
// counters are mutated through the usage ledger.
type Tenant struct {
	ID          string      `json:"id" db:"id"`
	Name        string      `json:"name" db:"name"`
	Status      Status      `json:"status" db:"status"`
	ChannelMode ChannelMode `json:"channel_mode" db:"channel_mode"`
	Greeting    string      `json:"greeting,omitempty" db:"greeting"`

	// TrialMinutesTotal is nil for tenants without trial metering.
	TrialMinutesTotal *int `json:"trial_minutes_total,omitempty" db:"trial_minutes_total"`
	TrialMinutesUsed  int  `json:"trial_minutes_used" db:"trial_minutes_used"`

	PaidPlan            bool `json:"paid_plan" db:"paid_plan"`
	PaidMinutesIncluded *int `json:"paid_minutes_included,omitempty" db:"paid_minutes_included"`
	PaidMinutesUsed     int  `json:"paid_minutes_used" db:"paid_minutes_used"`

	BillingCycleStart *time.Time `json:"billing_cycle_start,omitempty" db:"billing_cycle_start"`
	BillingCycleEnd   *time.Time `json:"billing_cycle_end,omitempty" db:"billing_cycle_end"`

	// Numbers are the carrier-assigned numbers currently routed to this tenant.
	Numbers []string `json:"numbers"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusActive        Status = "active"
	StatusSuspended     Status = "suspended"
	StatusDeprovisioned Status = "deprovisioned"
)

type ChannelMode string

const (
	ChannelVoice     ChannelMode = "voice"
	ChannelMessaging ChannelMode = "messaging"
	ChannelBoth      ChannelMode = "both"
)

// Direction is who initiated the call leg, as reported by the carrier.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// NormalizeDirection folds carrier variants (outbound-api, outbound-dial) onto
// the two directions the directory understands. Empty or unknown means inbound.
func NormalizeDirection(raw string) Direction {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(raw)), "outbound") {
		return DirectionOutbound
	}
	return DirectionInbound
}

// LookupNumber picks the number the platform owns for a call leg: the dialed
// number for inbound calls, the originating number for outbound ones.
func LookupNumber(direction Direction, from, to string) string {
	if direction == DirectionOutbound {
		return from
	}
	return to
}

// Snapshot is the read-only view of a tenant the entitlement gate decides on.
type Snapshot struct {
	TenantID    string      `json:"tenant_id"`
	Number      string      `json:"number"`
	// Direction is the call leg the number was resolved for; not cached.
	Direction   Direction   `json:"-"`
	ChannelMode ChannelMode `json:"channel_mode"`
	Greeting    string      `json:"greeting,omitempty"`

	// Trial is nil when no trial allotment is configured.
	Trial *TrialAllowance `json:"trial,omitempty"`
	// Paid is nil unless the tenant is on a paid plan.
	Paid *PaidPlan `json:"paid,omitempty"`
}

type TrialAllowance struct {
	Total int `json:"total"`
	Used  int `json:"used"`
}

type PaidPlan struct {
	// Included is nil for plans without an included allotment.
	Included   *int       `json:"included,omitempty"`
	Used       int        `json:"used"`
	CycleStart *time.Time `json:"cycle_start,omitempty"`
	CycleEnd   *time.Time `json:"cycle_end,omitempty"`
}

// OverageMinutes is how far usage runs past the included allotment.
func (p PaidPlan) OverageMinutes() int {
	if p.Included == nil || p.Used <= *p.Included {
		return 0
	}
	return p.Used - *p.Included
}

func (s Snapshot) SupportsVoice() bool {
	return s.ChannelMode == "" || s.ChannelMode == ChannelVoice || s.ChannelMode == ChannelBoth
}

func (s Snapshot) SupportsMessaging() bool {
	return s.ChannelMode == ChannelMessaging || s.ChannelMode == ChannelBoth
}

// SnapshotOf projects a tenant record onto the entitlement view.
func SnapshotOf(t Tenant, number string, direction Direction) Snapshot {
	s := Snapshot{
		TenantID:    t.ID,
		Number:      number,
		Direction:   direction,
		ChannelMode: t.ChannelMode,
		Greeting:    t.Greeting,
	}
	if t.TrialMinutesTotal != nil {
		s.Trial = &TrialAllowance{Total: *t.TrialMinutesTotal, Used: t.TrialMinutesUsed}
	}
	if t.PaidPlan {
		s.Paid = &PaidPlan{
			Included:   t.PaidMinutesIncluded,
			Used:       t.PaidMinutesUsed,
			CycleStart: t.BillingCycleStart,
			CycleEnd:   t.BillingCycleEnd,
		}
	}
	return s
}

var ErrTenantNotFound = errors.New("tenant not found")

// Directory resolves a carrier number to the owning tenant.
// ErrTenantNotFound is the normal miss for unknown or deprovisioned numbers.
type Directory interface {
	Resolve(ctx context.Context, number string, direction Direction) (Snapshot, error)
}

// Invalidator drops cached snapshots after a tenant's counters change.
type Invalidator interface {
	Invalidate(ctx context.Context, tenantID string) error
}
