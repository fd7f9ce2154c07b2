// Package entitlement decides whether a tenant's call may proceed.
//
// Decide is pure: it looks only at the snapshot the directory already fetched,
// so it is safe inside the carrier's synchronous webhook window.
package entitlement

import "voicegate/internal/tenants"

type Reason string

const (
	ReasonNone           Reason = ""
	ReasonTrialExhausted Reason = "trial_exhausted"
)

type Decision struct {
	Allowed bool
	Reason  Reason

	// Metered is false for tenants without any minute tracking.
	Metered bool
	// OverageMinutes is informational for paid plans and never blocks.
	OverageMinutes int
}

func Allow() Decision { return Decision{Allowed: true, Metered: true} }

func Block(r Reason) Decision { return Decision{Allowed: false, Reason: r, Metered: true} }

// Decide applies, in order:
//  1. no trial and no paid plan configured: allow (unmetered)
//  2. not on a paid plan: allow while trial used < trial total, else block trial_exhausted
//  3. paid plan: allow, reporting overage
func Decide(s tenants.Snapshot) Decision {
	switch {
	case s.Trial == nil && s.Paid == nil:
		return Decision{Allowed: true}
	case s.Paid == nil:
		if s.Trial.Used < s.Trial.Total {
			return Allow()
		}
		return Block(ReasonTrialExhausted)
	default:
		d := Allow()
		d.OverageMinutes = s.Paid.OverageMinutes()
		return d
	}
}
