// Package reconciler applies carrier status callbacks to call sessions.
//
// Planning is pure: Plan turns an event and a price into a StatusUpdate. Only
// Reconciler.ReconcileStatus touches storage.
package reconciler

import (
	"time"

	"voicegate/internal/calls"
	"voicegate/internal/pricing"
	"voicegate/internal/telephony"
)

// Pricer prices a terminal call.
type Pricer interface {
	ChargeFor(completed bool, durationSeconds int) pricing.CallCharge
}

// Plan maps a status event onto the store update.
//
// Cost and minutes are attached only for terminal statuses carrying a
// duration; the store zeroes them for non-billable sessions and ignores them
// once a session has settled.
func Plan(ev telephony.StatusEvent, p Pricer, at time.Time) calls.StatusUpdate {
	status := calls.MapCarrierStatus(ev.CarrierStatus)
	u := calls.StatusUpdate{
		CallID:          ev.CallID,
		Status:          status,
		CarrierStatus:   ev.CarrierStatus,
		DurationSeconds: ev.DurationSeconds,
		At:              at,
	}
	if !status.Terminal() || ev.DurationSeconds == nil {
		return u
	}
	charge := p.ChargeFor(status == calls.StatusCompleted, *ev.DurationSeconds)
	u.Cost = charge.Cost
	u.Currency = charge.Currency
	u.Minutes = charge.BillableMinutes
	return u
}
