package routing

import (
	"voicegate/internal/calls"
	"voicegate/internal/entitlement"
	"voicegate/internal/telephony"
	"voicegate/internal/tenants"
)

// Session metadata keys. The values are informational and never drive decisions.
const (
	MetaDirection     = "direction"
	MetaCalledNumber  = "called_number"
	MetaInitialStatus = "initial_status"
	MetaBlockReason   = "block_reason"
	MetaCallerName    = "caller_name"
	MetaForwardedFrom = "forwarded_from"
	MetaRecovered     = "recovered_from_status"
)

// control maps a recorded session onto the call-control outcome.
//
// The session, not the fresh decision, is authoritative: a replayed initiation
// gets the answer recorded the first time.
func (e *Engine) control(sess calls.Session, snap tenants.Snapshot, d entitlement.Decision) telephony.CallControl {
	cc := telephony.CallControl{
		CallID:    sess.CallID,
		TenantID:  sess.TenantID,
		Direction: string(sess.Direction),
	}
	if !sess.Billable {
		cc.Outcome = telephony.OutcomeBlocked
		cc.Reason = string(d.Reason)
		if cc.Reason == "" {
			cc.Reason = sess.Metadata[MetaBlockReason]
		}
		return cc
	}

	cc.Outcome = telephony.OutcomeAllowed
	cc.Greeting = snap.Greeting
	if cc.Greeting == "" {
		cc.Greeting = e.DefaultGreeting
	}
	cc.StreamURL = telephony.StreamURLFor(e.StreamURLTemplate, sess.CallID)
	return cc
}

func notFound(callID string, direction tenants.Direction) telephony.CallControl {
	return telephony.CallControl{Outcome: telephony.OutcomeNotFound, CallID: callID, Direction: string(direction), Reason: "tenant_not_found"}
}

func errorControl(callID string) telephony.CallControl {
	return telephony.CallControl{Outcome: telephony.OutcomeError, CallID: callID, Reason: "internal_error"}
}

func sessionMetadata(ev telephony.InitiationEvent, direction tenants.Direction, d entitlement.Decision) map[string]string {
	m := map[string]string{
		MetaDirection:     string(direction),
		MetaCalledNumber:  ev.To,
		MetaInitialStatus: ev.CarrierStatus,
	}
	if !d.Allowed {
		m[MetaBlockReason] = string(d.Reason)
	}
	if ev.CallerName != "" {
		m[MetaCallerName] = ev.CallerName
	}
	if ev.ForwardedFrom != "" {
		m[MetaForwardedFrom] = ev.ForwardedFrom
	}
	return m
}
