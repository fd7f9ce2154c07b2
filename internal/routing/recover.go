package routing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"voicegate/internal/calls"
	"voicegate/internal/entitlement"
	"voicegate/internal/telephony"
	"voicegate/internal/tenants"
	"voicegate/pkg/logger"
)

// RecoverSession creates the session for a status event that overtook its
// initiation webhook. Billability is decided by the same gate the initiation
// path uses. Returns tenants.ErrTenantNotFound when nobody owns the call.
//
// A concurrent initiation is harmless: the upsert converges on one row.
func (e *Engine) RecoverSession(ctx context.Context, ev telephony.StatusEvent) (calls.Session, error) {
	ctx, span := tracer.Start(ctx, "routing.RecoverSession")
	defer span.End()
	span.SetAttributes(attribute.String("call.id", ev.CallID))

	direction := tenants.NormalizeDirection(ev.Direction)
	snap, err := e.resolve(ctx, direction, ev.From, ev.To)
	if err != nil {
		return calls.Session{}, err
	}

	d := entitlement.Decide(snap)
	meta := map[string]string{
		MetaDirection:     string(direction),
		MetaCalledNumber:  ev.To,
		MetaInitialStatus: ev.CarrierStatus,
		MetaRecovered:     "true",
	}
	if !d.Allowed {
		meta[MetaBlockReason] = string(d.Reason)
	}

	sess, created, err := e.Sessions.UpsertOnInitiation(ctx, calls.NewSession{
		CallID:        ev.CallID,
		TenantID:      snap.TenantID,
		CallerNumber:  ev.From,
		CalledNumber:  ev.To,
		Direction:     direction,
		CarrierStatus: ev.CarrierStatus,
		Billable:      d.Allowed,
		StartedAt:     timeOr(ev.OccurredAt, e.now()),
		Metadata:      meta,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session upsert failed")
		return calls.Session{}, fmt.Errorf("routing: recover session: %w", err)
	}
	if created {
		logger.From(ctx).Warn("status arrived before initiation; session recovered",
			zap.String("call_id", ev.CallID),
			zap.String("tenant_id", sess.TenantID),
			zap.Bool("billable", sess.Billable),
		)
	}
	return sess, nil
}
