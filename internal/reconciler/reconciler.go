package reconciler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"voicegate/internal/calls"
	"voicegate/internal/telephony"
	"voicegate/internal/tenants"
	"voicegate/pkg/logger"
)

var tracer = otel.Tracer("voicegate/internal/reconciler")

// SessionRecoverer creates the session for a status event that arrived before
// its initiation. It returns tenants.ErrTenantNotFound when nobody owns the call.
type SessionRecoverer interface {
	RecoverSession(ctx context.Context, ev telephony.StatusEvent) (calls.Session, error)
}

// Reconciler implements telephony.StatusReconciler.
type Reconciler struct {
	Sessions calls.Store
	Pricing  Pricer

	// Recover is optional; without it, status for an unknown call is dropped.
	Recover SessionRecoverer
	// Cache is optional; it is told when a tenant's counters moved.
	Cache tenants.Invalidator

	Now func() time.Time
}

func New(sessions calls.Store, p Pricer, rec SessionRecoverer, cache tenants.Invalidator) *Reconciler {
	return &Reconciler{Sessions: sessions, Pricing: p, Recover: rec, Cache: cache, Now: time.Now}
}

func (r *Reconciler) now() time.Time {
	if r.Now == nil {
		return time.Now().UTC()
	}
	return r.Now().UTC()
}

// ReconcileStatus applies one status callback. A nil error means the carrier
// may stop retrying: that includes calls nobody owns.
func (r *Reconciler) ReconcileStatus(ctx context.Context, ev telephony.StatusEvent) error {
	ctx, span := tracer.Start(ctx, "reconciler.ReconcileStatus",
		trace.WithAttributes(attribute.String("call.id", ev.CallID), attribute.String("call.carrier_status", ev.CarrierStatus)))
	defer span.End()

	log := logger.From(ctx).With(zap.String("call_id", ev.CallID), zap.String("carrier_status", ev.CarrierStatus))

	u := Plan(ev, r.Pricing, r.now())
	if !u.Status.Known() {
		log.Warn("unrecognised carrier status; recording verbatim")
	}

	res, err := r.Sessions.ApplyStatus(ctx, u)
	if errors.Is(err, calls.ErrSessionNotFound) {
		res, err = r.recoverAndApply(ctx, ev, u)
		if errors.Is(err, tenants.ErrTenantNotFound) || errors.Is(err, calls.ErrSessionNotFound) {
			log.Info("status for unknown call; acknowledged")
			return nil
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "apply status failed")
		return fmt.Errorf("reconciler: apply status: %w", err)
	}

	span.SetAttributes(
		attribute.String("call.status", string(res.Status)),
		attribute.Bool("call.settled", res.Settled),
	)
	if res.Advanced {
		log.Debug("session advanced", zap.String("status", string(res.Status)))
	}
	if !res.Settled {
		switch {
		case !u.Status.Terminal() || u.DurationSeconds == nil:
		case !res.Billable:
			log.Info("blocked call ended; no duration or cost recorded", zap.String("status", string(res.Status)))
		default:
			log.Info("terminal status replay ignored", zap.String("status", string(res.Status)))
		}
		return nil
	}

	log.Info("session settled",
		zap.String("tenant_id", res.TenantID),
		zap.Bool("billable", res.Billable),
		zap.Intp("duration_seconds", u.DurationSeconds),
		zap.Int("minutes_charged", res.MinutesCharged),
	)
	if res.Usage != nil {
		if over := res.Usage.OverageMinutes(); over > 0 {
			log.Info("tenant in paid overage", zap.String("tenant_id", res.TenantID), zap.Int("overage_minutes", over))
		}
	}
	if res.MinutesCharged > 0 && r.Cache != nil {
		if err := r.Cache.Invalidate(ctx, res.TenantID); err != nil {
			log.Warn("tenant cache invalidation failed", zap.Error(err), zap.String("tenant_id", res.TenantID))
		}
	}
	return nil
}

func (r *Reconciler) recoverAndApply(ctx context.Context, ev telephony.StatusEvent, u calls.StatusUpdate) (calls.StatusResult, error) {
	if r.Recover == nil {
		return calls.StatusResult{}, calls.ErrSessionNotFound
	}
	if _, err := r.Recover.RecoverSession(ctx, ev); err != nil {
		return calls.StatusResult{}, err
	}
	return r.Sessions.ApplyStatus(ctx, u)
}
