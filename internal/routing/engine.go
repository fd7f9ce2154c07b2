package routing

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
	"voicegate/internal/entitlement"
	"voicegate/internal/telephony"
	"voicegate/internal/tenants"
	"voicegate/pkg/logger"
)

var tracer = otel.Tracer("voicegate/internal/routing")

// Engine decides what to do with a new call.
//
// Order:
//  1. resolve the owning tenant (direction-sensitive)
//  2. entitlement gate (pure)
//  3. idempotent session upsert
//
// The webhook adapter only renders the returned CallControl.
type Engine struct {
	Directory tenants.Directory
	Sessions  calls.Store

	// StreamURLTemplate contains {call_id}.
	StreamURLTemplate string
	// DefaultGreeting is used when the tenant has none.
	DefaultGreeting string

	Now func() time.Time
}

func NewEngine(dir tenants.Directory, sessions calls.Store, streamURLTemplate, defaultGreeting string) *Engine {
	return &Engine{
		Directory:         dir,
		Sessions:          sessions,
		StreamURLTemplate: streamURLTemplate,
		DefaultGreeting:   defaultGreeting,
		Now:               time.Now,
	}
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now().UTC()
	}
	return e.Now().UTC()
}

// RouteInitiation implements telephony.InitiationRouter.
//
// On lookup or store failure it returns both an error outcome and the error.
func (e *Engine) RouteInitiation(ctx context.Context, ev telephony.InitiationEvent) (telephony.CallControl, error) {
	ctx, span := tracer.Start(ctx, "routing.RouteInitiation", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()
	span.SetAttributes(attribute.String("call.id", ev.CallID))

	log := logger.From(ctx).With(zap.String("call_id", ev.CallID))
	direction := tenants.NormalizeDirection(ev.Direction)

	snap, err := e.resolve(ctx, direction, ev.From, ev.To)
	switch {
	case errors.Is(err, tenants.ErrTenantNotFound):
		log.Info("no tenant for call", zap.String("direction", string(direction)), zap.String("from", ev.From), zap.String("to", ev.To))
		span.SetAttributes(attribute.String("call.outcome", string(telephony.OutcomeNotFound)))
		return notFound(ev.CallID, direction), nil
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, "tenant lookup failed")
		return errorControl(ev.CallID), fmt.Errorf("routing: resolve tenant: %w", err)
	}
	span.SetAttributes(attribute.String("tenant.id", snap.TenantID))

	d := entitlement.Decide(snap)
	if d.OverageMinutes > 0 {
		log.Info("tenant in paid overage", zap.String("tenant_id", snap.TenantID), zap.Int("overage_minutes", d.OverageMinutes))
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
		Metadata:      sessionMetadata(ev, direction, d),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "session upsert failed")
		return errorControl(ev.CallID), fmt.Errorf("routing: upsert session: %w", err)
	}
	if !created {
		log.Info("duplicate initiation; replaying recorded decision", zap.Bool("billable", sess.Billable))
	}

	cc := e.control(sess, snap, d)
	span.SetAttributes(attribute.String("call.outcome", string(cc.Outcome)))
	return cc, nil
}

// resolve looks up the tenant owning the platform side of the call leg.
// Tenants configured for messaging only do not answer calls.
func (e *Engine) resolve(ctx context.Context, direction tenants.Direction, from, to string) (tenants.Snapshot, error) {
	if e.Directory == nil {
		return tenants.Snapshot{}, errors.New("routing: directory not configured")
	}
	number := tenants.LookupNumber(direction, from, to)
	if number == "" {
		return tenants.Snapshot{}, tenants.ErrTenantNotFound
	}
	snap, err := e.Directory.Resolve(ctx, number, direction)
	if err != nil {
		return tenants.Snapshot{}, err
	}
	if !snap.SupportsVoice() {
		return tenants.Snapshot{}, tenants.ErrTenantNotFound
	}
	return snap, nil
}

func timeOr(t, fallback time.Time) time.Time {
	if t.IsZero() {
		return fallback
	}
	return t.UTC()
}
