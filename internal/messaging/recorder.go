package messaging

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"voicegate/internal/telephony"
	"voicegate/internal/tenants"
	"voicegate/pkg/logger"
)

// Recorder implements telephony.MessageRecorder.
//
// A received message belongs to the tenant owning To; a status callback for a
// message we sent belongs to the tenant owning From. Messages for unknown or
// voice-only tenants are acknowledged and dropped.
type Recorder struct {
	Directory tenants.Directory
	Store     Store
}

func NewRecorder(dir tenants.Directory, store Store) *Recorder {
	return &Recorder{Directory: dir, Store: store}
}

func (r *Recorder) RecordMessage(ctx context.Context, ev telephony.MessageEvent) error {
	log := logger.From(ctx).With(zap.String("message_id", ev.MessageID), zap.String("sms_status", ev.Status))

	dir, number, remote := DirectionInbound, ev.To, ev.From
	if ev.Status != StatusReceived {
		dir, number, remote = DirectionOutbound, ev.From, ev.To
	}

	snap, err := r.Directory.Resolve(ctx, number, tenants.Direction(dir))
	switch {
	case errors.Is(err, tenants.ErrTenantNotFound):
		log.Info("sms for unknown number; dropped", zap.String("number", number))
		return nil
	case err != nil:
		return fmt.Errorf("messaging: resolve tenant: %w", err)
	}
	if !snap.SupportsMessaging() {
		log.Info("sms for tenant without messaging; dropped", zap.String("tenant_id", snap.TenantID))
		return nil
	}

	m := Message{
		TenantID:    snap.TenantID,
		MessageSID:  ev.MessageID,
		PhoneNumber: remote,
		Direction:   dir,
		Body:        ev.Body,
		Status:      ev.Status,
		Segments:    ev.NumSegments,
		ErrorCode:   ev.ErrorCode,
		Metadata:    map[string]string{"our_number": number},
		CreatedAt:   ev.OccurredAt,
	}

	created, err := r.Store.Record(ctx, m)
	if err != nil {
		return err
	}
	log.Info("sms recorded", zap.String("tenant_id", snap.TenantID), zap.String("direction", string(dir)), zap.Bool("created", created))
	return nil
}
