package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"voicegate/internal/telephony"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.

type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records the webhook audit trail.
//
// IMPORTANT:
// - Audit is internal-only. Do not expose these records to tenant users.
// - Callers should treat audit logging as best-effort.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.Payload == nil {
		e.Payload = map[string]string{}
	}
	return s.repo.Append(ctx, e)
}

// RecordWebhook implements telephony.WebhookAuditor.
func (s *Service) RecordWebhook(ctx context.Context, rec telephony.WebhookRecord) error {
	return s.Append(ctx, Event{
		Type:      EventType(rec.EventType),
		TenantID:  rec.TenantID,
		CallID:    rec.CallID,
		MessageID: rec.MessageID,
		IPAddress: rec.ClientIP,
		Outcome:   rec.Outcome,
		Error:     rec.Error,
		Payload:   rec.Payload,
		CreatedAt: rec.ReceivedAt,
	})
}
