package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

const insertEventSQL = `INSERT INTO webhook_events (id, event_type, tenant_id, call_id, message_id, ip_address, outcome, error, payload, created_at)
VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7, NULLIF($8, ''), $9::jsonb, $10)`

// PostgresRepo appends to webhook_events.
type PostgresRepo struct {
	DB *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{DB: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return fmt.Errorf("audit: encode payload: %w", err)
	}
	if _, err := r.DB.ExecContext(ctx, insertEventSQL,
		e.ID, string(e.Type), e.TenantID, e.CallID, e.MessageID, e.IPAddress, e.Outcome, e.Error, string(payload), e.CreatedAt,
	); err != nil {
		return fmt.Errorf("audit: append: %w", err)
	}
	return nil
}
