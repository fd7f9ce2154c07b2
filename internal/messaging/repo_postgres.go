package messaging

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// upsertMessageSQL reports whether the row was inserted via the xmax system column.
// A conflicting callback whose status does not outrank the stored one updates
// nothing and returns no row.
const upsertMessageSQL = `INSERT INTO sms_logs (
	id, tenant_id, message_sid, phone_number, direction, body, status, status_rank, segments, error_code, metadata, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NULLIF($10, ''), $11::jsonb, $12, $12)
ON CONFLICT (message_sid) DO UPDATE SET
	status = EXCLUDED.status,
	status_rank = EXCLUDED.status_rank,
	error_code = COALESCE(EXCLUDED.error_code, sms_logs.error_code),
	updated_at = EXCLUDED.updated_at
WHERE sms_logs.status_rank < EXCLUDED.status_rank
RETURNING (xmax = 0) AS inserted`

type PostgresStore struct {
	DB *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore { return &PostgresStore{DB: db} }

func (s *PostgresStore) Record(ctx context.Context, m Message) (bool, error) {
	if err := validate(m); err != nil {
		return false, err
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.Metadata == nil {
		m.Metadata = map[string]string{}
	}
	meta, err := json.Marshal(m.Metadata)
	if err != nil {
		return false, fmt.Errorf("messaging: encode metadata: %w", err)
	}

	var inserted bool
	err = s.DB.QueryRowContext(ctx, upsertMessageSQL,
		m.ID, m.TenantID, m.MessageSID, m.PhoneNumber, string(m.Direction), m.Body, m.Status, StatusRank(m.Status), m.Segments, m.ErrorCode, string(meta), m.CreatedAt,
	).Scan(&inserted)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("messaging: record: %w", err)
	}
	return inserted, nil
}
