package calls

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"voicegate/internal/tenants"
	"voicegate/internal/usage"
	"voicegate/pkg/utils"
)

// PostgresStore keeps sessions in call_sessions. Minute increments go through
// Ledger inside the same transaction as the settlement write.
type PostgresStore struct {
	DB     *sql.DB
	Ledger usage.TxLedger
}

func NewPostgresStore(db *sql.DB, ledger usage.TxLedger) *PostgresStore {
	return &PostgresStore{DB: db, Ledger: ledger}
}

const sessionColumns = `call_id, tenant_id, caller_number, called_number, direction,
	status, carrier_status, billable, started_at, ended_at, duration_seconds,
	cost_amount, cost_currency, metadata, created_at, updated_at`

const insertSessionSQL = `INSERT INTO call_sessions (
	call_id, tenant_id, caller_number, called_number, direction,
	status, carrier_status, billable, started_at, metadata, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
ON CONFLICT (call_id) DO NOTHING
RETURNING ` + sessionColumns

const getSessionSQL = `SELECT ` + sessionColumns + ` FROM call_sessions WHERE call_id = $1`

const lockSessionSQL = `SELECT tenant_id, billable, status FROM call_sessions WHERE call_id = $1 FOR UPDATE`

const advanceStatusSQL = `UPDATE call_sessions SET
	status = $2,
	carrier_status = $3,
	ended_at = CASE WHEN $4 THEN COALESCE(ended_at, $5) ELSE ended_at END,
	updated_at = $5
WHERE call_id = $1`

const touchCarrierStatusSQL = `UPDATE call_sessions SET carrier_status = $2, updated_at = $3 WHERE call_id = $1`

// settleSessionSQL is the write-once guard: it only matches billable sessions while
// duration is unset and the stored status is the terminal status being reported.
// Blocked (non-billable) sessions keep duration and cost unset.
const settleSessionSQL = `UPDATE call_sessions SET
	duration_seconds = $2,
	ended_at = COALESCE(ended_at, $3),
	cost_amount = $4::numeric,
	cost_currency = $5,
	updated_at = $3
WHERE call_id = $1 AND billable AND duration_seconds IS NULL AND status = $6
RETURNING billable`

func (s *PostgresStore) UpsertOnInitiation(ctx context.Context, in NewSession) (Session, bool, error) {
	if err := validateNew(in); err != nil {
		return Session{}, false, err
	}
	if in.Metadata == nil {
		in.Metadata = map[string]string{}
	}
	meta, err := json.Marshal(in.Metadata)
	if err != nil {
		return Session{}, false, fmt.Errorf("encode session metadata: %w", err)
	}

	row := s.DB.QueryRowContext(ctx, insertSessionSQL,
		in.CallID,
		in.TenantID,
		in.CallerNumber,
		in.CalledNumber,
		string(in.Direction),
		string(StatusRinging),
		in.CarrierStatus,
		in.Billable,
		in.StartedAt,
		string(meta),
	)
	out, err := scanSession(row)
	if err == nil {
		return out, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Session{}, false, storeErr("upsert session", err)
	}

	// Conflict: a concurrent or earlier delivery already created the row.
	existing, err := s.Get(ctx, in.CallID)
	if err != nil {
		return Session{}, false, err
	}
	return existing, false, nil
}

func (s *PostgresStore) ApplyStatus(ctx context.Context, u StatusUpdate) (StatusResult, error) {
	var res StatusResult

	err := utils.WithTx(ctx, s.DB, nil, func(ctx context.Context, tx *sql.Tx) error {
		var current string
		err := tx.QueryRowContext(ctx, lockSessionSQL, u.CallID).Scan(&res.TenantID, &res.Billable, &current)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrSessionNotFound
		}
		if err != nil {
			return storeErr("lock session", err)
		}

		next, advanced := Advance(Status(current), u.Status)
		res.Status, res.Advanced = next, advanced
		switch {
		case advanced:
			if _, err := tx.ExecContext(ctx, advanceStatusSQL, u.CallID, string(next), u.CarrierStatus, next.Terminal(), u.At); err != nil {
				return storeErr("advance status", err)
			}
		case !Status(current).Terminal():
			if _, err := tx.ExecContext(ctx, touchCarrierStatusSQL, u.CallID, u.CarrierStatus, u.At); err != nil {
				return storeErr("record carrier status", err)
			}
		}

		if !u.Status.Terminal() || u.DurationSeconds == nil || !res.Billable {
			return nil
		}

		var billable bool
		err = tx.QueryRowContext(ctx, settleSessionSQL,
			u.CallID,
			*u.DurationSeconds,
			u.At,
			u.Cost.StringFixed(2),
			strings.ToUpper(u.Currency),
			string(u.Status),
		).Scan(&billable)
		if errors.Is(err, sql.ErrNoRows) {
			// Already settled, or a different terminal status won.
			return nil
		}
		if err != nil {
			return storeErr("settle session", err)
		}
		res.Settled = true

		if !billable || u.Minutes <= 0 {
			return nil
		}
		after, err := s.Ledger.IncrementMinutesTx(ctx, tx, res.TenantID, u.Minutes)
		if err != nil {
			return fmt.Errorf("increment usage: %w", err)
		}
		res.MinutesCharged = u.Minutes
		res.Usage = &after
		return nil
	})
	if err != nil {
		if utils.IsConnectionError(err) && !errors.Is(err, ErrStoreUnavailable) {
			err = wrapUnavailable(err)
		}
		return StatusResult{}, err
	}
	return res, nil
}

func (s *PostgresStore) Get(ctx context.Context, callID string) (Session, error) {
	out, err := scanSession(s.DB.QueryRowContext(ctx, getSessionSQL, callID))
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrSessionNotFound
	}
	if err != nil {
		return Session{}, storeErr("get session", err)
	}
	return out, nil
}

const listSessionsSQL = `SELECT ` + sessionColumns + ` FROM call_sessions
WHERE tenant_id = $1
	AND ($2::timestamptz IS NULL OR started_at >= $2)
	AND ($3::timestamptz IS NULL OR started_at < $3)
	AND ($4 = '' OR status = $4)
ORDER BY started_at DESC
LIMIT $5`

func (s *PostgresStore) List(ctx context.Context, f ListFilter) ([]Session, error) {
	if f.TenantID == "" {
		return nil, ErrInvalidSession
	}
	rows, err := s.DB.QueryContext(ctx, listSessionsSQL, f.TenantID, f.From, f.To, string(f.Status), f.limit())
	if err != nil {
		return nil, storeErr("list sessions", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, storeErr("scan session", err)
		}
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list sessions", err)
	}
	return out, nil
}

// storeErr marks connectivity failures with ErrStoreUnavailable. Statement errors
// pass through unmarked.
func storeErr(op string, err error) error {
	if utils.IsConnectionError(err) {
		return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (Session, error) {
	var (
		s         Session
		direction string
		status    string
		endedAt   sql.NullTime
		duration  sql.NullInt64
		cost      decimal.NullDecimal
		currency  sql.NullString
		meta      []byte
	)
	err := r.Scan(
		&s.CallID,
		&s.TenantID,
		&s.CallerNumber,
		&s.CalledNumber,
		&direction,
		&status,
		&s.CarrierStatus,
		&s.Billable,
		&s.StartedAt,
		&endedAt,
		&duration,
		&cost,
		&currency,
		&meta,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return Session{}, err
	}
	s.Direction = tenants.Direction(direction)
	s.Status = Status(status)
	if endedAt.Valid {
		s.EndedAt = &endedAt.Time
	}
	if duration.Valid {
		d := int(duration.Int64)
		s.DurationSeconds = &d
	}
	if cost.Valid {
		s.CostAmount = &cost.Decimal
	}
	s.CostCurrency = currency.String
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &s.Metadata); err != nil {
			return Session{}, fmt.Errorf("decode session metadata: %w", err)
		}
	}
	return s, nil
}
