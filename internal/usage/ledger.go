package usage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"voicegate/pkg/utils"
)

// Usage is a tenant's counters right after an increment.
type Usage struct {
	TenantID string
	PaidPlan bool

	TrialMinutesTotal *int
	TrialMinutesUsed  int

	PaidMinutesIncluded *int
	PaidMinutesUsed     int
}

// OverageMinutes reports paid-plan minutes past the included allotment.
// Informational only: nothing in this service blocks or bills on it.
func (u Usage) OverageMinutes() int {
	if !u.PaidPlan || u.PaidMinutesIncluded == nil || u.PaidMinutesUsed <= *u.PaidMinutesIncluded {
		return 0
	}
	return u.PaidMinutesUsed - *u.PaidMinutesIncluded
}

var (
	ErrUnknownTenant  = errors.New("usage: unknown tenant")
	ErrInvalidMinutes = errors.New("usage: minutes must be > 0")
)

// Ledger increments minute counters. It does not deduplicate; callers guard
// against replays (the call session's write-once settlement does).
type Ledger interface {
	IncrementMinutes(ctx context.Context, tenantID string, minutes int) (Usage, error)
}

// TxLedger is a Ledger that can join a caller's transaction, so the increment
// commits or rolls back together with whatever guarded it.
type TxLedger interface {
	Ledger
	IncrementMinutesTx(ctx context.Context, tx *sql.Tx, tenantID string, minutes int) (Usage, error)
}

// PostgresLedger keeps counters on the tenants row.
// Trial tenants accrue trial minutes; paid tenants accrue paid minutes.
type PostgresLedger struct {
	DB *sql.DB
}

func NewPostgresLedger(db *sql.DB) *PostgresLedger {
	return &PostgresLedger{DB: db}
}

const incrementMinutesSQL = `UPDATE tenants SET
	trial_minutes_used = trial_minutes_used + CASE WHEN paid_plan THEN 0 ELSE $2 END,
	paid_minutes_used = paid_minutes_used + CASE WHEN paid_plan THEN $2 ELSE 0 END,
	updated_at = now()
WHERE id = $1
RETURNING id, paid_plan, trial_minutes_total, trial_minutes_used, paid_minutes_included, paid_minutes_used`

func (l *PostgresLedger) IncrementMinutes(ctx context.Context, tenantID string, minutes int) (Usage, error) {
	return increment(ctx, l.DB, tenantID, minutes)
}

func (l *PostgresLedger) IncrementMinutesTx(ctx context.Context, tx *sql.Tx, tenantID string, minutes int) (Usage, error) {
	return increment(ctx, tx, tenantID, minutes)
}

func increment(ctx context.Context, q utils.Querier, tenantID string, minutes int) (Usage, error) {
	if minutes <= 0 {
		return Usage{}, ErrInvalidMinutes
	}

	var (
		u            Usage
		trialTotal   sql.NullInt64
		paidIncluded sql.NullInt64
	)
	err := q.QueryRowContext(ctx, incrementMinutesSQL, tenantID, minutes).Scan(
		&u.TenantID,
		&u.PaidPlan,
		&trialTotal,
		&u.TrialMinutesUsed,
		&paidIncluded,
		&u.PaidMinutesUsed,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Usage{}, ErrUnknownTenant
	}
	if err != nil {
		return Usage{}, fmt.Errorf("increment minutes: %w", err)
	}
	u.TrialMinutesTotal = nullIntPtr(trialTotal)
	u.PaidMinutesIncluded = nullIntPtr(paidIncluded)
	return u, nil
}

func nullIntPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
