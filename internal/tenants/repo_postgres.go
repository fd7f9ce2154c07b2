package tenants

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// PostgresDirectory resolves numbers with a single join over tenant_numbers and tenants.
type PostgresDirectory struct {
	DB *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{DB: db}
}

const resolveNumberSQL = `SELECT t.id, t.channel_mode, COALESCE(t.greeting, ''),
	t.trial_minutes_total, t.trial_minutes_used,
	t.paid_plan, t.paid_minutes_included, t.paid_minutes_used,
	t.billing_cycle_start, t.billing_cycle_end
FROM tenant_numbers n
JOIN tenants t ON t.id = n.tenant_id
WHERE n.number = $1 AND n.active AND t.status = 'active'`

func (d *PostgresDirectory) Resolve(ctx context.Context, number string, direction Direction) (Snapshot, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return Snapshot{}, ErrTenantNotFound
	}

	var (
		t            Tenant
		trialTotal   sql.NullInt64
		paidIncluded sql.NullInt64
		cycleStart   sql.NullTime
		cycleEnd     sql.NullTime
	)
	err := d.DB.QueryRowContext(ctx, resolveNumberSQL, number).Scan(
		&t.ID,
		&t.ChannelMode,
		&t.Greeting,
		&trialTotal,
		&t.TrialMinutesUsed,
		&t.PaidPlan,
		&paidIncluded,
		&t.PaidMinutesUsed,
		&cycleStart,
		&cycleEnd,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrTenantNotFound
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("resolve tenant number: %w", err)
	}

	if trialTotal.Valid {
		v := int(trialTotal.Int64)
		t.TrialMinutesTotal = &v
	}
	if paidIncluded.Valid {
		v := int(paidIncluded.Int64)
		t.PaidMinutesIncluded = &v
	}
	if cycleStart.Valid {
		t.BillingCycleStart = &cycleStart.Time
	}
	if cycleEnd.Valid {
		t.BillingCycleEnd = &cycleEnd.Time
	}
	return SnapshotOf(t, number, direction), nil
}
