package reporting

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"voicegate/internal/calls"
)

const statusTotalsSQL = `SELECT status,
	COUNT(*),
	COUNT(*) FILTER (WHERE billable),
	COALESCE(SUM(duration_seconds), 0),
	COALESCE(SUM(cost_amount), 0),
	COALESCE(MAX(cost_currency), '')
FROM call_sessions
WHERE tenant_id = $1 AND started_at >= $2 AND started_at < $3
GROUP BY status`

// PostgresRepo aggregates call_sessions in the database.
type PostgresRepo struct {
	DB *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{DB: db} }

func (r *PostgresRepo) StatusTotals(ctx context.Context, tenantID string, from, to time.Time) ([]StatusTotal, error) {
	rows, err := r.DB.QueryContext(ctx, statusTotalsSQL, tenantID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StatusTotal
	for rows.Next() {
		var (
			st     StatusTotal
			status string
		)
		if err := rows.Scan(&status, &st.Calls, &st.BillableCalls, &st.DurationSeconds, &st.Cost, &st.Currency); err != nil {
			return nil, err
		}
		st.Status = calls.Status(status)
		out = append(out, st)
	}
	return out, rows.Err()
}

// MemoryRepo is a simple in-memory reporting repository for tests and early development.
// It enforces tenant isolation on reads.

type MemoryRepo struct {
	mu sync.Mutex

	Calls []calls.Session
}

func NewMemoryRepo(sessions ...calls.Session) *MemoryRepo { return &MemoryRepo{Calls: sessions} }

func (r *MemoryRepo) StatusTotals(ctx context.Context, tenantID string, from, to time.Time) ([]StatusTotal, error) {
	_ = ctx
	if tenantID == "" {
		return nil, errors.New("tenant_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	byStatus := map[calls.Status]*StatusTotal{}
	var order []calls.Status
	for _, c := range r.Calls {
		if c.TenantID != tenantID {
			continue
		}
		if c.StartedAt.Before(from) || !c.StartedAt.Before(to) {
			continue
		}
		st, ok := byStatus[c.Status]
		if !ok {
			st = &StatusTotal{Status: c.Status, Cost: decimal.Zero}
			byStatus[c.Status] = st
			order = append(order, c.Status)
		}
		st.Calls++
		if c.Billable {
			st.BillableCalls++
		}
		if c.DurationSeconds != nil {
			st.DurationSeconds += *c.DurationSeconds
		}
		if c.CostAmount != nil {
			st.Cost = st.Cost.Add(*c.CostAmount)
		}
		if st.Currency == "" {
			st.Currency = c.CostCurrency
		}
	}

	out := make([]StatusTotal, 0, len(order))
	for _, s := range order {
		out = append(out, *byStatus[s])
	}
	return out, nil
}
