package tenants

import (
	"context"
	"sync"

	"voicegate/internal/usage"
)

// MemoryRepo is an in-memory tenant store useful for tests and local development.
// It serves as both the Directory and the usage Ledger.
type MemoryRepo struct {
	mu      sync.Mutex
	tenants map[string]Tenant
	numbers map[string]string // number -> tenant id

	Invalidations []string
}

func NewMemoryRepo(ts ...Tenant) *MemoryRepo {
	r := &MemoryRepo{tenants: map[string]Tenant{}, numbers: map[string]string{}}
	for _, t := range ts {
		r.Put(t)
	}
	return r
}

// Put inserts or replaces a tenant and routes its numbers to it.
func (r *MemoryRepo) Put(t Tenant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.Status == "" {
		t.Status = StatusActive
	}
	r.tenants[t.ID] = t
	for _, n := range t.Numbers {
		r.numbers[n] = t.ID
	}
}

func (r *MemoryRepo) Get(id string) (Tenant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tenants[id]
	return t, ok
}

func (r *MemoryRepo) Resolve(ctx context.Context, number string, direction Direction) (Snapshot, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.numbers[number]
	if !ok {
		return Snapshot{}, ErrTenantNotFound
	}
	t, ok := r.tenants[id]
	if !ok || t.Status != StatusActive {
		return Snapshot{}, ErrTenantNotFound
	}
	return SnapshotOf(t, number, direction), nil
}

func (r *MemoryRepo) IncrementMinutes(ctx context.Context, tenantID string, minutes int) (usage.Usage, error) {
	_ = ctx
	if minutes <= 0 {
		return usage.Usage{}, usage.ErrInvalidMinutes
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tenants[tenantID]
	if !ok {
		return usage.Usage{}, usage.ErrUnknownTenant
	}
	if t.PaidPlan {
		t.PaidMinutesUsed += minutes
	} else {
		t.TrialMinutesUsed += minutes
	}
	r.tenants[tenantID] = t

	return usage.Usage{
		TenantID:            t.ID,
		PaidPlan:            t.PaidPlan,
		TrialMinutesTotal:   t.TrialMinutesTotal,
		TrialMinutesUsed:    t.TrialMinutesUsed,
		PaidMinutesIncluded: t.PaidMinutesIncluded,
		PaidMinutesUsed:     t.PaidMinutesUsed,
	}, nil
}

func (r *MemoryRepo) Invalidate(ctx context.Context, tenantID string) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Invalidations = append(r.Invalidations, tenantID)
	return nil
}
