package calls

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"voicegate/internal/usage"
)

// MemoryStore is an in-memory Store useful for tests and local development.
// A single mutex gives it the same atomicity the Postgres store gets from its transaction.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session
	ledger   usage.Ledger

	// FailWith, when set, is returned (wrapped) by every call to simulate an outage.
	FailWith error
	// Now stamps CreatedAt on new rows.
	Now func() time.Time
}

func NewMemoryStore(ledger usage.Ledger) *MemoryStore {
	return &MemoryStore{sessions: map[string]Session{}, ledger: ledger, Now: time.Now}
}

func (m *MemoryStore) now() time.Time {
	if m.Now == nil {
		return time.Now().UTC()
	}
	return m.Now().UTC()
}

func (m *MemoryStore) UpsertOnInitiation(ctx context.Context, in NewSession) (Session, bool, error) {
	_ = ctx
	if err := validateNew(in); err != nil {
		return Session{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return Session{}, false, wrapUnavailable(m.FailWith)
	}

	if existing, ok := m.sessions[in.CallID]; ok {
		return existing, false, nil
	}
	meta := make(map[string]string, len(in.Metadata))
	for k, v := range in.Metadata {
		meta[k] = v
	}
	s := Session{
		CallID:        in.CallID,
		TenantID:      in.TenantID,
		CallerNumber:  in.CallerNumber,
		CalledNumber:  in.CalledNumber,
		Direction:     in.Direction,
		Status:        StatusRinging,
		CarrierStatus: in.CarrierStatus,
		Billable:      in.Billable,
		StartedAt:     in.StartedAt,
		Metadata:      meta,
	}
	s.CreatedAt = m.now()
	s.UpdatedAt = s.CreatedAt
	m.sessions[in.CallID] = s
	return s, true, nil
}

func (m *MemoryStore) ApplyStatus(ctx context.Context, u StatusUpdate) (StatusResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return StatusResult{}, wrapUnavailable(m.FailWith)
	}

	s, ok := m.sessions[u.CallID]
	if !ok {
		return StatusResult{}, ErrSessionNotFound
	}
	res := StatusResult{TenantID: s.TenantID, Billable: s.Billable}

	next, advanced := Advance(s.Status, u.Status)
	res.Status, res.Advanced = next, advanced
	if !s.Status.Terminal() {
		s.CarrierStatus = u.CarrierStatus
		s.UpdatedAt = u.At
	}
	if advanced {
		s.Status = next
		if next.Terminal() && s.EndedAt == nil {
			at := u.At
			s.EndedAt = &at
		}
	}

	settle := s.Billable && u.Status.Terminal() && u.DurationSeconds != nil && s.DurationSeconds == nil && s.Status == u.Status
	if !settle {
		m.sessions[u.CallID] = s
		return res, nil
	}

	d := *u.DurationSeconds
	cost := u.Cost
	if s.EndedAt == nil {
		at := u.At
		s.EndedAt = &at
	}

	if u.Minutes > 0 {
		after, err := m.ledger.IncrementMinutes(ctx, s.TenantID, u.Minutes)
		if err != nil {
			// Nothing has been written yet; the session stays unsettled.
			return StatusResult{}, err
		}
		res.MinutesCharged = u.Minutes
		res.Usage = &after
	}

	s.DurationSeconds = &d
	s.CostAmount = &cost
	s.CostCurrency = strings.ToUpper(u.Currency)
	s.UpdatedAt = u.At
	m.sessions[u.CallID] = s
	res.Settled = true
	return res, nil
}

func (m *MemoryStore) Get(ctx context.Context, callID string) (Session, error) {
	_ = ctx
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return Session{}, wrapUnavailable(m.FailWith)
	}
	s, ok := m.sessions[callID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return s, nil
}

func (m *MemoryStore) List(ctx context.Context, f ListFilter) ([]Session, error) {
	_ = ctx
	if f.TenantID == "" {
		return nil, ErrInvalidSession
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWith != nil {
		return nil, wrapUnavailable(m.FailWith)
	}

	var out []Session
	for _, s := range m.sessions {
		if s.TenantID != f.TenantID {
			continue
		}
		if f.From != nil && s.StartedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && !s.StartedAt.Before(*f.To) {
			continue
		}
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if len(out) > f.limit() {
		out = out[:f.limit()]
	}
	return out, nil
}

// Len is the number of stored sessions.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
