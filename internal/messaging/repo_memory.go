package messaging

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-memory Store useful for tests and local development.
type MemoryStore struct {
	mu   sync.Mutex
	msgs map[string]Message
}

func NewMemoryStore() *MemoryStore { return &MemoryStore{msgs: map[string]Message{}} }

func (s *MemoryStore) Record(ctx context.Context, m Message) (bool, error) {
	_ = ctx
	if err := validate(m); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.msgs[m.MessageSID]; ok {
		if StatusRank(m.Status) <= StatusRank(existing.Status) {
			return false, nil
		}
		existing.Status = m.Status
		if m.ErrorCode != "" {
			existing.ErrorCode = m.ErrorCode
		}
		existing.UpdatedAt = m.CreatedAt
		s.msgs[m.MessageSID] = existing
		return false, nil
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.UpdatedAt = m.CreatedAt
	s.msgs[m.MessageSID] = m
	return true, nil
}

func (s *MemoryStore) Get(messageSID string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[messageSID]
	return m, ok
}
