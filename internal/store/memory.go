package store

import (
	"context"
	"sync"

	"meetingalert/internal/types"
)

// MemoryStore keeps the table in process memory. It satisfies the port but
// is not durable; use it for local runs and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	alerts []types.ScheduledAlert
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Save(_ context.Context, alerts []types.ScheduledAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append([]types.ScheduledAlert(nil), alerts...)
	return nil
}

func (s *MemoryStore) Load(_ context.Context) ([]types.ScheduledAlert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]types.ScheduledAlert(nil), s.alerts...), nil
}
