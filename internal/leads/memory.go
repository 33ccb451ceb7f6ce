package leads

import (
	"context"
	"sync"
)

// Memory is an in-process Provider for tests and local development.
type Memory struct {
	mu    sync.RWMutex
	leads map[string]Lead
}

var _ Provider = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{leads: make(map[string]Lead)}
}

func (m *Memory) Put(lead Lead) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.leads[lead.ID] = lead
}

func (m *Memory) Get(_ context.Context, id string) (Lead, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	lead, ok := m.leads[id]
	if !ok {
		return Lead{}, ErrNotFound
	}
	return lead, nil
}
