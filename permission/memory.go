package permission

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store guarded by a single RWMutex.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	userGen map[string]uint64
	global  uint64
	now     func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]*Entry),
		userGen: make(map[string]uint64),
		now:     time.Now,
	}
}

func (m *MemoryStore) Load(_ context.Context, userID string) (*Entry, Generation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	gen := Generation{Global: m.global, User: m.userGen[userID]}
	e, ok := m.entries[userID]
	if !ok || e.Expired(m.now()) {
		return nil, gen, nil
	}
	return e, gen, nil
}

func (m *MemoryStore) Fill(_ context.Context, e *Entry, gen Generation) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.global != gen.Global || m.userGen[e.UserID] != gen.User {
		return false, nil
	}
	m.entries[e.UserID] = e
	return true, nil
}

func (m *MemoryStore) Delete(_ context.Context, userIDs ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range userIDs {
		delete(m.entries, id)
		m.userGen[id]++
	}
	return nil
}

func (m *MemoryStore) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = make(map[string]*Entry)
	m.userGen = make(map[string]uint64)
	m.global++
	return nil
}

func (m *MemoryStore) Len(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries), nil
}
