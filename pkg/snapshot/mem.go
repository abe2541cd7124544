package snapshot

import (
	"context"
	"sync"
)

// MemStore keeps snapshots in memory. Suitable for development and tests;
// snapshots do not survive a restart.
type MemStore struct {
	mu    sync.RWMutex
	snaps map[string][]byte
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{snaps: make(map[string][]byte)}
}

// Save implements Store.
func (m *MemStore) Save(ctx context.Context, snap *Snapshot) error {
	data, err := snap.Encode()
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.snaps[snap.Key] = data
	m.mu.Unlock()
	return nil
}

// Load implements Store.
func (m *MemStore) Load(ctx context.Context, key string) (*Snapshot, error) {
	m.mu.RLock()
	data, ok := m.snaps[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return Decode(data)
}

// Delete implements Store.
func (m *MemStore) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.snaps, key)
	m.mu.Unlock()
	return nil
}

// Len returns how many snapshots are stored.
func (m *MemStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.snaps)
}
