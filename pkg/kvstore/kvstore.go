// Package kvstore is the key-value persistence surface used for session state.
// Values are opaque strings; callers own the encoding.
package kvstore

import (
	"context"
	"sync"
)

// Store gets, sets and removes string values by key
type Store interface {
	// Get returns the value and whether it exists
	Get(ctx context.Context, key string) (string, bool, error)
	// Set overwrites the value atomically
	Set(ctx context.Context, key, value string) error
	// Remove deletes the key; removing a missing key is not an error
	Remove(ctx context.Context, key string) error
}

// MemoryStore keeps values in process memory
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryStore) Remove(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}
