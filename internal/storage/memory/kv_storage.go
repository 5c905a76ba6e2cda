// Package memory is a process-local storage backend for tests and single
// instance development runs. Nothing survives a restart.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/softwareproject/portal/internal/interfaces"
)

// KVStorage implements interfaces.KeyValueStorage with a guarded map.
type KVStorage struct {
	mu    sync.RWMutex
	items map[string]string
}

// NewKVStorage creates an empty store.
func NewKVStorage() *KVStorage {
	return &KVStorage{items: make(map[string]string)}
}

func (s *KVStorage) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.items[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", interfaces.ErrNotFound, key)
	}
	return v, nil
}

func (s *KVStorage) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = value
	return nil
}

func (s *KVStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

// Manager implements interfaces.StorageManager for the in-memory store.
type Manager struct {
	kv *KVStorage
}

// NewManager creates an in-memory storage manager.
func NewManager() *Manager {
	return &Manager{kv: NewKVStorage()}
}

func (m *Manager) KeyValueStorage() interfaces.KeyValueStorage { return m.kv }
func (m *Manager) Backend() string                             { return "memory" }
func (m *Manager) Close() error                                { return nil }
