package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Layr-Labs/nft-cosigner-go/pkg/persistence"
)

// MemoryPersistence is an in-memory implementation of IKeyValueStore.
// This implementation is intended for TESTING and local development ONLY.
//
// All data is stored in memory and will be lost when the process exits.
// Thread-safe using sync.RWMutex for concurrent access.
type MemoryPersistence struct {
	mu     sync.RWMutex
	values map[string]string
	closed bool
}

var _ persistence.IKeyValueStore = (*MemoryPersistence)(nil)

// NewMemoryPersistence creates a new in-memory store.
// Prints a loud warning since this should only be used for testing.
func NewMemoryPersistence() *MemoryPersistence {
	fmt.Println("⚠️  WARNING: Using in-memory persistence - ALL COLLECTIONS WILL BE LOST ON RESTART")
	fmt.Println("⚠️  Set COSIGN_STORE_TYPE=redis or COSIGN_STORE_TYPE=badger for production")

	return &MemoryPersistence{
		values: make(map[string]string),
	}
}

// Get returns the value stored under key.
func (m *MemoryPersistence) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return "", false, persistence.ErrClosed
	}

	value, exists := m.values[key]
	return value, exists, nil
}

// Put stores value under key.
func (m *MemoryPersistence) Put(_ context.Context, key string, value string) error {
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return persistence.ErrClosed
	}

	m.values[key] = value
	return nil
}

// List returns all keys with the given prefix, sorted so callers get a stable order.
func (m *MemoryPersistence) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, persistence.ErrClosed
	}

	keys := make([]string, 0)
	for key := range m.values {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	return keys, nil
}

// Close shuts down the store.
func (m *MemoryPersistence) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// HealthCheck verifies the store is operational.
func (m *MemoryPersistence) HealthCheck() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return persistence.ErrClosed
	}

	return nil
}
