package persistence

import (
	"context"
	"errors"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("persistence layer is closed")

// IKeyValueStore is the minimal key-value contract the service depends on.
// All implementations must be thread-safe; handlers call them concurrently.
//
// Values are UTF-8 strings. Each Put/Get is atomic per key; there are no
// multi-key transactions and concurrent writers to the same key race with
// last-writer-wins semantics.
type IKeyValueStore interface {
	// Get returns the value stored under key.
	// The bool is false when the key does not exist; error only on storage failure.
	Get(ctx context.Context, key string) (string, bool, error)

	// Put stores value under key, overwriting any previous value.
	Put(ctx context.Context, key string, value string) error

	// List returns every key starting with prefix. Order is backend defined.
	// Returns an empty slice if nothing matches.
	List(ctx context.Context, prefix string) ([]string, error)

	// Close cleanly shuts down the store. Idempotent.
	Close() error

	// HealthCheck verifies the store is operational. Called at startup to fail fast.
	HealthCheck() error
}
