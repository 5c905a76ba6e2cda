package interfaces

import (
	"context"
	"errors"
)

// ErrNotFound is returned by KeyValueStorage.Get when a key is absent.
var ErrNotFound = errors.New("key not found")

// StorageManager owns a storage backend for the lifetime of the process.
// Implementations can be swapped (BadgerDB, Redis, in-memory).
type StorageManager interface {
	KeyValueStorage() KeyValueStorage
	Backend() string
	Close() error
}

// KeyValueStorage provides basic key-value operations.
type KeyValueStorage interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}
