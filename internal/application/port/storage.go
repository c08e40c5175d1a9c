package port

import (
	"context"
	"errors"
)

// ErrKeyNotFound is returned by DocumentStore.Get for an absent key
var ErrKeyNotFound = errors.New("key not found")

// KV is one entry returned by a prefix scan
type KV struct {
	Key   string
	Value []byte
}

// DocumentStore is the durable key-value map the core persists into.
// There are no transactions across keys.
type DocumentStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// ScanPrefix returns all entries whose key starts with prefix, ordered by key
	ScanPrefix(ctx context.Context, prefix string) ([]KV, error)
}

// Locker serializes work on a single key
type Locker interface {
	// Lock blocks until the key is held or ctx is done
	Lock(ctx context.Context, key string) (unlock func(), err error)
}
