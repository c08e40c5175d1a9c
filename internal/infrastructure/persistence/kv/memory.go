// Package kv implements port.DocumentStore over memory, SQLite and Redis.
package kv

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/garyjia/evoucher/internal/application/port"
)

// MemoryStore is a process-local DocumentStore
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Get returns a copy of the stored value
func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, port.ErrKeyNotFound
	}
	return cloneBytes(v), nil
}

// Set stores a copy of value
func (s *MemoryStore) Set(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = cloneBytes(value)
	return nil
}

// Delete removes key; deleting an absent key is not an error
func (s *MemoryStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// ScanPrefix returns matching entries ordered by key
func (s *MemoryStore) ScanPrefix(ctx context.Context, prefix string) ([]port.KV, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]port.KV, 0)
	for k, v := range s.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, port.KV{Key: k, Value: cloneBytes(v)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}
