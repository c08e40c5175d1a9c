package kv

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	redis "github.com/redis/go-redis/v9"

	"github.com/garyjia/evoucher/internal/application/port"
)

const scanBatch = 256

// RedisStore is a DocumentStore over plain Redis string keys. Every key is
// stored under namespace so several deployments can share one Redis.
type RedisStore struct {
	client    redis.UniversalClient
	namespace string
}

// NewRedisStore creates a store on client
func NewRedisStore(client redis.UniversalClient, namespace string) *RedisStore {
	return &RedisStore{client: client, namespace: namespace}
}

func (s *RedisStore) fullKey(key string) string {
	return s.namespace + key
}

// Get implements port.DocumentStore
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := s.client.Get(ctx, s.fullKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, port.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return v, nil
}

// Set implements port.DocumentStore
func (s *RedisStore) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.fullKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Delete implements port.DocumentStore
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.fullKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// ScanPrefix walks SCAN MATCH and returns entries ordered by key. Keys
// deleted between SCAN and MGET are skipped.
func (s *RedisStore) ScanPrefix(ctx context.Context, prefix string) ([]port.KV, error) {
	pattern := escapeGlob(s.fullKey(prefix)) + "*"

	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", prefix, err)
	}

	out := make([]port.KV, 0, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	sort.Strings(keys)

	// SCAN may return duplicates
	uniq := keys[:0]
	for i, k := range keys {
		if i == 0 || k != keys[i-1] {
			uniq = append(uniq, k)
		}
	}

	for start := 0; start < len(uniq); start += scanBatch {
		end := start + scanBatch
		if end > len(uniq) {
			end = len(uniq)
		}
		batch := uniq[start:end]
		values, err := s.client.MGet(ctx, batch...).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", prefix, err)
		}
		for i, v := range values {
			str, ok := v.(string)
			if !ok {
				continue
			}
			out = append(out, port.KV{
				Key:   strings.TrimPrefix(batch[i], s.namespace),
				Value: []byte(str),
			})
		}
	}
	return out, nil
}

func escapeGlob(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}
