package lock

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/evoucher/internal/application/port"
)

var (
	_ port.Locker = (*KeyedMutex)(nil)
	_ port.Locker = (*RedisLocker)(nil)
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	km := NewKeyedMutex()
	var inFlight, maxInFlight atomic.Int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := km.Lock(context.Background(), "ev-1")
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()

			n := inFlight.Add(1)
			for {
				m := maxInFlight.Load()
				if n <= m || maxInFlight.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inFlight.Add(-1)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInFlight.Load())
	assert.Equal(t, 0, km.size(), "entries should be released")
}

func TestKeyedMutex_DifferentKeysInParallel(t *testing.T) {
	km := NewKeyedMutex()

	unlockA, err := km.Lock(context.Background(), "ev-a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := km.Lock(ctx, "ev-b")
	require.NoError(t, err, "a different key must not wait")
	unlockB()
}

func TestKeyedMutex_ContextCancelled(t *testing.T) {
	km := NewKeyedMutex()

	unlock, err := km.Lock(context.Background(), "ev-1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = km.Lock(ctx, "ev-1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock() // idempotent
	assert.Equal(t, 0, km.size())

	unlock2, err := km.Lock(context.Background(), "ev-1")
	require.NoError(t, err)
	unlock2()
}

func TestRedisLocker(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	locker := NewRedisLocker(client, "evtest:lock:", time.Second, zap.NewNop())
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "ev-1")
	require.NoError(t, err)

	_, ok, err := locker.TryLock(ctx, "ev-1")
	require.NoError(t, err)
	assert.False(t, ok)

	// wrong token must not release
	require.NoError(t, locker.Release(ctx, "ev-1", "not-the-holder"))
	_, ok, err = locker.TryLock(ctx, "ev-1")
	require.NoError(t, err)
	assert.False(t, ok)

	unlock()

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	unlock2, err := locker.Lock(waitCtx, "ev-1")
	require.NoError(t, err)
	unlock2()
}

func TestRedisLocker_HeldPastTTL(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	locker := NewRedisLocker(client, "evtest:lock:", 300*time.Millisecond, zap.NewNop())
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "ev-ttl")
	require.NoError(t, err)

	time.Sleep(time.Second)
	_, ok, err := locker.TryLock(ctx, "ev-ttl")
	require.NoError(t, err)
	assert.False(t, ok, "a held lock must outlive its TTL")

	unlock()
	token, ok, err := locker.TryLock(ctx, "ev-ttl")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, locker.Release(ctx, "ev-ttl", token))

	extended, err := locker.Extend(ctx, "ev-ttl", token)
	require.NoError(t, err)
	assert.False(t, extended)
}

func TestRedisLocker_NotConfigured(t *testing.T) {
	var l *RedisLocker
	_, _, err := l.TryLock(context.Background(), "k")
	assert.Error(t, err)
	assert.NoError(t, l.Release(context.Background(), "k", "t"))
	_, err = l.Extend(context.Background(), "k", "t")
	assert.Error(t, err)
}
