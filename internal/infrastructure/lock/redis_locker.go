package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const lockReleaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const lockExtendScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`

const (
	defaultLockTTL   = 30 * time.Second
	defaultRetryWait = 25 * time.Millisecond
	maxRetryWait     = 500 * time.Millisecond
)

// RedisLocker serializes a key across processes with SET NX and a
// token-checked release. The TTL bounds how long a crashed holder blocks others;
// a live holder refreshes it every ttl/3 until it unlocks.
type RedisLocker struct {
	client redis.UniversalClient
	script *redis.Script
	extend *redis.Script
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisLocker creates a locker on client. Keys are stored as prefix+key.
func NewRedisLocker(client redis.UniversalClient, prefix string, ttl time.Duration, logger *zap.Logger) *RedisLocker {
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisLocker{
		client: client,
		script: redis.NewScript(lockReleaseScript),
		extend: redis.NewScript(lockExtendScript),
		prefix: prefix,
		ttl:    ttl,
		logger: logger,
	}
}

// TryLock makes one acquisition attempt and returns the holder token
func (l *RedisLocker) TryLock(ctx context.Context, key string) (string, bool, error) {
	if l == nil || l.client == nil {
		return "", false, errors.New("lock client not configured")
	}
	if key == "" {
		return "", false, errors.New("lock key is empty")
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.prefix+key, token, l.ttl).Result()
	if err != nil {
		return "", false, err
	}
	return token, ok, nil
}

// Release deletes the key only if token still holds it
func (l *RedisLocker) Release(ctx context.Context, key, token string) error {
	if l == nil || l.client == nil || key == "" || token == "" {
		return nil
	}
	return l.script.Run(ctx, l.client, []string{l.prefix + key}, token).Err()
}

// Extend resets the TTL of key if token still holds it
func (l *RedisLocker) Extend(ctx context.Context, key, token string) (bool, error) {
	if l == nil || l.client == nil || key == "" || token == "" {
		return false, errors.New("lock client not configured")
	}
	n, err := l.extend.Run(ctx, l.client, []string{l.prefix + key}, token, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// keepAlive extends the lock until stop is closed or the token is lost
func (l *RedisLocker) keepAlive(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			ok, err := l.Extend(ctx, key, token)
			cancel()
			if err != nil {
				l.logger.Error("Failed to extend lock", zap.String("key", key), zap.Error(err))
				continue
			}
			if !ok {
				l.logger.Error("Lock lost before release", zap.String("key", key))
				return
			}
		}
	}
}

// Lock implements port.Locker by polling TryLock with capped backoff
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	wait := defaultRetryWait
	for {
		token, ok, err := l.TryLock(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lock %s: %w", key, err)
		}
		if ok {
			stop := make(chan struct{})
			done := make(chan struct{})
			go l.keepAlive(key, token, stop, done)
			return func() {
				close(stop)
				<-done
				// release must run even if the caller's ctx is already done
				releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				if err := l.Release(releaseCtx, key, token); err != nil {
					l.logger.Error("Failed to release lock", zap.String("key", key), zap.Error(err))
				}
			}, nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		if wait *= 2; wait > maxRetryWait {
			wait = maxRetryWait
		}
	}
}
