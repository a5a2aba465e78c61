package keys

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrRotationLocked is returned by Rotate and Bootstrap when another rotation
// holds the lock. Nothing is written.
var ErrRotationLocked = errors.New("key rotation is locked by another process")

// DefaultLockTTL bounds how long a crashed holder keeps a RedisLock.
const DefaultLockTTL = 5 * time.Minute

// Locker serializes slot writes between rotators sharing one store.
type Locker interface {
	// TryLock takes the lock without waiting. It returns ErrRotationLocked
	// when the lock is held, and otherwise a func that releases it.
	TryLock(ctx context.Context) (unlock func(context.Context) error, err error)
}

// MemoryLock is a Locker for rotators in one process.
type MemoryLock struct {
	mu sync.Mutex
}

func (m *MemoryLock) TryLock(context.Context) (func(context.Context) error, error) {
	if !m.mu.TryLock() {
		return nil, ErrRotationLocked
	}
	return func(context.Context) error {
		m.mu.Unlock()
		return nil
	}, nil
}

// releaseScript deletes the lock key only while it still holds our token, so
// a holder whose TTL lapsed cannot release a lock someone else now owns.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLock is a Locker for rotators in separate processes sharing a Redis
// slot store. The key expires after ttl in case the holder dies.
type RedisLock struct {
	rdb *redis.Client
	key string
	ttl time.Duration
}

// NewRedisLock returns a lock held under key for at most ttl.
func NewRedisLock(rdb *redis.Client, key string, ttl time.Duration) (*RedisLock, error) {
	if rdb == nil {
		return nil, errors.New("redis client is required but was nil")
	}
	if key == "" {
		return nil, errors.New("lock key cannot be empty")
	}
	if ttl <= 0 {
		return nil, errors.New("lock ttl must be positive")
	}
	return &RedisLock{rdb: rdb, key: key, ttl: ttl}, nil
}

func (l *RedisLock) TryLock(ctx context.Context) (func(context.Context) error, error) {
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", l.key, err)
	}
	if !ok {
		return nil, ErrRotationLocked
	}
	return func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.rdb, []string{l.key}, token).Err(); err != nil {
			return fmt.Errorf("release %s: %w", l.key, err)
		}
		return nil
	}, nil
}
