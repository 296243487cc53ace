package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultLockTTL = 5 * time.Minute

// Lock keeps two server instances from fanning out the same tick.  Acquire
// returns an empty token when another holder has the lock; the token is
// handed back to Release, so concurrent ticks never share state.
type Lock interface {
	Acquire(ctx context.Context) (string, error)
	Release(ctx context.Context, token string) error
}

// NopLock always grants the lock.  Used when redis is not configured.
type NopLock struct{}

func (NopLock) Acquire(context.Context) (string, error) { return "local", nil }
func (NopLock) Release(context.Context, string) error   { return nil }

// releaseScript deletes the key only while it still holds the caller's
// token, so an expired lock taken over by another instance survives.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// lockClient is the subset of *redis.Client used by RedisLock.
type lockClient interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) *redis.BoolCmd
}

// RedisLock is a SETNX lease with a TTL.  Each acquisition gets its own
// uuid token.
type RedisLock struct {
	client lockClient
	key    string
	ttl    time.Duration
}

func NewRedisLock(client lockClient, key string, ttl time.Duration) (*RedisLock, error) {
	if client == nil {
		return nil, errors.New("redis client required for lock")
	}
	if key == "" {
		return nil, errors.New("lock key is required")
	}
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	return &RedisLock{client: client, key: key, ttl: ttl}, nil
}

func (l *RedisLock) Acquire(ctx context.Context) (string, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("setnx %s: %w", l.key, err)
	}
	if !ok {
		return "", nil
	}
	return token, nil
}

func (l *RedisLock) Release(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
		return fmt.Errorf("release %s: %w", l.key, err)
	}
	return nil
}
