package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/parking-reservation/internal/logger"
)

// redisStore is the subset of go-redis used by Redis.  *redis.Client
// satisfies it.
type redisStore interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

const scanBatch = 200

// Redis stores entries in Redis under "<prefix>:<key>".  Every backend
// error is logged and treated as a miss.
type Redis struct {
	client redisStore
	prefix string
	logg   *logger.Logger
}

func NewRedis(client redisStore, prefix string, logg *logger.Logger) *Redis {
	if logg == nil {
		logg = logger.Nop()
	}
	if prefix != "" {
		prefix += ":"
	}
	return &Redis{client: client, prefix: prefix, logg: logg}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.warn(ctx, "cache get failed", key, err)
		}
		return nil, false
	}
	return val, true
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if err := r.client.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		r.warn(ctx, "cache set failed", key, err)
	}
}

func (r *Redis) Invalidate(ctx context.Context, key string) {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		r.warn(ctx, "cache invalidate failed", key, err)
	}
}

// InvalidatePrefix deletes every key under prefix.  SCAN is used instead
// of KEYS so a large keyspace never blocks the server.
func (r *Redis) InvalidatePrefix(ctx context.Context, prefix string) {
	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+prefix+"*", scanBatch).Result()
		if err != nil {
			r.warn(ctx, "cache scan failed", prefix, err)
			return
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				r.warn(ctx, "cache invalidate failed", prefix, err)
				return
			}
		}
		if next == 0 {
			return
		}
		cursor = next
	}
}

func (r *Redis) warn(ctx context.Context, msg, key string, err error) {
	r.logg.WarnErr(r.logg.WithField(ctx, "cache_key", key), msg, err)
}
