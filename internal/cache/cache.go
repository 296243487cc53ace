// Package cache holds the availability cache: disposable projections of lot
// and spot listings.  The cache is advisory.  None of its operations return
// errors; a failing backend behaves like an empty cache.
package cache

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/parking-reservation/internal/config"
	"github.com/iliyamo/parking-reservation/internal/logger"
)

// Namespaces invalidated by every availability change.
const (
	LotsNamespace  = "lots:"
	SpotsNamespace = "spots:"
)

// LotsKey is the key of the full lot listing.
const LotsKey = LotsNamespace + "all"

// SpotsKey is the key of one lot's spot listing.
func SpotsKey(lotID uint64) string {
	return SpotsNamespace + strconv.FormatUint(lotID, 10)
}

// Cache is a key/value store with per-entry expiry.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Invalidate(ctx context.Context, key string)
	InvalidatePrefix(ctx context.Context, prefix string)
}

// Noop never stores anything.
type Noop struct{}

func (Noop) Get(context.Context, string) ([]byte, bool)         { return nil, false }
func (Noop) Set(context.Context, string, []byte, time.Duration) {}
func (Noop) Invalidate(context.Context, string)                 {}
func (Noop) InvalidatePrefix(context.Context, string)           {}

// New picks the backend for the configuration.  A nil client with the redis
// backend yields Noop, which is how an unreachable Redis degrades.
func New(cfg config.CacheConfig, client *redis.Client, logg *logger.Logger) Cache {
	if !cfg.Enabled {
		return Noop{}
	}
	switch cfg.Backend {
	case "memory":
		return NewMemory()
	case "redis":
		if client == nil {
			return Noop{}
		}
		return NewRedis(client, cfg.Prefix, logg)
	default:
		return Noop{}
	}
}
