package cache

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/parking-reservation/internal/config"
	"github.com/iliyamo/parking-reservation/internal/logger"
)

// fakeRedis is an in-memory redisStore.  When down is set every command
// fails the way a lost connection does.
type fakeRedis struct {
	mu   sync.Mutex
	data map[string][]byte
	ttls map[string]time.Duration
	down bool
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

var errConnRefused = errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return redis.NewStringResult("", errConnRefused)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(string(v), nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return redis.NewStatusResult("", errConnRefused)
	}
	f.data[key] = append([]byte(nil), value.([]byte)...)
	f.ttls[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return redis.NewIntResult(0, errConnRefused)
	}
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

// Scan returns one key per page to exercise cursor handling.
func (f *fakeRedis) Scan(_ context.Context, cursor uint64, match string, _ int64) *redis.ScanCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.down {
		return redis.NewScanCmdResult(nil, 0, errConnRefused)
	}
	prefix := strings.TrimSuffix(match, "*")
	var matched []string
	for k := range f.data {
		if strings.HasPrefix(k, prefix) {
			matched = append(matched, k)
		}
	}
	if len(matched) == 0 {
		return redis.NewScanCmdResult(nil, 0, nil)
	}
	next := cursor + 1
	if len(matched) == 1 {
		next = 0
	}
	return redis.NewScanCmdResult(matched[:1], next, nil)
}

func TestRedisCacheRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newFakeRedis()
	c := NewRedis(store, "parking", logger.Nop())

	_, ok := c.Get(ctx, LotsKey)
	assert.False(t, ok)

	c.Set(ctx, LotsKey, []byte(`[{"id":1}]`), time.Minute)
	got, ok := c.Get(ctx, LotsKey)
	require.True(t, ok)
	assert.Equal(t, `[{"id":1}]`, string(got))
	assert.Equal(t, time.Minute, store.ttls["parking:lots:all"])

	c.Invalidate(ctx, LotsKey)
	_, ok = c.Get(ctx, LotsKey)
	assert.False(t, ok)
}

func TestRedisInvalidatePrefixWalksCursor(t *testing.T) {
	ctx := context.Background()
	store := newFakeRedis()
	c := NewRedis(store, "parking", logger.Nop())

	c.Set(ctx, SpotsKey(1), []byte("a"), time.Minute)
	c.Set(ctx, SpotsKey(2), []byte("b"), time.Minute)
	c.Set(ctx, SpotsKey(3), []byte("c"), time.Minute)
	c.Set(ctx, LotsKey, []byte("lots"), time.Minute)

	c.InvalidatePrefix(ctx, SpotsNamespace)

	for _, id := range []uint64{1, 2, 3} {
		_, ok := c.Get(ctx, SpotsKey(id))
		assert.False(t, ok, "spots key %d should be gone", id)
	}
	_, ok := c.Get(ctx, LotsKey)
	assert.True(t, ok, "other namespaces are untouched")
}

func TestRedisDegradesWhenBackendDown(t *testing.T) {
	ctx := context.Background()
	store := newFakeRedis()
	buf := &bytes.Buffer{}
	c := NewRedis(store, "parking", logger.New(logger.Options{Output: buf, Format: "json"}))
	c.Set(ctx, LotsKey, []byte("x"), time.Minute)

	store.down = true
	_, ok := c.Get(ctx, LotsKey)
	assert.False(t, ok)
	c.Set(ctx, LotsKey, []byte("y"), time.Minute)
	c.Invalidate(ctx, LotsKey)
	c.InvalidatePrefix(ctx, LotsNamespace)

	assert.Contains(t, buf.String(), "connection refused")
	assert.Contains(t, buf.String(), `"level":"warn"`)
}

func TestMemoryExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemory()
	m.now = func() time.Time { return now }

	m.Set(ctx, SpotsKey(4), []byte("spots"), 30*time.Second)
	_, ok := m.Get(ctx, SpotsKey(4))
	assert.True(t, ok)

	now = now.Add(30 * time.Second)
	_, ok = m.Get(ctx, SpotsKey(4))
	assert.False(t, ok, "entries expire at their ttl")
	assert.Zero(t, m.Len())
}

func TestMemoryInvalidatePrefix(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.Set(ctx, LotsKey, []byte("l"), time.Minute)
	m.Set(ctx, SpotsKey(1), []byte("s1"), time.Minute)
	m.Set(ctx, SpotsKey(12), []byte("s12"), time.Minute)

	m.InvalidatePrefix(ctx, SpotsNamespace)
	assert.Equal(t, 1, m.Len())
	_, ok := m.Get(ctx, LotsKey)
	assert.True(t, ok)
}

func TestNewSelectsBackend(t *testing.T) {
	assert.IsType(t, Noop{}, New(config.CacheConfig{Enabled: false, Backend: "memory"}, nil, nil))
	assert.IsType(t, &Memory{}, New(config.CacheConfig{Enabled: true, Backend: "memory"}, nil, nil))
	assert.IsType(t, Noop{}, New(config.CacheConfig{Enabled: true, Backend: "redis"}, nil, nil))
	assert.IsType(t, &Redis{}, New(config.CacheConfig{Enabled: true, Backend: "redis"}, redis.NewClient(&redis.Options{}), nil))
}

func TestNoopNeverHits(t *testing.T) {
	var c Cache = Noop{}
	c.Set(context.Background(), LotsKey, []byte("x"), time.Minute)
	_, ok := c.Get(context.Background(), LotsKey)
	assert.False(t, ok)
}
