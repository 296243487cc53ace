package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/parking-reservation/internal/config"
	apperrors "github.com/iliyamo/parking-reservation/internal/errors"
	"github.com/iliyamo/parking-reservation/internal/utils"
)

const secret = "test-secret"

func newContext(header string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/v1/reservations", nil)
	if header != "" {
		req.Header.Set(echo.HeaderAuthorization, header)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetPath("/v1/reservations")
	return c, rec
}

func ok(c echo.Context) error { return c.NoContent(http.StatusNoContent) }

func TestJWTAuthStoresClaims(t *testing.T) {
	tok, err := utils.NewAccessToken(secret, 42, "USER", 5)
	require.NoError(t, err)
	c, rec := newContext("Bearer " + tok.Token)

	require.NoError(t, JWTAuth(secret)(ok)(c))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	uid, found := UserID(c)
	assert.True(t, found)
	assert.Equal(t, uint64(42), uid)
	assert.Equal(t, "USER", Role(c))
}

func TestJWTAuthRejects(t *testing.T) {
	expired := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": 1, "role": "USER", "exp": time.Now().Add(-time.Minute).Unix(),
	})
	expiredRaw, err := expired.SignedString([]byte(secret))
	require.NoError(t, err)

	noExp := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": 1, "role": "USER"})
	noExpRaw, err := noExp.SignedString([]byte(secret))
	require.NoError(t, err)

	wrongKey, err := utils.NewAccessToken("other", 1, "USER", 5)
	require.NoError(t, err)

	cases := map[string]string{
		"missing":    "",
		"not bearer": "Basic abc",
		"garbage":    "Bearer not-a-jwt",
		"expired":    "Bearer " + expiredRaw,
		"no exp":     "Bearer " + noExpRaw,
		"wrong key":  "Bearer " + wrongKey.Token,
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			c, _ := newContext(header)
			err := JWTAuth(secret)(ok)(c)
			assert.True(t, apperrors.IsCode(err, apperrors.CodeUnauthorized), "got %v", err)
		})
	}
}

func TestRequireRole(t *testing.T) {
	c, _ := newContext("")
	c.Set(KeyRole, "USER")
	assert.NoError(t, RequireRole("USER", "ADMIN")(ok)(c))

	c, _ = newContext("")
	c.Set(KeyRole, "USER")
	assert.True(t, apperrors.IsCode(RequireRole("ADMIN")(ok)(c), apperrors.CodeForbidden))

	c, _ = newContext("")
	assert.True(t, apperrors.IsCode(RequireRole("ADMIN")(ok)(c), apperrors.CodeForbidden))
}

// bucketFake emulates the token bucket script with a fixed capacity and no
// refill.
type bucketFake struct {
	mu     sync.Mutex
	tokens map[string]int64
	cap    int64
	fail   bool
}

func (b *bucketFake) run(keys []string) *redis.Cmd {
	if b.fail {
		return redis.NewCmdResult(nil, context.DeadlineExceeded)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	left, seen := b.tokens[keys[0]]
	if !seen {
		left = b.cap
	}
	if left == 0 {
		return redis.NewCmdResult([]any{int64(0), int64(0), int64(1500)}, nil)
	}
	left--
	b.tokens[keys[0]] = left
	return redis.NewCmdResult([]any{int64(1), left, int64(0)}, nil)
}

func (b *bucketFake) Eval(_ context.Context, _ string, keys []string, _ ...any) *redis.Cmd {
	return b.run(keys)
}

func (b *bucketFake) EvalSha(_ context.Context, _ string, keys []string, _ ...any) *redis.Cmd {
	return b.run(keys)
}

func (b *bucketFake) EvalRO(_ context.Context, _ string, keys []string, _ ...any) *redis.Cmd {
	return b.run(keys)
}

func (b *bucketFake) EvalShaRO(_ context.Context, _ string, keys []string, _ ...any) *redis.Cmd {
	return b.run(keys)
}

func (b *bucketFake) ScriptExists(context.Context, ...string) *redis.BoolSliceCmd {
	return redis.NewBoolSliceResult([]bool{true}, nil)
}

func (b *bucketFake) ScriptLoad(context.Context, string) *redis.StringCmd {
	return redis.NewStringResult("sha", nil)
}

func rateConfig() config.RateLimitConfig {
	return config.RateLimitConfig{
		Enabled:        true,
		Capacity:       2,
		RefillTokens:   1,
		RefillInterval: time.Second,
		TTL:            time.Minute,
		KeyStrategy:    "user_route",
		Prefix:         "rl",
	}
}

func TestRateLimitBlocksAfterCapacity(t *testing.T) {
	fake := &bucketFake{tokens: map[string]int64{}, cap: 2}
	mw := RateLimit(rateConfig(), fake, nil)

	for i := 0; i < 2; i++ {
		c, rec := newContext("")
		c.Set(KeyUserID, uint64(9))
		require.NoError(t, mw(ok)(c))
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	}

	c, rec := newContext("")
	c.Set(KeyUserID, uint64(9))
	err := mw(ok)(c)
	assert.True(t, apperrors.IsCode(err, apperrors.CodeRateLimited))
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
	assert.Contains(t, fake.tokens, "rl:user:9:route:GET /v1/reservations")

	// Other users keep their own bucket.
	c, _ = newContext("")
	c.Set(KeyUserID, uint64(10))
	assert.NoError(t, mw(ok)(c))
}

func TestRateLimitFailsOpen(t *testing.T) {
	mw := RateLimit(rateConfig(), &bucketFake{fail: true}, nil)
	c, rec := newContext("")
	require.NoError(t, mw(ok)(c))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRateLimitDisabled(t *testing.T) {
	cfg := rateConfig()
	cfg.Enabled = false
	c, _ := newContext("")
	assert.NoError(t, RateLimit(cfg, &bucketFake{tokens: map[string]int64{}}, nil)(ok)(c))
	assert.NoError(t, RateLimit(rateConfig(), nil, nil)(ok)(c))
}
