package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/parking-reservation/internal/jobs"
	"github.com/iliyamo/parking-reservation/internal/metrics"
	"github.com/iliyamo/parking-reservation/internal/model"
)

type fakeSubmitter struct {
	mu      sync.Mutex
	reqs    []jobs.Request
	failFor string
}

func (f *fakeSubmitter) Submit(_ context.Context, req jobs.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req.AdminEmail == f.failFor {
		return "", errors.New("queue full")
	}
	f.reqs = append(f.reqs, req)
	return "job-" + req.AdminEmail, nil
}

func (f *fakeSubmitter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reqs)
}

type fakeAdmins struct {
	users []model.User
	err   error
}

func (f fakeAdmins) ListAdmins(context.Context) ([]model.User, error) { return f.users, f.err }

type heldLock struct{}

func (heldLock) Acquire(context.Context) (string, error) { return "", nil }
func (heldLock) Release(context.Context, string) error   { return nil }

func admins(emails ...string) fakeAdmins {
	var out []model.User
	for i, e := range emails {
		out = append(out, model.User{ID: uint64(i + 1), Email: e, Role: model.RoleAdmin})
	}
	return fakeAdmins{users: out}
}

func TestTickQueuesOneReportPerAdmin(t *testing.T) {
	sub := &fakeSubmitter{}
	s, err := New(Params{Submitter: sub, Admins: admins("a@example.com", "b@example.com")})
	require.NoError(t, err)

	out := s.Tick(context.Background())
	assert.Equal(t, StatusQueued, out.Status)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, out.Recipients)
	assert.Equal(t, []string{"job-a@example.com", "job-b@example.com"}, out.JobIDs)
	require.Len(t, sub.reqs, 2)
	assert.Equal(t, model.JobGenerateReport, sub.reqs[0].Kind)
}

func TestTickWarnsWithoutAdmins(t *testing.T) {
	sub := &fakeSubmitter{}
	reg := prometheus.NewRegistry()
	s, err := New(Params{Submitter: sub, Admins: fakeAdmins{}, Metrics: metrics.NewSchedulerMetrics(reg)})
	require.NoError(t, err)

	out := s.Tick(context.Background())
	assert.Equal(t, StatusWarning, out.Status)
	assert.Equal(t, "No admin email configured", out.Message)
	assert.Zero(t, sub.count())

	families, err := reg.Gather()
	require.NoError(t, err)
	require.Len(t, families, 1)
	require.Len(t, families[0].GetMetric(), 1)
	assert.Equal(t, float64(1), families[0].GetMetric()[0].GetCounter().GetValue())
}

func TestTickReportsPartialSubmitFailure(t *testing.T) {
	sub := &fakeSubmitter{failFor: "b@example.com"}
	s, err := New(Params{Submitter: sub, Admins: admins("a@example.com", "b@example.com", "c@example.com")})
	require.NoError(t, err)

	out := s.Tick(context.Background())
	assert.Equal(t, StatusError, out.Status)
	assert.Contains(t, out.Message, "b@example.com")
	assert.Equal(t, []string{"a@example.com", "c@example.com"}, out.Recipients)
}

func TestTickSkipsWhenLockHeld(t *testing.T) {
	sub := &fakeSubmitter{}
	s, err := New(Params{Submitter: sub, Admins: admins("a@example.com"), Lock: heldLock{}})
	require.NoError(t, err)

	out := s.Tick(context.Background())
	assert.Equal(t, StatusSkipped, out.Status)
	assert.Zero(t, sub.count())
}

func TestTickListFailure(t *testing.T) {
	s, err := New(Params{Submitter: &fakeSubmitter{}, Admins: fakeAdmins{err: errors.New("db down")}})
	require.NoError(t, err)
	assert.Equal(t, StatusError, s.Tick(context.Background()).Status)
}

func TestRunDoesNotFireImmediately(t *testing.T) {
	sub := &fakeSubmitter{}
	s, err := New(Params{Submitter: sub, Admins: admins("a@example.com"), Interval: 20 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	assert.Zero(t, sub.count())
	require.Eventually(t, func() bool { return sub.count() >= 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Params{Admins: fakeAdmins{}})
	assert.Error(t, err)
	_, err = New(Params{Submitter: &fakeSubmitter{}})
	assert.Error(t, err)
}

// fakeRedis keeps lock keys in memory and evaluates the release script's
// compare-and-delete.
type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
}

func (f *fakeRedis) SetNX(_ context.Context, key string, value any, _ time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.data[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) compareAndDelete(keys []string, args []any) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.data[keys[0]]; ok && v == args[0] {
		delete(f.data, keys[0])
		return redis.NewCmdResult(int64(1), nil)
	}
	return redis.NewCmdResult(int64(0), nil)
}

func (f *fakeRedis) Eval(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	return f.compareAndDelete(keys, args)
}

func (f *fakeRedis) EvalSha(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	return f.compareAndDelete(keys, args)
}

func (f *fakeRedis) EvalRO(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	return f.compareAndDelete(keys, args)
}

func (f *fakeRedis) EvalShaRO(_ context.Context, _ string, keys []string, args ...any) *redis.Cmd {
	return f.compareAndDelete(keys, args)
}

func (f *fakeRedis) ScriptExists(context.Context, ...string) *redis.BoolSliceCmd {
	return redis.NewBoolSliceResult([]bool{true}, nil)
}

func (f *fakeRedis) ScriptLoad(context.Context, string) *redis.StringCmd {
	return redis.NewStringResult("sha", nil)
}

func (f *fakeRedis) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[key]
	return ok
}

const lockKey = "parking:scheduler:lock"

func TestRedisLockExcludesSecondOwner(t *testing.T) {
	ctx := context.Background()
	store := &fakeRedis{data: map[string]string{}}
	first, err := NewRedisLock(store, lockKey, time.Minute)
	require.NoError(t, err)
	second, err := NewRedisLock(store, lockKey, time.Minute)
	require.NoError(t, err)

	held, err := first.Acquire(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, held)

	token, err := second.Acquire(ctx)
	require.NoError(t, err)
	assert.Empty(t, token)

	require.NoError(t, second.Release(ctx, token))
	assert.True(t, store.has(lockKey))

	require.NoError(t, first.Release(ctx, held))
	assert.False(t, store.has(lockKey))

	token, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
}

func TestRedisLockReleaseKeepsLockTakenOverAfterExpiry(t *testing.T) {
	ctx := context.Background()
	store := &fakeRedis{data: map[string]string{}}
	lock, err := NewRedisLock(store, lockKey, time.Minute)
	require.NoError(t, err)

	stale, err := lock.Acquire(ctx)
	require.NoError(t, err)
	// the lease expired and another instance took it
	store.mu.Lock()
	store.data[lockKey] = "other-instance"
	store.mu.Unlock()

	require.NoError(t, lock.Release(ctx, stale))
	assert.True(t, store.has(lockKey))
}

func TestRedisLockTokensAreIndependent(t *testing.T) {
	ctx := context.Background()
	store := &fakeRedis{data: map[string]string{}}
	lock, err := NewRedisLock(store, lockKey, time.Minute)
	require.NoError(t, err)

	first, err := lock.Acquire(ctx)
	require.NoError(t, err)
	require.NoError(t, lock.Release(ctx, first))
	second, err := lock.Acquire(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	require.NoError(t, lock.Release(ctx, first))
	assert.True(t, store.has(lockKey), "an old token must not release a newer lease")
	require.NoError(t, lock.Release(ctx, second))
	assert.False(t, store.has(lockKey))
}

func TestNewRedisLockValidation(t *testing.T) {
	_, err := NewRedisLock(nil, "k", time.Second)
	assert.Error(t, err)
	_, err = NewRedisLock(&fakeRedis{}, "", time.Second)
	assert.Error(t, err)
}
