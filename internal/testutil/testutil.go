// Package testutil provides fixtures shared by package tests: a migrated
// in-memory sqlite store and a controllable clock.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/iliyamo/parking-reservation/internal/database"
	"github.com/iliyamo/parking-reservation/internal/repository"
)

// NewStore opens a private in-memory sqlite database, applies the
// migrations and closes it when the test ends.
func NewStore(t testing.TB) *repository.Store {
	t.Helper()
	ctx := context.Background()
	db, err := database.OpenSQLite(ctx, database.SQLiteMemoryDSN("test_"+uuid.NewString()))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := database.Migrate(ctx, db, database.SQLite, "up"); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repository.NewStore(db, database.SQLite)
}

// CreateUser inserts a user with a throwaway password and returns its id.
func CreateUser(t testing.TB, store *repository.Store, name, email, role string) uint64 {
	t.Helper()
	users := repository.NewUserRepo(store.DB(), store.Dialect())
	id, err := users.Create(context.Background(), repository.NewUser{
		Email: email, Name: name, Password: "secret-password", Role: role,
	}, bcrypt.MinCost)
	if err != nil {
		t.Fatalf("create user %s: %v", email, err)
	}
	return id
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(start time.Time) *Clock { return &Clock{now: start.UTC()} }

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
