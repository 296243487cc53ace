package database

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateUpDownSQLite(t *testing.T) {
	ctx := context.Background()
	db, err := OpenSQLite(ctx, SQLiteMemoryDSN("migrate_"+uuid.NewString()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	version, err := Migrate(ctx, db, SQLite, "up")
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	for _, table := range []string{"users", "lots", "spots", "reservations", "jobs"} {
		var name string
		err := db.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&name)
		require.NoError(t, err, table)
	}

	version, err = Migrate(ctx, db, SQLite, "status")
	require.NoError(t, err)
	assert.Equal(t, int64(1), version)

	version, err = Migrate(ctx, db, SQLite, "down")
	require.NoError(t, err)
	assert.Equal(t, int64(0), version)

	_, err = Migrate(ctx, db, SQLite, "sideways")
	assert.Error(t, err)
}

func TestActiveReservationIndexes(t *testing.T) {
	ctx := context.Background()
	db, err := OpenSQLite(ctx, SQLiteMemoryDSN("idx_"+uuid.NewString()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = Migrate(ctx, db, SQLite, "up")
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `INSERT INTO users (email, name, password_hash, role, created_at) VALUES ('a@x', 'A', 'h', 'USER', CURRENT_TIMESTAMP)`)
	require.NoError(t, err)
	insert := `INSERT INTO reservations (spot_id, lot_id, spot_number, user_id, started_at) VALUES (?, 1, 1, 1, CURRENT_TIMESTAMP)`
	_, err = db.ExecContext(ctx, insert, 10)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, insert, 11)
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err), "second active reservation for the user must hit the index: %v", err)

	_, err = db.ExecContext(ctx, `UPDATE reservations SET ended_at = CURRENT_TIMESTAMP`)
	require.NoError(t, err)
	_, err = db.ExecContext(ctx, insert, 10)
	assert.NoError(t, err, "ended reservations do not block new ones")
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"bad conn", fmt.Errorf("exec: %w", driver.ErrBadConn), true},
		{"invalid conn", mysql.ErrInvalidConn, true},
		{"deadlock", &mysql.MySQLError{Number: 1213}, true},
		{"lock wait", fmt.Errorf("claim: %w", &mysql.MySQLError{Number: 1205}), true},
		{"duplicate", &mysql.MySQLError{Number: 1062}, false},
		{"sqlite busy", sqlite3.Error{Code: sqlite3.ErrBusy}, true},
		{"sqlite locked", sqlite3.Error{Code: sqlite3.ErrLocked}, true},
		{"sqlite constraint", sqlite3.Error{Code: sqlite3.ErrConstraint}, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(&mysql.MySQLError{Number: 1062}))
	assert.True(t, IsUniqueViolation(sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}))
	assert.False(t, IsUniqueViolation(sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintForeignKey}))
	assert.False(t, IsUniqueViolation(errors.New("x")))
}

func TestDialects(t *testing.T) {
	assert.Equal(t, " FOR UPDATE", MySQL.ForUpdate())
	assert.Empty(t, SQLite.ForUpdate())
	assert.Nil(t, SQLite.SnapshotOptions())
	require.NotNil(t, MySQL.SnapshotOptions())
	assert.True(t, MySQL.SnapshotOptions().ReadOnly)
}
