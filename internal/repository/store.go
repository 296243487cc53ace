package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/parking-reservation/internal/database"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx so read helpers can run
// inside or outside a transaction.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store owns the database handle and runs transactions for the service
// layer.  Repositories never begin or commit transactions themselves.
type Store struct {
	db      *sql.DB
	dialect database.Dialect
}

func NewStore(db *sql.DB, dialect database.Dialect) *Store {
	return &Store{db: db, dialect: dialect}
}

func (s *Store) DB() *sql.DB                { return s.db }
func (s *Store) Dialect() database.Dialect { return s.dialect }

// WithTx runs fn inside a read-write transaction.  The transaction is
// committed when fn returns nil and rolled back otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.run(ctx, nil, fn)
}

// Snapshot runs fn inside a read-only transaction so every query observes
// the same consistent state.
func (s *Store) Snapshot(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return s.run(ctx, s.dialect.SnapshotOptions(), fn)
}

func (s *Store) run(ctx context.Context, opts *sql.TxOptions, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}
