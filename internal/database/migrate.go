package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"
)

//go:embed migrations/mysql/*.sql migrations/sqlite3/*.sql
var migrationsFS embed.FS

// Migrate applies the embedded migrations for the dialect.  command is one of
// up, down or status; status returns the current version without changes.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect, command string) (int64, error) {
	provider, err := newProvider(db, dialect)
	if err != nil {
		return 0, err
	}
	switch command {
	case "up":
		if _, err := provider.Up(ctx); err != nil {
			return 0, fmt.Errorf("goose up: %w", err)
		}
	case "down":
		if _, err := provider.Down(ctx); err != nil {
			return 0, fmt.Errorf("goose down: %w", err)
		}
	case "status":
	default:
		return 0, fmt.Errorf("unknown migrate command %q", command)
	}
	version, err := provider.GetDBVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("goose version: %w", err)
	}
	return version, nil
}

func newProvider(db *sql.DB, dialect Dialect) (*goose.Provider, error) {
	var gooseDialect goose.Dialect
	switch dialect.Name {
	case MySQL.Name:
		gooseDialect = goose.DialectMySQL
	case SQLite.Name:
		gooseDialect = goose.DialectSQLite3
	default:
		return nil, fmt.Errorf("no migrations for dialect %q", dialect.Name)
	}
	dir, err := fs.Sub(migrationsFS, "migrations/"+dialect.Name)
	if err != nil {
		return nil, err
	}
	provider, err := goose.NewProvider(gooseDialect, db, dir)
	if err != nil {
		return nil, fmt.Errorf("goose provider: %w", err)
	}
	return provider, nil
}
