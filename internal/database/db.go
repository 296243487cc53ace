package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"

	"github.com/iliyamo/parking-reservation/internal/config"
)

// Open connects to the configured driver, applies pool settings and verifies
// the connection.  It returns the handle together with its Dialect.
func Open(ctx context.Context, cfg config.DBConfig) (*sql.DB, Dialect, error) {
	switch cfg.Driver {
	case "mysql":
		db, err := openMySQL(ctx, cfg)
		return db, MySQL, err
	case "sqlite3":
		db, err := OpenSQLite(ctx, sqliteFileDSN(cfg.SQLitePath))
		return db, SQLite, err
	default:
		return nil, Dialect{}, fmt.Errorf("unsupported driver %q", cfg.Driver)
	}
}

func openMySQL(ctx context.Context, cfg config.DBConfig) (*sql.DB, error) {
	dsn := cfg.DSN
	if dsn == "" {
		mc := mysql.NewConfig()
		mc.User = cfg.User
		mc.Passwd = cfg.Password
		mc.Net = "tcp"
		mc.Addr = fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)
		mc.DBName = cfg.Name
		// parseTime=true -> DATETIME -> time.Time | loc=UTC keeps times consistent
		mc.ParseTime = true
		mc.Loc = time.UTC
		mc.Params = map[string]string{"charset": "utf8mb4"}
		dsn = mc.FormatDSN()
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}

	// Pool settings
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := ping(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// OpenSQLite opens a sqlite database.  A single connection serializes every
// writer, and _txlock=immediate makes each transaction take the write lock
// up front, which is what row locks give us on MySQL.
func OpenSQLite(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := ping(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// SQLiteMemoryDSN returns a DSN for a private in-memory database.
func SQLiteMemoryDSN(name string) string {
	return fmt.Sprintf("file:%s?mode=memory&cache=shared&%s", name, sqliteParams)
}

const sqliteParams = "_txlock=immediate&_foreign_keys=1&_busy_timeout=5000"

func sqliteFileDSN(path string) string {
	return fmt.Sprintf("file:%s?%s", path, sqliteParams)
}

func ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}
