package database

import "database/sql"

// Dialect captures the few SQL differences between the supported drivers.
// Queries use `?` placeholders, which both drivers accept.
type Dialect struct {
	Name string
	// lockSuffix is appended to SELECTs that must lock the rows they read.
	lockSuffix string
	snapshot   *sql.TxOptions
}

var (
	MySQL = Dialect{
		Name:       "mysql",
		lockSuffix: " FOR UPDATE",
		snapshot:   &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true},
	}
	// SQLite has no row locks; immediate transactions on a single connection
	// already serialize every writer.
	SQLite = Dialect{Name: "sqlite3"}
)

// ForUpdate returns the locking clause for SELECT ... statements.
func (d Dialect) ForUpdate() string { return d.lockSuffix }

// SnapshotOptions returns the options for a consistent read-only transaction.
func (d Dialect) SnapshotOptions() *sql.TxOptions { return d.snapshot }
