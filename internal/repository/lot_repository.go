package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/parking-reservation/internal/database"
	"github.com/iliyamo/parking-reservation/internal/model"
)

// LotRepo provides data access for the lots table.  All timestamps are
// stored in UTC.
type LotRepo struct {
	db      *sql.DB
	dialect database.Dialect
}

func NewLotRepo(db *sql.DB, dialect database.Dialect) *LotRepo {
	return &LotRepo{db: db, dialect: dialect}
}

const lotColumns = `id, name, address, postal_code, hourly_rate, capacity, created_at, updated_at`

// LotFields are the admin editable attributes of a lot.
type LotFields struct {
	Name       string
	Address    string
	PostalCode string
	HourlyRate decimal.Decimal
}

// CreateTx inserts a lot with zero capacity; spots are added separately so
// capacity and spot rows change together.
func (r *LotRepo) CreateTx(ctx context.Context, tx *sql.Tx, f LotFields) (*model.Lot, error) {
	now := time.Now().UTC()
	const q = `INSERT INTO lots (name, address, postal_code, hourly_rate, capacity, created_at, updated_at) VALUES (?, ?, ?, ?, 0, ?, ?)`
	res, err := tx.ExecContext(ctx, q, f.Name, f.Address, f.PostalCode, f.HourlyRate.StringFixed(2), now, now)
	if err != nil {
		return nil, fmt.Errorf("LotRepo.CreateTx: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("LotRepo.CreateTx: %w", err)
	}
	return r.get(ctx, tx, uint64(id), "")
}

// Get returns a lot without locking.
func (r *LotRepo) Get(ctx context.Context, id uint64) (*model.Lot, error) {
	return r.get(ctx, r.db, id, "")
}

// GetTx reads a lot inside tx without locking it.
func (r *LotRepo) GetTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Lot, error) {
	return r.get(ctx, tx, id, "")
}

// LockTx reads a lot and locks its row until the transaction ends.
func (r *LotRepo) LockTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.Lot, error) {
	return r.get(ctx, tx, id, r.dialect.ForUpdate())
}

func (r *LotRepo) get(ctx context.Context, q dbtx, id uint64, suffix string) (*model.Lot, error) {
	row := q.QueryRowContext(ctx, `SELECT `+lotColumns+` FROM lots WHERE id = ?`+suffix, id)
	lot, err := scanLot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("LotRepo.get: %w", err)
	}
	return lot, nil
}

// UpdateDetailsTx overwrites the editable attributes.
func (r *LotRepo) UpdateDetailsTx(ctx context.Context, tx *sql.Tx, id uint64, f LotFields) error {
	const q = `UPDATE lots SET name = ?, address = ?, postal_code = ?, hourly_rate = ?, updated_at = ? WHERE id = ?`
	res, err := tx.ExecContext(ctx, q, f.Name, f.Address, f.PostalCode, f.HourlyRate.StringFixed(2), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("LotRepo.UpdateDetailsTx: %w", err)
	}
	return expectOne(res, ErrNotFound)
}

// SetCapacityTx records the new spot count.
func (r *LotRepo) SetCapacityTx(ctx context.Context, tx *sql.Tx, id uint64, capacity int) error {
	const q = `UPDATE lots SET capacity = ?, updated_at = ? WHERE id = ?`
	res, err := tx.ExecContext(ctx, q, capacity, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("LotRepo.SetCapacityTx: %w", err)
	}
	return expectOne(res, ErrNotFound)
}

// DeleteTx removes the lot row.  Its spots must already be gone.
func (r *LotRepo) DeleteTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM lots WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("LotRepo.DeleteTx: %w", err)
	}
	return expectOne(res, ErrNotFound)
}

// ListWithAvailability returns every lot with its free and occupied spot
// counts, ordered by id.
func (r *LotRepo) ListWithAvailability(ctx context.Context) ([]model.LotAvailability, error) {
	const q = `
SELECT l.id, l.name, l.address, l.postal_code, l.hourly_rate, l.capacity, l.created_at, l.updated_at,
       COALESCE(SUM(CASE WHEN s.status = 'A' THEN 1 ELSE 0 END), 0) AS available,
       COALESCE(SUM(CASE WHEN s.status = 'O' THEN 1 ELSE 0 END), 0) AS occupied
FROM lots l
LEFT JOIN spots s ON s.lot_id = l.id
GROUP BY l.id, l.name, l.address, l.postal_code, l.hourly_rate, l.capacity, l.created_at, l.updated_at
ORDER BY l.id`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("LotRepo.ListWithAvailability: %w", err)
	}
	defer rows.Close()

	var out []model.LotAvailability
	for rows.Next() {
		var la model.LotAvailability
		if err := rows.Scan(&la.ID, &la.Name, &la.Address, &la.PostalCode, &la.HourlyRate,
			&la.Capacity, &la.CreatedAt, &la.UpdatedAt, &la.Available, &la.Occupied); err != nil {
			return nil, fmt.Errorf("LotRepo.ListWithAvailability: %w", err)
		}
		out = append(out, la)
	}
	return out, rows.Err()
}

// Counts is the admin dashboard summary.
type Counts struct {
	Users         int `json:"users"`
	Lots          int `json:"lots"`
	Spots         int `json:"spots"`
	OccupiedSpots int `json:"occupied_spots"`
	Active        int `json:"active_reservations"`
}

// Counts returns row counts used by the admin summary.
func (r *LotRepo) Counts(ctx context.Context) (Counts, error) {
	const q = `
SELECT (SELECT COUNT(*) FROM users),
       (SELECT COUNT(*) FROM lots),
       (SELECT COUNT(*) FROM spots),
       (SELECT COUNT(*) FROM spots WHERE status = 'O'),
       (SELECT COUNT(*) FROM reservations WHERE ended_at IS NULL)`
	var c Counts
	if err := r.db.QueryRowContext(ctx, q).Scan(&c.Users, &c.Lots, &c.Spots, &c.OccupiedSpots, &c.Active); err != nil {
		return Counts{}, fmt.Errorf("LotRepo.Counts: %w", err)
	}
	return c, nil
}

func scanLot(row *sql.Row) (*model.Lot, error) {
	var l model.Lot
	if err := row.Scan(&l.ID, &l.Name, &l.Address, &l.PostalCode, &l.HourlyRate,
		&l.Capacity, &l.CreatedAt, &l.UpdatedAt); err != nil {
		return nil, err
	}
	return &l, nil
}

// expectOne maps a write that touched no row to errNone.
func expectOne(res sql.Result, errNone error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errNone
	}
	return nil
}
