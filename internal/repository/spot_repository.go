package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/iliyamo/parking-reservation/internal/database"
	"github.com/iliyamo/parking-reservation/internal/model"
)

// SpotRepo provides data access for the spots table.  Status transitions
// are conditional updates so a lost race shows up as ErrConflict instead
// of a silent double claim.
type SpotRepo struct {
	db      *sql.DB
	dialect database.Dialect
}

func NewSpotRepo(db *sql.DB, dialect database.Dialect) *SpotRepo {
	return &SpotRepo{db: db, dialect: dialect}
}

// AddTx appends count Available spots numbered after the highest existing
// number in the lot.
func (r *SpotRepo) AddTx(ctx context.Context, tx *sql.Tx, lotID uint64, count int) error {
	if count <= 0 {
		return nil
	}
	var maxNumber int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(number), 0) FROM spots WHERE lot_id = ?`, lotID).Scan(&maxNumber); err != nil {
		return fmt.Errorf("SpotRepo.AddTx: %w", err)
	}
	var b strings.Builder
	b.WriteString(`INSERT INTO spots (lot_id, number, status) VALUES `)
	args := make([]any, 0, count*3)
	for i := 1; i <= count; i++ {
		if i > 1 {
			b.WriteString(",")
		}
		b.WriteString("(?, ?, ?)")
		args = append(args, lotID, maxNumber+i, string(model.SpotAvailable))
	}
	if _, err := tx.ExecContext(ctx, b.String(), args...); err != nil {
		return fmt.Errorf("SpotRepo.AddTx: %w", err)
	}
	return nil
}

// FirstAvailableTx locks and returns the lowest-id Available spot of the
// lot, or ErrNotFound when none is free.
func (r *SpotRepo) FirstAvailableTx(ctx context.Context, tx *sql.Tx, lotID uint64) (*model.Spot, error) {
	q := `SELECT id, lot_id, number, status FROM spots WHERE lot_id = ? AND status = ? ORDER BY id LIMIT 1` + r.dialect.ForUpdate()
	var s model.Spot
	err := tx.QueryRowContext(ctx, q, lotID, string(model.SpotAvailable)).Scan(&s.ID, &s.LotID, &s.Number, &s.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("SpotRepo.FirstAvailableTx: %w", err)
	}
	return &s, nil
}

// SetStatusTx moves a spot from one status to another.  It returns
// ErrConflict if the spot is no longer in the expected status.
func (r *SpotRepo) SetStatusTx(ctx context.Context, tx *sql.Tx, spotID uint64, from, to model.SpotStatus) error {
	res, err := tx.ExecContext(ctx, `UPDATE spots SET status = ? WHERE id = ? AND status = ?`, string(to), spotID, string(from))
	if err != nil {
		return fmt.Errorf("SpotRepo.SetStatusTx: %w", err)
	}
	return expectOne(res, ErrConflict)
}

// LockByLotTx locks every spot of the lot and returns them ordered by number.
func (r *SpotRepo) LockByLotTx(ctx context.Context, tx *sql.Tx, lotID uint64) ([]model.Spot, error) {
	return r.list(ctx, tx, lotID, r.dialect.ForUpdate())
}

// ListByLot returns the lot's spots ordered by number without locking.
func (r *SpotRepo) ListByLot(ctx context.Context, lotID uint64) ([]model.Spot, error) {
	return r.list(ctx, r.db, lotID, "")
}

func (r *SpotRepo) list(ctx context.Context, q dbtx, lotID uint64, suffix string) ([]model.Spot, error) {
	rows, err := q.QueryContext(ctx, `SELECT id, lot_id, number, status FROM spots WHERE lot_id = ? ORDER BY number`+suffix, lotID)
	if err != nil {
		return nil, fmt.Errorf("SpotRepo.list: %w", err)
	}
	defer rows.Close()
	var out []model.Spot
	for rows.Next() {
		var s model.Spot
		if err := rows.Scan(&s.ID, &s.LotID, &s.Number, &s.Status); err != nil {
			return nil, fmt.Errorf("SpotRepo.list: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListWithLot returns every spot with its lot's name, ordered by lot and
// number.
func (r *SpotRepo) ListWithLot(ctx context.Context) ([]model.SpotDetail, error) {
	const q = `SELECT s.id, s.lot_id, s.number, s.status, l.name
FROM spots s JOIN lots l ON l.id = s.lot_id
ORDER BY s.lot_id, s.number`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("SpotRepo.ListWithLot: %w", err)
	}
	defer rows.Close()
	var out []model.SpotDetail
	for rows.Next() {
		var d model.SpotDetail
		if err := rows.Scan(&d.ID, &d.LotID, &d.Number, &d.Status, &d.LotName); err != nil {
			return nil, fmt.Errorf("SpotRepo.ListWithLot: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DeleteAvailableTx deletes the given spots, all of which must still be
// Available.  Anything less than a full match is ErrConflict.
func (r *SpotRepo) DeleteAvailableTx(ctx context.Context, tx *sql.Tx, ids []uint64) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, string(model.SpotAvailable))
	for _, id := range ids {
		args = append(args, id)
	}
	q := `DELETE FROM spots WHERE status = ? AND id IN (` + placeholders(len(ids)) + `)`
	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("SpotRepo.DeleteAvailableTx: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("SpotRepo.DeleteAvailableTx: %w", err)
	}
	if int(n) != len(ids) {
		return ErrConflict
	}
	return nil
}

// DeleteByLotTx removes every spot of the lot and returns how many went.
func (r *SpotRepo) DeleteByLotTx(ctx context.Context, tx *sql.Tx, lotID uint64) (int, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM spots WHERE lot_id = ?`, lotID)
	if err != nil {
		return 0, fmt.Errorf("SpotRepo.DeleteByLotTx: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}
