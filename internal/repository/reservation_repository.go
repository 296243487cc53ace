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

// ReservationRepo provides data access for the reservations table.  A row
// with a NULL ended_at is an active reservation; both the service layer
// and unique indexes keep at most one per spot and per user.
type ReservationRepo struct {
	db      *sql.DB
	dialect database.Dialect
}

func NewReservationRepo(db *sql.DB, dialect database.Dialect) *ReservationRepo {
	return &ReservationRepo{db: db, dialect: dialect}
}

const reservationColumns = `id, spot_id, lot_id, spot_number, user_id, started_at, ended_at, cost`

// CreateTx inserts an active reservation for the spot and fills in its ID.
func (r *ReservationRepo) CreateTx(ctx context.Context, tx *sql.Tx, spot model.Spot, userID uint64, startedAt time.Time) (*model.Reservation, error) {
	const q = `INSERT INTO reservations (spot_id, lot_id, spot_number, user_id, started_at, cost) VALUES (?, ?, ?, ?, ?, 0)`
	startedAt = startedAt.UTC()
	res, err := tx.ExecContext(ctx, q, spot.ID, spot.LotID, spot.Number, userID, startedAt)
	if err != nil {
		return nil, fmt.Errorf("ReservationRepo.CreateTx: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("ReservationRepo.CreateTx: %w", err)
	}
	return &model.Reservation{
		ID:         uint64(id),
		SpotID:     spot.ID,
		LotID:      spot.LotID,
		SpotNumber: spot.Number,
		UserID:     userID,
		StartedAt:  startedAt,
		Cost:       decimal.Zero,
	}, nil
}

// ActiveForUserTx returns the user's active reservation, locking it, or
// ErrNotFound.
func (r *ReservationRepo) ActiveForUserTx(ctx context.Context, tx *sql.Tx, userID uint64) (*model.Reservation, error) {
	q := `SELECT ` + reservationColumns + ` FROM reservations WHERE user_id = ? AND ended_at IS NULL` + r.dialect.ForUpdate()
	return r.one(ctx, tx, q, userID)
}

// ActiveForUser is the non-locking variant used by read endpoints.
func (r *ReservationRepo) ActiveForUser(ctx context.Context, userID uint64) (*model.Reservation, error) {
	return r.one(ctx, r.db, `SELECT `+reservationColumns+` FROM reservations WHERE user_id = ? AND ended_at IS NULL`, userID)
}

// GetForUserTx locks and returns a reservation owned by the user, active or
// not.  Reservations of other users are reported as ErrNotFound.
func (r *ReservationRepo) GetForUserTx(ctx context.Context, tx *sql.Tx, userID, id uint64) (*model.Reservation, error) {
	q := `SELECT ` + reservationColumns + ` FROM reservations WHERE id = ? AND user_id = ?` + r.dialect.ForUpdate()
	return r.one(ctx, tx, q, id, userID)
}

// Get returns a reservation by id without ownership checks.
func (r *ReservationRepo) Get(ctx context.Context, id uint64) (*model.Reservation, error) {
	return r.one(ctx, r.db, `SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id)
}

// CompleteTx sets the end timestamp and cost of an active reservation.
// ErrConflict means it was completed concurrently.
func (r *ReservationRepo) CompleteTx(ctx context.Context, tx *sql.Tx, id uint64, endedAt time.Time, cost decimal.Decimal) error {
	const q = `UPDATE reservations SET ended_at = ?, cost = ? WHERE id = ? AND ended_at IS NULL`
	res, err := tx.ExecContext(ctx, q, endedAt.UTC(), cost.StringFixed(2), id)
	if err != nil {
		return fmt.Errorf("ReservationRepo.CompleteTx: %w", err)
	}
	return expectOne(res, ErrConflict)
}

// ListByUser returns the user's reservations, newest first.
func (r *ReservationRepo) ListByUser(ctx context.Context, userID uint64) ([]model.Reservation, error) {
	q := `SELECT ` + reservationColumns + ` FROM reservations WHERE user_id = ? ORDER BY started_at DESC, id DESC`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, fmt.Errorf("ReservationRepo.ListByUser: %w", err)
	}
	defer rows.Close()
	var out []model.Reservation
	for rows.Next() {
		var res model.Reservation
		if err := scanReservation(rows, &res); err != nil {
			return nil, fmt.Errorf("ReservationRepo.ListByUser: %w", err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

// CountActiveByLot returns active reservations per lot id.
func (r *ReservationRepo) CountActiveByLot(ctx context.Context) (map[uint64]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT lot_id, COUNT(*) FROM reservations WHERE ended_at IS NULL GROUP BY lot_id`)
	if err != nil {
		return nil, fmt.Errorf("ReservationRepo.CountActiveByLot: %w", err)
	}
	defer rows.Close()
	out := map[uint64]int{}
	for rows.Next() {
		var lotID uint64
		var n int
		if err := rows.Scan(&lotID, &n); err != nil {
			return nil, err
		}
		out[lotID] = n
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanReservation(s scanner, res *model.Reservation) error {
	return s.Scan(&res.ID, &res.SpotID, &res.LotID, &res.SpotNumber, &res.UserID,
		&res.StartedAt, &res.EndedAt, &res.Cost)
}

func (r *ReservationRepo) one(ctx context.Context, q dbtx, query string, args ...any) (*model.Reservation, error) {
	var res model.Reservation
	err := scanReservation(q.QueryRowContext(ctx, query, args...), &res)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ReservationRepo.one: %w", err)
	}
	return &res, nil
}
