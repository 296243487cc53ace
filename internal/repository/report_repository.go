package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/guregu/null.v4"
)

// ReportRow is one reservation joined with its user and lot, as printed in
// CSV reports.  Lot fields are empty when the lot has since been removed.
type ReportRow struct {
	ReservationID uint64
	UserName      string
	UserEmail     string
	LotName       string
	LotAddress    string
	LotPostalCode string
	SpotNumber    int
	StartedAt     time.Time
	EndedAt       null.Time
	Cost          decimal.Decimal
	HourlyRate    decimal.NullDecimal
}

// ReportRepo reads report snapshots.
type ReportRepo struct {
	store *Store
}

func NewReportRepo(store *Store) *ReportRepo { return &ReportRepo{store: store} }

const reportQuery = `
SELECT r.id, COALESCE(u.name, ''), COALESCE(u.email, ''),
       COALESCE(l.name, ''), COALESCE(l.address, ''), COALESCE(l.postal_code, ''),
       r.spot_number, r.started_at, r.ended_at, r.cost, l.hourly_rate
FROM reservations r
LEFT JOIN users u ON u.id = r.user_id
LEFT JOIN lots l ON l.id = r.lot_id`

// AllRows returns every reservation, newest start first, read inside one
// snapshot transaction.
func (r *ReportRepo) AllRows(ctx context.Context) ([]ReportRow, error) {
	return r.rows(ctx, reportQuery+` ORDER BY r.started_at DESC, r.id DESC`)
}

// UserRows returns one user's reservations, newest start first.
func (r *ReportRepo) UserRows(ctx context.Context, userID uint64) ([]ReportRow, error) {
	return r.rows(ctx, reportQuery+` WHERE r.user_id = ? ORDER BY r.started_at DESC, r.id DESC`, userID)
}

func (r *ReportRepo) rows(ctx context.Context, query string, args ...any) ([]ReportRow, error) {
	var out []ReportRow
	err := r.store.Snapshot(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var row ReportRow
			if err := rows.Scan(&row.ReservationID, &row.UserName, &row.UserEmail,
				&row.LotName, &row.LotAddress, &row.LotPostalCode, &row.SpotNumber,
				&row.StartedAt, &row.EndedAt, &row.Cost, &row.HourlyRate); err != nil {
				return err
			}
			out = append(out, row)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("ReportRepo.rows: %w", err)
	}
	return out, nil
}
