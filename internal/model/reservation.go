package model

import (
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/guregu/null.v4"
)

// Reservation is one occupancy session of a spot by a user.  A row is
// active while EndedAt is null; release sets EndedAt and Cost exactly once.
// LotID and SpotNumber are copied at creation so history stays readable
// after the spot or lot is removed.
//
// Fields:
//
//	ID         – primary key identifier.
//	SpotID     – occupied spot.
//	LotID      – lot owning the spot at reservation time.
//	SpotNumber – spot number at reservation time.
//	UserID     – occupant.
//	StartedAt  – parking start, immutable.
//	EndedAt    – parking end (null while active).
//	Cost       – charged amount (zero while active).
type Reservation struct {
	ID         uint64          `json:"id"`          // reservations.id
	SpotID     uint64          `json:"spot_id"`     // reservations.spot_id
	LotID      uint64          `json:"lot_id"`      // reservations.lot_id
	SpotNumber int             `json:"spot_number"` // reservations.spot_number
	UserID     uint64          `json:"user_id"`     // reservations.user_id
	StartedAt  time.Time       `json:"started_at"`  // reservations.started_at
	EndedAt    null.Time       `json:"ended_at"`    // reservations.ended_at (nullable)
	Cost       decimal.Decimal `json:"cost"`        // reservations.cost
}

// Active reports whether the reservation has not been released yet.
func (r Reservation) Active() bool { return !r.EndedAt.Valid }
