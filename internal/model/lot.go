package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Lot is a named parking facility with a fixed number of spots.  Capacity
// always equals the number of rows in `spots` owned by the lot once a
// mutating operation has committed.
//
// Fields:
//
//	ID         – primary key identifier.
//	Name       – display name (prime location name).
//	Address    – street address.
//	PostalCode – postal/pin code.
//	HourlyRate – price charged per billed hour.
//	Capacity   – configured number of spots.
//	CreatedAt  – creation timestamp.
//	UpdatedAt  – last update timestamp.
type Lot struct {
	ID         uint64          `json:"id"`          // lots.id
	Name       string          `json:"name"`        // lots.name
	Address    string          `json:"address"`     // lots.address
	PostalCode string          `json:"postal_code"` // lots.postal_code
	HourlyRate decimal.Decimal `json:"hourly_rate"` // lots.hourly_rate
	Capacity   int             `json:"capacity"`    // lots.capacity
	CreatedAt  time.Time       `json:"created_at"`  // lots.created_at
	UpdatedAt  time.Time       `json:"updated_at"`  // lots.updated_at
}

// LotAvailability is the projection served by lot listings: the lot plus
// its current free and occupied spot counts.
type LotAvailability struct {
	Lot
	Available int `json:"available"`
	Occupied  int `json:"occupied"`
}
