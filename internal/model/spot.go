package model

// SpotStatus is the single-letter status stored in spots.status.
type SpotStatus string

const (
	SpotAvailable SpotStatus = "A"
	SpotOccupied  SpotStatus = "O"
)

// Spot is an individually occupiable unit inside a lot.  A spot never moves
// between lots.  Number is unique within the lot and is what users see.
//
// Fields:
//
//	ID     – primary key identifier.
//	LotID  – owning lot.
//	Number – per-lot spot number.
//	Status – A (available) or O (occupied).
type Spot struct {
	ID     uint64     `json:"id"`     // spots.id
	LotID  uint64     `json:"lot_id"` // spots.lot_id
	Number int        `json:"number"` // spots.number
	Status SpotStatus `json:"status"` // spots.status
}

// SpotDetail is a spot joined with the name of its lot, as listed by the
// admin search.
type SpotDetail struct {
	Spot
	LotName string `json:"lot_name"`
}
