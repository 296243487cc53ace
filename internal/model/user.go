package model

import (
	"time"

	"gopkg.in/guregu/null.v4"
)

// Role names stored in users.role and carried in the JWT "role" claim.
const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

// User represents an account as stored in the `users` table.  Users are
// created by registration or by the seed-admin command; the engine only
// ever receives an already-authenticated user id.
//
// Fields:
//
//	ID           – primary key identifier of the user.
//	Email        – unique email address, also the report recipient for admins.
//	Name         – display name printed in reports.
//	PasswordHash – bcrypt hashed password.
//	Role         – USER or ADMIN.
//	CreatedAt    – timestamp of creation.
type User struct {
	ID           uint64    `json:"id"`         // users.id
	Email        string    `json:"email"`      // users.email
	Name         string    `json:"name"`       // users.name
	PasswordHash string    `json:"-"`          // users.password_hash
	Role         string    `json:"role"`       // users.role
	CreatedAt    time.Time `json:"created_at"` // users.created_at
}

// IsAdmin reports whether the user holds the ADMIN role.
func (u User) IsAdmin() bool { return u.Role == RoleAdmin }

// UserOverview is the admin view of an account: the user plus the spot
// they occupy right now, if any.
type UserOverview struct {
	ID                uint64    `json:"id"`
	Email             string    `json:"email"`
	Name              string    `json:"name"`
	CreatedAt         time.Time `json:"created_at"`
	CurrentSpot       null.Int  `json:"current_spot"`
	CurrentLotID      null.Int  `json:"current_lot_id"`
	CurrentSpotNumber null.Int  `json:"current_spot_number"`
}
