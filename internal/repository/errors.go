// Package repository defines the SQL data access layer.  The sentinel
// errors below are shared across repositories so the service layer can
// translate them into coded domain errors.
package repository

import "errors"

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a conditional write matched no row because
// another transaction changed it first.  The caller retries the whole
// transaction.
var ErrConflict = errors.New("conflict")

// ErrEmailExists is returned when registering an email that is taken.
var ErrEmailExists = errors.New("email already exists")
