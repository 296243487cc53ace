package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/iliyamo/parking-reservation/internal/database"
	"github.com/iliyamo/parking-reservation/internal/model"
	"github.com/iliyamo/parking-reservation/internal/utils"
)

type UserRepo struct {
	DB      *sql.DB
	dialect database.Dialect
}

func NewUserRepo(db *sql.DB, dialect database.Dialect) *UserRepo {
	return &UserRepo{DB: db, dialect: dialect}
}

const userColumns = `id, email, name, password_hash, role, created_at`

// NewUser is the input for Create.
type NewUser struct {
	Email    string
	Name     string
	Password string
	Role     string
}

// Create hashes the password and inserts the user, returning its ID.
func (r *UserRepo) Create(ctx context.Context, in NewUser, cost int) (uint64, error) {
	email := normalizeEmail(in.Email)
	hash, err := utils.HashPassword(in.Password, cost)
	if err != nil {
		return 0, err
	}
	role := in.Role
	if role == "" {
		role = model.RoleUser
	}
	res, err := r.DB.ExecContext(ctx,
		"INSERT INTO users (email, name, password_hash, role, created_at) VALUES (?,?,?,?,?)",
		email, strings.TrimSpace(in.Name), hash, role, time.Now().UTC())
	if err != nil {
		if database.IsUniqueViolation(err) {
			return 0, ErrEmailExists
		}
		return 0, fmt.Errorf("UserRepo.Create: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// EnsureAdmin creates the admin account if the email is not registered
// yet.  It reports whether a new account was created.
func (r *UserRepo) EnsureAdmin(ctx context.Context, in NewUser, cost int) (bool, error) {
	if _, err := r.GetByEmail(ctx, in.Email); err == nil {
		return false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return false, err
	}
	in.Role = model.RoleAdmin
	if _, err := r.Create(ctx, in, cost); err != nil {
		if errors.Is(err, ErrEmailExists) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// GetByEmail fetches a user by normalized email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.one(ctx, r.DB, "SELECT "+userColumns+" FROM users WHERE email = ? LIMIT 1", normalizeEmail(email))
}

// GetByID fetches a user by primary key.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (*model.User, error) {
	return r.one(ctx, r.DB, "SELECT "+userColumns+" FROM users WHERE id = ?", id)
}

// LockTx locks the user row.  Reservations for one user serialize on it.
func (r *UserRepo) LockTx(ctx context.Context, tx *sql.Tx, id uint64) (*model.User, error) {
	return r.one(ctx, tx, "SELECT "+userColumns+" FROM users WHERE id = ?"+r.dialect.ForUpdate(), id)
}

// ListAdmins returns every administrator ordered by id.
func (r *UserRepo) ListAdmins(ctx context.Context) ([]model.User, error) {
	rows, err := r.DB.QueryContext(ctx, "SELECT "+userColumns+" FROM users WHERE role = ? ORDER BY id", model.RoleAdmin)
	if err != nil {
		return nil, fmt.Errorf("UserRepo.ListAdmins: %w", err)
	}
	defer rows.Close()
	var out []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Role, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("UserRepo.ListAdmins: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// List returns every USER account ordered by id, each with the spot of its
// active reservation.  At most one reservation per user is active, so the
// join never duplicates a user.
func (r *UserRepo) List(ctx context.Context) ([]model.UserOverview, error) {
	const q = `SELECT u.id, u.email, u.name, u.created_at, r.spot_id, r.lot_id, r.spot_number
FROM users u
LEFT JOIN reservations r ON r.user_id = u.id AND r.ended_at IS NULL
WHERE u.role = ?
ORDER BY u.id`
	rows, err := r.DB.QueryContext(ctx, q, model.RoleUser)
	if err != nil {
		return nil, fmt.Errorf("UserRepo.List: %w", err)
	}
	defer rows.Close()
	var out []model.UserOverview
	for rows.Next() {
		var u model.UserOverview
		err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt, &u.CurrentSpot, &u.CurrentLotID, &u.CurrentSpotNumber)
		if err != nil {
			return nil, fmt.Errorf("UserRepo.List: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *UserRepo) one(ctx context.Context, q dbtx, query string, args ...any) (*model.User, error) {
	var u model.User
	err := q.QueryRowContext(ctx, query, args...).Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.Role, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("UserRepo.one: %w", err)
	}
	return &u, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
