package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/opencatalog/catalog/internal/shared"
)

const userColumns = `id, email, name, password_hash, is_admin, is_active, created_at, updated_at`

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// FindByID fetches one user.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

// FindByEmail fetches one user by case-insensitive email.
func (r *Repository) FindByEmail(ctx context.Context, email string) (User, error) {
	return r.findOne(ctx, `SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1)`, email)
}

func (r *Repository) findOne(ctx context.Context, query string, arg any) (User, error) {
	u, err := scanUser(r.pool.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, fmt.Errorf("users: %v: %w", arg, shared.ErrNotFound)
	}
	return u, err
}

// ListUsers returns one page of users ordered by email.
func (r *Repository) ListUsers(ctx context.Context, page shared.PageRequest) ([]User, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY email LIMIT $1 OFFSET $2`, page.Limit(), page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, err
		}
		users = append(users, u)
	}
	return users, total, rows.Err()
}

// SetAdmin updates the admin flag and records the change in audit_logs.
func (r *Repository) SetAdmin(ctx context.Context, id uuid.UUID, admin bool, entry shared.AuditLog) (User, error) {
	var out User
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		u, err := scanUser(tx.QueryRow(ctx, `UPDATE users SET is_admin = $2, updated_at = NOW() WHERE id = $1 RETURNING `+userColumns, id, admin))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("users: %s: %w", id, shared.ErrNotFound)
		}
		if err != nil {
			return err
		}
		out = u
		return shared.NewAuditLogger(tx).Record(ctx, entry)
	})
	return out, err
}

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.Name, &u.PasswordHash, &u.IsAdmin, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}
