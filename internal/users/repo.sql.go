package users

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/campus-rp/paas/internal/platform/db"
	"github.com/campus-rp/paas/internal/shared"
)

const pgErrUniqueViolation = "23505"

const userColumns = `id, email, display_name, roles, permissions, metadata, is_active, created_at, updated_at, last_login`

// PGRepository provides PostgreSQL backed persistence.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository constructs a repository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Create inserts user.
func (r *PGRepository) Create(ctx context.Context, user User) error {
	perms, err := json.Marshal(user.Permissions)
	if err != nil {
		return fmt.Errorf("users: encode permissions: %w", err)
	}
	meta, err := json.Marshal(user.Metadata)
	if err != nil {
		return fmt.Errorf("users: encode metadata: %w", err)
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO users (`+userColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		user.ID, normalizeEmail(user.Email), user.DisplayName, user.Roles, perms, meta,
		user.IsActive, user.CreatedAt, user.UpdatedAt, user.LastLogin)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation {
			return shared.ErrUserExists
		}
		return fmt.Errorf("users: insert: %w", err)
	}
	return nil
}

// Get returns the record with id.
func (r *PGRepository) Get(ctx context.Context, id string) (User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row)
}

// GetByEmail returns the record registered under email.
func (r *PGRepository) GetByEmail(ctx context.Context, email string) (User, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, normalizeEmail(email))
	return scanUser(row)
}

// Search returns matching records, oldest first.
func (r *PGRepository) Search(ctx context.Context, filter SearchFilter) ([]User, error) {
	filter = filter.normalized()
	var roles []string
	if len(filter.Roles) > 0 {
		roles = filter.Roles
	}
	rows, err := r.pool.Query(ctx, `SELECT `+userColumns+` FROM users
WHERE ($1 = '' OR email ILIKE '%' || $1 || '%' OR display_name ILIKE '%' || $1 || '%')
  AND ($2::text[] IS NULL OR roles && $2::text[])
ORDER BY created_at, email
LIMIT $3`, filter.Query, roles, filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("users: search: %w", err)
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("users: search: %w", err)
	}
	return out, nil
}

// UpdateRoles replaces the roles and permission snapshot of id. The row is
// locked for the duration of the write.
func (r *PGRepository) UpdateRoles(ctx context.Context, id string, roles []string, permissions map[string][]string, at time.Time) error {
	perms, err := json.Marshal(permissions)
	if err != nil {
		return fmt.Errorf("users: encode permissions: %w", err)
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var locked string
		if err := tx.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, id).Scan(&locked); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return shared.ErrNotFound
			}
			return fmt.Errorf("users: lock: %w", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE users SET roles = $2, permissions = $3, updated_at = $4 WHERE id = $1`, id, roles, perms, at); err != nil {
			return fmt.Errorf("users: update roles: %w", err)
		}
		return nil
	})
}

// TouchLogin records a successful login for id.
func (r *PGRepository) TouchLogin(ctx context.Context, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET last_login = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("users: touch login: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrNotFound
	}
	return nil
}

func scanUser(row pgx.Row) (User, error) {
	var (
		user  User
		perms []byte
		meta  []byte
	)
	err := row.Scan(&user.ID, &user.Email, &user.DisplayName, &user.Roles, &perms, &meta,
		&user.IsActive, &user.CreatedAt, &user.UpdatedAt, &user.LastLogin)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, shared.ErrNotFound
		}
		return User{}, fmt.Errorf("users: scan: %w", err)
	}
	if len(perms) > 0 {
		if err := json.Unmarshal(perms, &user.Permissions); err != nil {
			return User{}, fmt.Errorf("users: decode permissions: %w", err)
		}
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &user.Metadata); err != nil {
			return User{}, fmt.Errorf("users: decode metadata: %w", err)
		}
	}
	return user, nil
}
