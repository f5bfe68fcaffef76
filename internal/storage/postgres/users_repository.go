package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/eventboard/server/internal/auth"
	"github.com/eventboard/server/internal/domain/accounts"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

type UserRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

const selectUser = `
SELECT u.id, u.username, u.email, u.password_hash, u.firstname, u.lastname,
       u.organizer_id, COALESCE(o.name, ''), u.created_at,
       COALESCE(array_agg(r.role ORDER BY r.role) FILTER (WHERE r.role IS NOT NULL), '{}')::text[]
  FROM users u
  LEFT JOIN organizers o ON o.id = u.organizer_id
  LEFT JOIN user_roles r ON r.user_id = u.id
`

func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*accounts.User, error) {
	return r.findOne(ctx, selectUser+` WHERE u.username = $1 GROUP BY u.id, o.name`, username)
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*accounts.User, error) {
	return r.findOne(ctx, selectUser+` WHERE lower(u.email) = lower($1) GROUP BY u.id, o.name`, email)
}

func (r *UserRepository) FindByID(ctx context.Context, id uuid.UUID) (*accounts.User, error) {
	return r.findOne(ctx, selectUser+` WHERE u.id = $1 GROUP BY u.id, o.name`, id)
}

func (r *UserRepository) findOne(ctx context.Context, query string, arg any) (*accounts.User, error) {
	var (
		user  accounts.User
		roles []string
	)
	err := pick(r.pool, r.tx).QueryRow(ctx, query, arg).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.Firstname,
		&user.Lastname,
		&user.OrganizerID,
		&user.OrganizerName,
		&user.CreatedAt,
		&roles,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, auth.ErrUserNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	user.Roles = auth.ParseRoles(roles)
	return &user, nil
}

// Create inserts the user and its roles. It must run inside a transaction
// when roles are present so a failed role insert does not leave a bare user.
func (r *UserRepository) Create(ctx context.Context, user *accounts.User) error {
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	q := pick(r.pool, r.tx)
	err := q.QueryRow(ctx, `
INSERT INTO users (id, username, email, password_hash, firstname, lastname, organizer_id)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING created_at
`, user.ID, user.Username, user.Email, user.PasswordHash, user.Firstname, user.Lastname, user.OrganizerID,
	).Scan(&user.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return auth.ErrDuplicateUser
		}
		return fmt.Errorf("create user: %w", err)
	}
	return r.insertRoles(ctx, q, user.ID, user.Roles)
}

// SetRoles replaces the user's stored roles.
func (r *UserRepository) SetRoles(ctx context.Context, userID uuid.UUID, roles []auth.Role) error {
	q := pick(r.pool, r.tx)
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
		return fmt.Errorf("check user: %w", err)
	}
	if !exists {
		return auth.ErrUserNotFound
	}
	if _, err := q.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear roles: %w", err)
	}
	return r.insertRoles(ctx, q, userID, roles)
}

func (r *UserRepository) insertRoles(ctx context.Context, q queryer, userID uuid.UUID, roles []auth.Role) error {
	persisted := make([]string, 0, len(roles))
	for _, role := range roles {
		if role == auth.RoleAnonymous {
			continue
		}
		persisted = append(persisted, string(role))
	}
	if len(persisted) == 0 {
		return nil
	}
	_, err := q.Exec(ctx, `
INSERT INTO user_roles (user_id, role)
SELECT $1, unnest($2::text[])
ON CONFLICT DO NOTHING
`, userID, persisted)
	if err != nil {
		return fmt.Errorf("insert roles: %w", err)
	}
	return nil
}

// LockUser takes a row lock on the user. Later statements in the same
// transaction see token rows committed by whoever held the lock before.
func (r *UserRepository) LockUser(ctx context.Context, userID uuid.UUID) error {
	var one int
	err := pick(r.pool, r.tx).QueryRow(ctx, `SELECT 1 FROM users WHERE id = $1 FOR UPDATE`, userID).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return auth.ErrUserNotFound
		}
		return fmt.Errorf("lock user: %w", err)
	}
	return nil
}

// LinkOrganizer creates an organizer named name and links the user to it.
func (r *UserRepository) LinkOrganizer(ctx context.Context, userID uuid.UUID, name string) (int64, error) {
	q := pick(r.pool, r.tx)
	var id int64
	if err := q.QueryRow(ctx, `INSERT INTO organizers (name) VALUES ($1) RETURNING id`, name).Scan(&id); err != nil {
		return 0, fmt.Errorf("create organizer: %w", err)
	}
	tag, err := q.Exec(ctx, `UPDATE users SET organizer_id = $2 WHERE id = $1`, userID, id)
	if err != nil {
		return 0, fmt.Errorf("link organizer: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return 0, auth.ErrUserNotFound
	}
	return id, nil
}
