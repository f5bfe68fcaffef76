package accounts

import (
	"context"
	"errors"
	"time"

	"github.com/eventboard/server/internal/auth"
	"github.com/google/uuid"
)

// ErrInvalidInput wraps request validation failures.
var ErrInvalidInput = errors.New("invalid input")

// User is an account holder. Organizer fields are empty for accounts that
// are not linked to an organizer.
type User struct {
	ID            uuid.UUID
	Username      string
	Email         string
	PasswordHash  string
	Firstname     string
	Lastname      string
	Roles         []auth.Role
	OrganizerID   *int64
	OrganizerName string
	CreatedAt     time.Time
}

func (u *User) subject() auth.Subject {
	return auth.Subject{Username: u.Username, Roles: u.Roles}
}

// Summary is the organizer view returned on login and refresh.
func (u *User) Summary() UserSummary {
	return UserSummary{
		ID:    u.OrganizerID,
		Name:  u.OrganizerName,
		Roles: auth.RoleStrings(u.Roles),
	}
}

type UserSummary struct {
	ID    *int64   `json:"id"`
	Name  string   `json:"name"`
	Roles []string `json:"roles"`
}

// CredentialStore persists users. Lookups return auth.ErrUserNotFound when no
// row matches and Create returns auth.ErrDuplicateUser on a unique conflict.
type CredentialStore interface {
	FindByUsername(ctx context.Context, username string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id uuid.UUID) (*User, error)
	Create(ctx context.Context, user *User) error
	SetRoles(ctx context.Context, userID uuid.UUID, roles []auth.Role) error
	LinkOrganizer(ctx context.Context, userID uuid.UUID, name string) (int64, error)
	// LockUser holds the user until the surrounding transaction ends, so
	// session rotations for one user run one at a time.
	LockUser(ctx context.Context, userID uuid.UUID) error
}

// TokenLedger persists issued tokens. Rows are flagged revoked or expired and
// never removed.
type TokenLedger interface {
	auth.TokenLookup

	Record(ctx context.Context, record auth.TokenRecord) error
	// LockByToken reads a row and holds it until the surrounding transaction ends.
	LockByToken(ctx context.Context, token string) (auth.TokenRecord, error)
	// Revoke flips a single row from usable to revoked and reports whether
	// this call was the one that did it.
	Revoke(ctx context.Context, token string) (bool, error)
	RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error)
	MarkExpired(ctx context.Context, before time.Time) (int64, error)
}

// Repository groups the account stores and scopes them to a transaction.
type Repository interface {
	Users() CredentialStore
	Tokens() TokenLedger

	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
}

// RegisterParams is the registration input. Usernames never contain "@" so
// an identifier cannot match one account by username and another by email.
type RegisterParams struct {
	Username  string `validate:"required,min=3,max=64,excludes=@"`
	Email     string `validate:"required,email,max=254"`
	Firstname string `validate:"max=100"`
	Lastname  string `validate:"max=100"`
	Password  string `validate:"required,min=8,max=72"`
}

type credentials struct {
	Identifier string `validate:"required,max=254"`
	Password   string `validate:"required,max=72"`
}

// AuthResult is the outcome of a successful register, login or refresh.
type AuthResult struct {
	AccessToken      string
	RefreshToken     string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
	User             *User
}

// RevocationListener is told after a committed transaction revoked or expired
// ledger rows.
type RevocationListener interface {
	TokensRevoked(ctx context.Context, count int64)
}
