package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/eventboard/server/internal/auth"
	"github.com/eventboard/server/internal/sanitize"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Service implements registration, login, logout and refresh on top of a
// Repository and a TokenIssuer.
type Service struct {
	repo         Repository
	issuer       *auth.TokenIssuer
	validate     *validator.Validate
	listeners    []RevocationListener
	passwordCost int
	now          func() time.Time
	logger       zerolog.Logger
}

type Option func(*Service)

// WithRevocationListener registers listeners notified after revocations commit.
func WithRevocationListener(listeners ...RevocationListener) Option {
	return func(s *Service) {
		for _, l := range listeners {
			if l != nil {
				s.listeners = append(s.listeners, l)
			}
		}
	}
}

func WithPasswordCost(cost int) Option {
	return func(s *Service) {
		s.passwordCost = cost
	}
}

func WithServiceClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(repo Repository, issuer *auth.TokenIssuer, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		repo:         repo,
		issuer:       issuer,
		validate:     validator.New(),
		passwordCost: auth.BcryptCost,
		now:          time.Now,
		logger:       logger.With().Str("component", "accounts").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates a ROLE_USER account and logs it in.
func (s *Service) Register(ctx context.Context, params RegisterParams) (*AuthResult, error) {
	params.Username = strings.TrimSpace(params.Username)
	params.Email = strings.ToLower(strings.TrimSpace(params.Email))
	params.Firstname = strings.TrimSpace(sanitize.Text(params.Firstname))
	params.Lastname = strings.TrimSpace(sanitize.Text(params.Lastname))

	if err := s.validate.Struct(params); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidInput, describeValidation(err))
	}

	hash, err := auth.HashPassword(params.Password, s.passwordCost)
	if err != nil {
		return nil, err
	}

	user := &User{
		ID:           uuid.New(),
		Username:     params.Username,
		Email:        params.Email,
		PasswordHash: hash,
		Firstname:    params.Firstname,
		Lastname:     params.Lastname,
		Roles:        auth.DefaultRoles(),
		CreatedAt:    s.now().UTC(),
	}

	var result *AuthResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		if err := ensureAvailable(ctx, tx.Users(), user.Username, user.Email); err != nil {
			return err
		}
		if err := tx.Users().Create(ctx, user); err != nil {
			return err
		}
		issued, _, err := s.rotate(ctx, tx, user)
		if err != nil {
			return err
		}
		result = issued
		return nil
	})
	if err != nil {
		if errors.Is(err, auth.ErrDuplicateUser) {
			s.logger.Info().Str("username", user.Username).Msg("registration rejected: duplicate user")
		}
		return nil, err
	}

	s.logger.Info().Str("username", user.Username).Str("user_id", user.ID.String()).Msg("user registered")
	return result, nil
}

// Authenticate verifies identifier (username, or email as a fallback) and
// password, revokes every usable token of the user and issues a new pair.
func (s *Service) Authenticate(ctx context.Context, identifier, password string) (*AuthResult, error) {
	creds := credentials{Identifier: strings.TrimSpace(identifier), Password: password}
	if err := s.validate.Struct(creds); err != nil {
		return nil, auth.ErrInvalidCredentials
	}

	user, err := s.findUser(ctx, s.repo.Users(), creds.Identifier)
	if err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			auth.BurnPasswordCheck(password)
			return nil, auth.ErrInvalidCredentials
		}
		return nil, err
	}
	if err := auth.ComparePassword(user.PasswordHash, password); err != nil {
		return nil, err
	}

	var (
		result  *AuthResult
		revoked int64
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		var err error
		result, revoked, err = s.rotate(ctx, tx, user)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notify(ctx, revoked)
	s.logger.Debug().Str("username", user.Username).Int64("revoked", revoked).Msg("user authenticated")
	return result, nil
}

// Logout revokes every usable token of the access token's owner and returns
// the owner's username. Invalid, unknown or already revoked tokens are
// ignored with an empty username, so logout always succeeds for the client
// without touching a newer session.
func (s *Service) Logout(ctx context.Context, accessToken string) (string, error) {
	claims, err := s.issuer.Verify(accessToken)
	if err != nil {
		s.logger.Debug().Err(err).Msg("logout with unverifiable token")
		return "", nil
	}

	record, err := s.repo.Tokens().FindByToken(ctx, accessToken)
	if err != nil {
		if errors.Is(err, auth.ErrTokenNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("logout lookup: %w", err)
	}
	if !record.Usable() {
		return "", nil
	}

	var revoked int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		if err := tx.Users().LockUser(ctx, record.UserID); err != nil {
			return err
		}
		var err error
		revoked, err = tx.Tokens().RevokeAllForUser(ctx, record.UserID)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("logout revoke: %w", err)
	}

	s.notify(ctx, revoked)
	s.logger.Debug().Str("user_id", record.UserID.String()).Int64("revoked", revoked).Msg("user logged out")
	return claims.Subject, nil
}

// GrantRole adds role to the user's stored roles. Tokens already issued keep
// the roles they were signed with.
func (s *Service) GrantRole(ctx context.Context, identifier string, role auth.Role) (*User, error) {
	return s.updateRoles(ctx, identifier, func(roles []auth.Role) []auth.Role {
		if auth.HasAnyRole(roles, role) {
			return roles
		}
		return append(roles, role)
	})
}

func (s *Service) RevokeRole(ctx context.Context, identifier string, role auth.Role) (*User, error) {
	return s.updateRoles(ctx, identifier, func(roles []auth.Role) []auth.Role {
		kept := roles[:0:0]
		for _, r := range roles {
			if r != role {
				kept = append(kept, r)
			}
		}
		return kept
	})
}

func (s *Service) updateRoles(ctx context.Context, identifier string, change func([]auth.Role) []auth.Role) (*User, error) {
	var updated *User
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		user, err := s.findUser(ctx, tx.Users(), strings.TrimSpace(identifier))
		if err != nil {
			return err
		}
		user.Roles = change(user.Roles)
		if err := tx.Users().SetRoles(ctx, user.ID, user.Roles); err != nil {
			return err
		}
		updated = user
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("username", updated.Username).Strs("roles", auth.RoleStrings(updated.Roles)).Msg("user roles updated")
	return updated, nil
}

// LinkOrganizer creates an organizer called name and attaches the user to it.
// The organizer shows up in the summary returned on the next login.
func (s *Service) LinkOrganizer(ctx context.Context, identifier, name string) (*User, error) {
	name = sanitize.Text(name)
	if err := s.validate.Var(name, "required,max=200"); err != nil {
		return nil, fmt.Errorf("%w: organizer name", ErrInvalidInput)
	}

	var linked *User
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		user, err := s.findUser(ctx, tx.Users(), strings.TrimSpace(identifier))
		if err != nil {
			return err
		}
		id, err := tx.Users().LinkOrganizer(ctx, user.ID, name)
		if err != nil {
			return err
		}
		user.OrganizerID = &id
		user.OrganizerName = name
		linked = user
		return nil
	})
	if err != nil {
		return nil, err
	}
	return linked, nil
}

// EnsureAdmin creates an administrator account when none exists under
// username. It returns false when the account was already present.
func (s *Service) EnsureAdmin(ctx context.Context, username, email, password string) (bool, error) {
	username = strings.TrimSpace(username)
	email = strings.ToLower(strings.TrimSpace(email))
	if err := s.validate.Var(username, "required,min=3,max=64,excludes=@"); err != nil {
		return false, fmt.Errorf("%w: admin username", ErrInvalidInput)
	}
	if err := s.validate.Var(email, "required,email"); err != nil {
		return false, fmt.Errorf("%w: admin email", ErrInvalidInput)
	}
	if err := s.validate.Var(password, "required,min=8,max=72"); err != nil {
		return false, fmt.Errorf("%w: admin password", ErrInvalidInput)
	}

	hash, err := auth.HashPassword(password, s.passwordCost)
	if err != nil {
		return false, err
	}

	created := false
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		err := ensureAvailable(ctx, tx.Users(), username, email)
		if errors.Is(err, auth.ErrDuplicateUser) {
			return nil
		}
		if err != nil {
			return err
		}
		created = true
		return tx.Users().Create(ctx, &User{
			ID:           uuid.New(),
			Username:     username,
			Email:        email,
			PasswordHash: hash,
			Roles:        []auth.Role{auth.RoleUser, auth.RoleAdmin},
			CreatedAt:    s.now().UTC(),
		})
	})
	if err != nil {
		return false, err
	}
	return created, nil
}

// SweepExpired flags ledger rows whose embedded expiry lies before now.
// Listeners are not told: the gate already rejects a lapsed token on its
// embedded expiry, so cached ledger rows stay correct.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	var swept int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		var err error
		swept, err = tx.Tokens().MarkExpired(ctx, s.now().UTC())
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("sweep expired tokens: %w", err)
	}
	return swept, nil
}

// rotate revokes every usable token of user, then issues and records a fresh
// pair. Callers run it inside a transaction. The user lock comes first so a
// concurrent rotation cannot record its pair after this one's revoke ran.
func (s *Service) rotate(ctx context.Context, tx Repository, user *User) (*AuthResult, int64, error) {
	if err := tx.Users().LockUser(ctx, user.ID); err != nil {
		return nil, 0, fmt.Errorf("lock user: %w", err)
	}
	revoked, err := tx.Tokens().RevokeAllForUser(ctx, user.ID)
	if err != nil {
		return nil, 0, fmt.Errorf("revoke previous tokens: %w", err)
	}

	access, err := s.issuer.IssueAccessToken(user.subject())
	if err != nil {
		return nil, 0, err
	}
	refresh, err := s.issuer.IssueRefreshToken(user.subject())
	if err != nil {
		return nil, 0, err
	}

	for _, issued := range []auth.Issued{access, refresh} {
		if err := tx.Tokens().Record(ctx, auth.NewTokenRecord(user.ID, issued)); err != nil {
			return nil, 0, fmt.Errorf("record %s token: %w", issued.Type, err)
		}
	}

	return &AuthResult{
		AccessToken:      access.Token,
		RefreshToken:     refresh.Token,
		AccessExpiresAt:  access.ExpiresAt,
		RefreshExpiresAt: refresh.ExpiresAt,
		User:             user,
	}, revoked, nil
}

func (s *Service) findUser(ctx context.Context, users CredentialStore, identifier string) (*User, error) {
	user, err := users.FindByUsername(ctx, identifier)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, auth.ErrUserNotFound) {
		return nil, err
	}
	return users.FindByEmail(ctx, strings.ToLower(identifier))
}

func (s *Service) notify(ctx context.Context, count int64) {
	if count == 0 {
		return
	}
	for _, l := range s.listeners {
		l.TokensRevoked(ctx, count)
	}
}

func ensureAvailable(ctx context.Context, users CredentialStore, username, email string) error {
	for _, lookup := range []struct {
		find  func(context.Context, string) (*User, error)
		value string
	}{
		{users.FindByUsername, username},
		{users.FindByEmail, email},
	} {
		_, err := lookup.find(ctx, lookup.value)
		if err == nil {
			return auth.ErrDuplicateUser
		}
		if !errors.Is(err, auth.ErrUserNotFound) {
			return err
		}
	}
	return nil
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, strings.ToLower(fe.Field())+" "+fe.Tag())
	}
	return strings.Join(fields, ", ")
}
