package postgres

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/eventboard/server/internal/auth"
	"github.com/eventboard/server/internal/domain/accounts"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"
)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	pool, _ := setupPostgres(t)
	repo, err := NewRepository(pool)
	require.NoError(t, err)
	return repo
}

func createUser(t *testing.T, ctx context.Context, repo *Repository, username string) *accounts.User {
	t.Helper()
	user := &accounts.User{
		ID:           uuid.New(),
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: "hash",
		Roles:        []auth.Role{auth.RoleUser},
	}
	require.NoError(t, repo.WithTx(ctx, func(ctx context.Context, tx accounts.Repository) error {
		return tx.Users().Create(ctx, user)
	}))
	return user
}

func TestNewRepositoryRequiresPool(t *testing.T) {
	_, err := NewRepository(nil)
	require.Error(t, err)
}

func TestUserRepositoryCreateAndFind(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	created := createUser(t, ctx, repo, "alice")

	byName, err := repo.Users().FindByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byName.ID)
	assert.Equal(t, []auth.Role{auth.RoleUser}, byName.Roles)
	assert.Nil(t, byName.OrganizerID)
	assert.False(t, byName.CreatedAt.IsZero())

	byEmail, err := repo.Users().FindByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byEmail.ID)

	byID, err := repo.Users().FindByID(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice", byID.Username)

	_, err = repo.Users().FindByUsername(ctx, "nobody")
	require.ErrorIs(t, err, auth.ErrUserNotFound)
}

func TestUserRepositoryDuplicate(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	createUser(t, ctx, repo, "alice")

	err := repo.Users().Create(ctx, &accounts.User{
		Username:     "alice",
		Email:        "different@example.com",
		PasswordHash: "hash",
	})
	require.ErrorIs(t, err, auth.ErrDuplicateUser)

	err = repo.Users().Create(ctx, &accounts.User{
		Username:     "alice2",
		Email:        "Alice@Example.com",
		PasswordHash: "hash",
	})
	require.ErrorIs(t, err, auth.ErrDuplicateUser)
}

func TestUserRepositoryRolesAndOrganizer(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	user := createUser(t, ctx, repo, "alice")

	require.NoError(t, repo.Users().SetRoles(ctx, user.ID, []auth.Role{auth.RoleUser, auth.RoleAdmin}))
	id, err := repo.Users().LinkOrganizer(ctx, user.ID, "Robotics Club")
	require.NoError(t, err)

	found, err := repo.Users().FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []auth.Role{auth.RoleUser, auth.RoleAdmin}, found.Roles)
	require.NotNil(t, found.OrganizerID)
	assert.Equal(t, id, *found.OrganizerID)
	assert.Equal(t, "Robotics Club", found.OrganizerName)

	err = repo.Users().SetRoles(ctx, uuid.New(), []auth.Role{auth.RoleUser})
	require.ErrorIs(t, err, auth.ErrUserNotFound)
}

func TestTokenRepositoryLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	user := createUser(t, ctx, repo, "alice")
	now := time.Now().UTC().Truncate(time.Second)

	access := auth.TokenRecord{ID: "01HZACCESS", Token: "access-token", Type: auth.TokenAccess, UserID: user.ID, IssuedAt: now, ExpiresAt: now.Add(-time.Minute)}
	refresh := auth.TokenRecord{ID: "01HZREFRESH", Token: "refresh-token", Type: auth.TokenRefresh, UserID: user.ID, IssuedAt: now, ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, repo.Tokens().Record(ctx, access))
	require.NoError(t, repo.Tokens().Record(ctx, refresh))

	found, err := repo.Tokens().FindByToken(ctx, "refresh-token")
	require.NoError(t, err)
	assert.Equal(t, auth.TokenRefresh, found.Type)
	assert.True(t, found.Usable())
	assert.True(t, found.ExpiresAt.Equal(refresh.ExpiresAt))

	_, err = repo.Tokens().FindByToken(ctx, "missing")
	require.ErrorIs(t, err, auth.ErrTokenNotFound)

	swept, err := repo.Tokens().MarkExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), swept)

	revoked, err := repo.Tokens().RevokeAllForUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), revoked, "expired rows are not counted again")

	won, err := repo.Tokens().Revoke(ctx, "refresh-token")
	require.NoError(t, err)
	assert.False(t, won)

	expired, err := repo.Tokens().FindByToken(ctx, "access-token")
	require.NoError(t, err)
	assert.True(t, expired.Expired)
	assert.False(t, expired.Revoked)
}

func TestWithTxRollsBack(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	sentinel := errors.New("abort")

	err := repo.WithTx(ctx, func(ctx context.Context, tx accounts.Repository) error {
		if err := tx.Users().Create(ctx, &accounts.User{Username: "ghost", Email: "ghost@example.com", PasswordHash: "x"}); err != nil {
			return err
		}
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)

	_, err = repo.Users().FindByUsername(ctx, "ghost")
	require.ErrorIs(t, err, auth.ErrUserNotFound)
}

func TestRefreshRaceAgainstPostgres(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	issuer, err := auth.NewTokenIssuer("postgres-test-secret-0123456789abcdef", 15*time.Minute, 24*time.Hour)
	require.NoError(t, err)
	svc := accounts.NewService(repo, issuer, zerolog.Nop(), accounts.WithPasswordCost(bcrypt.MinCost))

	registered, err := svc.Register(ctx, accounts.RegisterParams{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "s3cret-password",
	})
	require.NoError(t, err)

	const workers = 16
	var (
		wins  atomic.Int64
		start = make(chan struct{})
		g     errgroup.Group
	)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			<-start
			_, err := svc.Refresh(ctx, registered.RefreshToken)
			if err == nil {
				wins.Add(1)
				return nil
			}
			if errors.Is(err, auth.ErrTokenRevoked) {
				return nil
			}
			return err
		})
	}
	close(start)
	require.NoError(t, g.Wait())
	assert.Equal(t, int64(1), wins.Load())

	var usable int
	err = repo.pool.QueryRow(ctx, `SELECT count(*) FROM tokens WHERE user_id = $1 AND NOT revoked AND NOT expired`, registered.User.ID).Scan(&usable)
	require.NoError(t, err)
	assert.Equal(t, 2, usable)
}

func TestConcurrentLoginsAgainstPostgres(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	issuer, err := auth.NewTokenIssuer("postgres-test-secret-0123456789abcdef", 15*time.Minute, 24*time.Hour)
	require.NoError(t, err)
	svc := accounts.NewService(repo, issuer, zerolog.Nop(), accounts.WithPasswordCost(bcrypt.MinCost))

	registered, err := svc.Register(ctx, accounts.RegisterParams{
		Username: "alice",
		Email:    "alice@example.com",
		Password: "s3cret-password",
	})
	require.NoError(t, err)

	const workers = 16
	var (
		start = make(chan struct{})
		g     errgroup.Group
	)
	for i := 0; i < workers; i++ {
		refresh := i%4 == 0
		g.Go(func() error {
			<-start
			if refresh {
				_, err := svc.Refresh(ctx, registered.RefreshToken)
				if err != nil && !errors.Is(err, auth.ErrTokenRevoked) {
					return err
				}
				return nil
			}
			_, err := svc.Authenticate(ctx, "alice", "s3cret-password")
			return err
		})
	}
	close(start)
	require.NoError(t, g.Wait())

	rows, err := repo.pool.Query(ctx, `
SELECT token_type, count(*) FROM tokens
 WHERE user_id = $1 AND NOT revoked AND NOT expired
 GROUP BY token_type`, registered.User.ID)
	require.NoError(t, err)
	defer rows.Close()

	usable := map[string]int{}
	for rows.Next() {
		var (
			typ   string
			count int
		)
		require.NoError(t, rows.Scan(&typ, &count))
		usable[typ] = count
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, map[string]int{"ACCESS": 1, "REFRESH": 1}, usable)
}

func TestLockUser(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)
	user := createUser(t, ctx, repo, "alice")

	err := repo.WithTx(ctx, func(ctx context.Context, tx accounts.Repository) error {
		return tx.Users().LockUser(ctx, user.ID)
	})
	require.NoError(t, err)

	err = repo.WithTx(ctx, func(ctx context.Context, tx accounts.Repository) error {
		return tx.Users().LockUser(ctx, uuid.New())
	})
	require.ErrorIs(t, err, auth.ErrUserNotFound)
}
