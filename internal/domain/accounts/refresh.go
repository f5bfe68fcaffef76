package accounts

import (
	"context"
	"errors"
	"fmt"

	"github.com/eventboard/server/internal/auth"
)

// Refresh exchanges a refresh token for a new pair. A refresh token is
// single-use: the row is locked, revoked with a compare-and-set, and the
// owner's other tokens are revoked before the new pair is recorded, all in
// one transaction. Of two concurrent callers presenting the same token only
// one succeeds; the other gets auth.ErrTokenRevoked.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*AuthResult, error) {
	claims, err := s.issuer.Verify(refreshToken)
	if err != nil {
		if errors.Is(err, auth.ErrMissingToken) {
			return nil, auth.ErrMalformedToken
		}
		return nil, err
	}
	if claims.Type != auth.TypeRefresh {
		return nil, auth.ErrTokenRevoked
	}

	var (
		result  *AuthResult
		revoked int64
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		user, err := s.findUser(ctx, tx.Users(), claims.Subject)
		if err != nil {
			return err
		}
		// User before token, the same order rotate and Logout take locks in.
		if err := tx.Users().LockUser(ctx, user.ID); err != nil {
			return fmt.Errorf("lock user: %w", err)
		}

		record, err := tx.Tokens().LockByToken(ctx, refreshToken)
		if err != nil {
			if errors.Is(err, auth.ErrTokenNotFound) {
				return auth.ErrTokenRevoked
			}
			return fmt.Errorf("lock refresh token: %w", err)
		}
		if !record.Usable() || record.Type != auth.TokenRefresh {
			return auth.ErrTokenRevoked
		}
		if user.ID != record.UserID {
			return auth.ErrTokenRevoked
		}

		won, err := tx.Tokens().Revoke(ctx, refreshToken)
		if err != nil {
			return fmt.Errorf("revoke refresh token: %w", err)
		}
		if !won {
			return auth.ErrTokenRevoked
		}

		result, revoked, err = s.rotate(ctx, tx, user)
		revoked++
		return err
	})
	if err != nil {
		if errors.Is(err, auth.ErrTokenRevoked) {
			s.logger.Warn().Str("subject", claims.Subject).Msg("refresh token replayed or revoked")
		}
		return nil, err
	}

	s.notify(ctx, revoked)
	return result, nil
}
