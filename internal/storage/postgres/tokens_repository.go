package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eventboard/server/internal/auth"
	"github.com/eventboard/server/internal/metrics"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TokenRepository is the PostgreSQL token ledger.
type TokenRepository struct {
	pool *pgxpool.Pool
	tx   pgx.Tx
}

const selectToken = `
SELECT id, token, token_type, user_id, expired, revoked, issued_at, expires_at
  FROM tokens
 WHERE token = $1
`

func (r *TokenRepository) FindByToken(ctx context.Context, token string) (rec auth.TokenRecord, err error) {
	defer func(start time.Time) {
		if errors.Is(err, auth.ErrTokenNotFound) {
			metrics.RecordQuery("find_token", start, nil)
			return
		}
		metrics.RecordQuery("find_token", start, err)
	}(time.Now())
	return r.scanOne(ctx, selectToken, token)
}

// LockByToken takes a row lock held until the surrounding transaction ends.
// Outside a transaction the lock is released immediately.
func (r *TokenRepository) LockByToken(ctx context.Context, token string) (auth.TokenRecord, error) {
	return r.scanOne(ctx, selectToken+` FOR UPDATE`, token)
}

func (r *TokenRepository) scanOne(ctx context.Context, query, token string) (auth.TokenRecord, error) {
	var (
		rec auth.TokenRecord
		typ string
	)
	err := pick(r.pool, r.tx).QueryRow(ctx, query, token).Scan(
		&rec.ID,
		&rec.Token,
		&typ,
		&rec.UserID,
		&rec.Expired,
		&rec.Revoked,
		&rec.IssuedAt,
		&rec.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return auth.TokenRecord{}, auth.ErrTokenNotFound
		}
		return auth.TokenRecord{}, fmt.Errorf("find token: %w", err)
	}
	rec.Type = auth.TokenType(typ)
	return rec, nil
}

func (r *TokenRepository) Record(ctx context.Context, rec auth.TokenRecord) error {
	_, err := pick(r.pool, r.tx).Exec(ctx, `
INSERT INTO tokens (id, token, token_type, user_id, expired, revoked, issued_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`, rec.ID, rec.Token, string(rec.Type), rec.UserID, rec.Expired, rec.Revoked, rec.IssuedAt, rec.ExpiresAt)
	if err != nil {
		return fmt.Errorf("record token: %w", err)
	}
	return nil
}

// Revoke reports true only for the caller whose update flipped the row.
func (r *TokenRepository) Revoke(ctx context.Context, token string) (bool, error) {
	tag, err := pick(r.pool, r.tx).Exec(ctx, `UPDATE tokens SET revoked = true WHERE token = $1 AND NOT revoked`, token)
	if err != nil {
		return false, fmt.Errorf("revoke token: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *TokenRepository) RevokeAllForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	tag, err := pick(r.pool, r.tx).Exec(ctx, `
UPDATE tokens
   SET revoked = true
 WHERE user_id = $1
   AND NOT revoked
   AND NOT expired
`, userID)
	if err != nil {
		return 0, fmt.Errorf("revoke user tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *TokenRepository) MarkExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := pick(r.pool, r.tx).Exec(ctx, `
UPDATE tokens
   SET expired = true
 WHERE NOT expired
   AND expires_at <= $1
`, before)
	if err != nil {
		return 0, fmt.Errorf("mark expired tokens: %w", err)
	}
	return tag.RowsAffected(), nil
}
