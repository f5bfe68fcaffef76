package auth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type TokenType string

const (
	TokenAccess  TokenType = "ACCESS"
	TokenRefresh TokenType = "REFRESH"
)

// TokenTypeFromClaim maps the typ claim onto the ledger type.
func TokenTypeFromClaim(typ string) (TokenType, bool) {
	switch typ {
	case TypeAccess:
		return TokenAccess, true
	case TypeRefresh:
		return TokenRefresh, true
	default:
		return "", false
	}
}

// TokenRecord is a ledger row. Rows are flagged, never removed.
type TokenRecord struct {
	ID        string
	Token     string
	Type      TokenType
	UserID    uuid.UUID
	Expired   bool
	Revoked   bool
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Usable reports whether neither ledger flag is set. Callers still verify the
// embedded expiry separately.
func (r TokenRecord) Usable() bool {
	return !r.Expired && !r.Revoked
}

// NewTokenRecord builds the ledger row for a freshly issued token.
func NewTokenRecord(userID uuid.UUID, issued Issued) TokenRecord {
	typ, _ := TokenTypeFromClaim(issued.Type)
	return TokenRecord{
		ID:        issued.ID,
		Token:     issued.Token,
		Type:      typ,
		UserID:    userID,
		IssuedAt:  issued.IssuedAt,
		ExpiresAt: issued.ExpiresAt,
	}
}

// TokenLookup is the read side of the ledger used on every gated request.
type TokenLookup interface {
	FindByToken(ctx context.Context, token string) (TokenRecord, error)
}
