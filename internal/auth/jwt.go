package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/oklog/ulid/v2"
)

// Token type claim values. Refresh tokens never carry roles.
const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

type Claims struct {
	Roles []string `json:"roles,omitempty"`
	Type  string   `json:"typ"`
	jwt.RegisteredClaims
}

// Issued is a signed token plus the metadata the ledger records for it.
type Issued struct {
	ID        string
	Token     string
	Type      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Subject is the minimum a token is issued for.
type Subject struct {
	Username string
	Roles    []Role
}

type TokenIssuer struct {
	key        []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	issuer     string
	now        func() time.Time
}

type IssuerOption func(*TokenIssuer)

// WithClock replaces time.Now for issuance and expiry checks.
func WithClock(now func() time.Time) IssuerOption {
	return func(i *TokenIssuer) {
		if now != nil {
			i.now = now
		}
	}
}

func WithIssuer(issuer string) IssuerOption {
	return func(i *TokenIssuer) {
		i.issuer = strings.TrimSpace(issuer)
	}
}

// NewTokenIssuer derives the signing key from secret and returns an issuer
// for access and refresh tokens.
func NewTokenIssuer(secret string, accessTTL, refreshTTL time.Duration, opts ...IssuerOption) (*TokenIssuer, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrMissingSecret
	}
	if accessTTL <= 0 || refreshTTL <= 0 {
		return nil, fmt.Errorf("token lifetimes must be positive (access=%s refresh=%s)", accessTTL, refreshTTL)
	}
	key, err := DeriveSigningKey([]byte(secret))
	if err != nil {
		return nil, err
	}
	issuer := &TokenIssuer{
		key:        key,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(issuer)
	}
	return issuer, nil
}

func (i *TokenIssuer) AccessTTL() time.Duration  { return i.accessTTL }
func (i *TokenIssuer) RefreshTTL() time.Duration { return i.refreshTTL }

func (i *TokenIssuer) IssueAccessToken(subject Subject) (Issued, error) {
	return i.issue(subject, TypeAccess, i.accessTTL, RoleStrings(subject.Roles))
}

func (i *TokenIssuer) IssueRefreshToken(subject Subject) (Issued, error) {
	return i.issue(subject, TypeRefresh, i.refreshTTL, nil)
}

func (i *TokenIssuer) issue(subject Subject, typ string, ttl time.Duration, roles []string) (Issued, error) {
	if strings.TrimSpace(subject.Username) == "" {
		return Issued{}, ErrInvalidSubject
	}

	now := i.now().UTC().Truncate(time.Second)
	expires := now.Add(ttl)
	id := ulid.Make().String()

	claims := &Claims{
		Roles: roles,
		Type:  typ,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        id,
			Subject:   subject.Username,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return Issued{}, fmt.Errorf("sign %s token: %w", typ, err)
	}
	return Issued{
		ID:        id,
		Token:     signed,
		Type:      typ,
		IssuedAt:  now,
		ExpiresAt: expires,
	}, nil
}

// Verify checks signature, algorithm and expiry. Expired tokens return
// ErrTokenExpired; every other failure is ErrMalformedToken.
func (i *TokenIssuer) Verify(tokenString string) (*Claims, error) {
	if strings.TrimSpace(tokenString) == "" {
		return nil, ErrMissingToken
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	}
	if i.issuer != "" {
		opts = append(opts, jwt.WithIssuer(i.issuer))
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrMalformedToken
		}
		return i.key, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, ErrMalformedToken
	}
	return claims, nil
}

// ExtractRoles reads the roles claim without verifying. Only call it on a
// token that already passed Verify.
func (i *TokenIssuer) ExtractRoles(tokenString string) ([]Role, error) {
	claims := &Claims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tokenString, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	return ParseRoles(claims.Roles), nil
}

func TokenFromHeader(authHeader string) (string, error) {
	parts := strings.Fields(authHeader)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(parts[1]), nil
}
