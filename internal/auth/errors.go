package auth

import "errors"

// Authentication failures surfaced to login/refresh callers. The request gate
// never returns these to clients; it degrades to an unauthenticated request.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrDuplicateUser      = errors.New("user already exists")
	ErrMalformedToken     = errors.New("malformed token")
	ErrTokenExpired       = errors.New("token expired")
	ErrTokenRevoked       = errors.New("token revoked")
	ErrUserNotFound       = errors.New("user not found")
)

var (
	ErrMissingToken   = errors.New("missing token")
	ErrTokenNotFound  = errors.New("token not recorded")
	ErrMissingSecret  = errors.New("signing secret cannot be empty")
	ErrInvalidSubject = errors.New("token subject cannot be empty")
)
