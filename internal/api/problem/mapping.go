package problem

import (
	"errors"
	"net/http"

	"github.com/eventboard/server/internal/auth"
)

// Mapping is the problem written for errors matching Err.
type Mapping struct {
	Err    error
	Status int
	Type   string
	Title  string
	// Reason labels the failure in metrics and audit lines.
	Reason string
	// Detail, when set, replaces the environment-dependent detail.
	Detail func(error) string
}

// Mappings is matched in order with errors.Is.
type Mappings []Mapping

func (m Mappings) Match(err error) (Mapping, bool) {
	for _, mp := range m {
		if errors.Is(err, mp.Err) {
			return mp, true
		}
	}
	return Mapping{}, false
}

// Reason returns the matched label, or "error" for unmapped errors.
func (m Mappings) Reason(err error) string {
	if mp, ok := m.Match(err); ok {
		return mp.Reason
	}
	return "error"
}

// WriteError writes the mapped problem for err and a 500 when none matches.
func (m Mappings) WriteError(w http.ResponseWriter, r *http.Request, err error, env string) {
	mp, ok := m.Match(err)
	if !ok {
		Write(w, r, http.StatusInternalServerError, TypeInternal, "Server error", err, env)
		return
	}
	var opts []Option
	if mp.Detail != nil {
		opts = append(opts, WithDetail(mp.Detail(err)))
	}
	Write(w, r, mp.Status, mp.Type, mp.Title, err, env, opts...)
}

// With returns a copy of m extended by extra.
func (m Mappings) With(extra ...Mapping) Mappings {
	out := make(Mappings, 0, len(m)+len(extra))
	out = append(out, m...)
	return append(out, extra...)
}

func fixedDetail(detail string) func(error) string {
	return func(error) string { return detail }
}

// AuthMappings covers the auth sentinels. Unknown users and bad passwords
// produce the same body.
func AuthMappings() Mappings {
	badLogin := fixedDetail("invalid username or password")
	return Mappings{
		{Err: auth.ErrInvalidCredentials, Status: http.StatusUnauthorized, Type: TypeInvalidCredentials, Title: "Invalid credentials", Reason: "invalid_credentials", Detail: badLogin},
		{Err: auth.ErrUserNotFound, Status: http.StatusUnauthorized, Type: TypeInvalidCredentials, Title: "Invalid credentials", Reason: "invalid_credentials", Detail: badLogin},
		{Err: auth.ErrTokenExpired, Status: http.StatusUnauthorized, Type: TypeTokenExpired, Title: "Token expired", Reason: "expired"},
		{Err: auth.ErrTokenRevoked, Status: http.StatusUnauthorized, Type: TypeTokenRevoked, Title: "Token revoked", Reason: "revoked"},
		{Err: auth.ErrMalformedToken, Status: http.StatusUnauthorized, Type: TypeMalformedToken, Title: "Malformed token", Reason: "malformed"},
		{Err: auth.ErrDuplicateUser, Status: http.StatusConflict, Type: TypeDuplicateUser, Title: "User already exists", Reason: "duplicate"},
	}
}
