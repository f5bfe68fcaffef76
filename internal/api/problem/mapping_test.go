package problem

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/eventboard/server/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeMapped(t *testing.T, m Mappings, err error, env string) (int, ProblemDetails) {
	t.Helper()
	res := httptest.NewRecorder()
	m.WriteError(res, httptest.NewRequest(http.MethodPost, "/api/v1/auth/authenticate", nil), err, env)
	var body ProblemDetails
	require.NoError(t, json.NewDecoder(res.Body).Decode(&body))
	return res.Code, body
}

func TestAuthMappings(t *testing.T) {
	tests := []struct {
		err    error
		status int
		typ    string
		reason string
	}{
		{auth.ErrInvalidCredentials, http.StatusUnauthorized, TypeInvalidCredentials, "invalid_credentials"},
		{auth.ErrUserNotFound, http.StatusUnauthorized, TypeInvalidCredentials, "invalid_credentials"},
		{auth.ErrTokenExpired, http.StatusUnauthorized, TypeTokenExpired, "expired"},
		{auth.ErrTokenRevoked, http.StatusUnauthorized, TypeTokenRevoked, "revoked"},
		{auth.ErrMalformedToken, http.StatusUnauthorized, TypeMalformedToken, "malformed"},
		{auth.ErrDuplicateUser, http.StatusConflict, TypeDuplicateUser, "duplicate"},
	}
	m := AuthMappings()
	for _, tt := range tests {
		t.Run(tt.reason+"/"+tt.err.Error(), func(t *testing.T) {
			wrapped := fmt.Errorf("refresh: %w", tt.err)
			status, body := writeMapped(t, m, wrapped, "production")
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.typ, body.Type)
			assert.Equal(t, tt.reason, m.Reason(wrapped))
		})
	}
}

func TestAuthMappingsHideWhichCredentialFailed(t *testing.T) {
	m := AuthMappings()
	_, unknown := writeMapped(t, m, auth.ErrUserNotFound, "development")
	_, wrong := writeMapped(t, m, auth.ErrInvalidCredentials, "development")
	assert.Equal(t, wrong, unknown)
	assert.Equal(t, "invalid username or password", unknown.Detail)
}

func TestMappingsUnmatched(t *testing.T) {
	m := AuthMappings()
	boom := errors.New("pool exhausted")

	status, body := writeMapped(t, m, boom, "production")
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, TypeInternal, body.Type)
	assert.NotContains(t, body.Detail, "pool exhausted")
	assert.Equal(t, "error", m.Reason(boom))
}

func TestMappingsWithLeavesBaseUntouched(t *testing.T) {
	errBadInput := errors.New("bad input")
	base := AuthMappings()
	extended := base.With(Mapping{
		Err:    errBadInput,
		Status: http.StatusBadRequest,
		Type:   TypeValidation,
		Title:  "Invalid input",
		Reason: "invalid",
		Detail: func(err error) string { return err.Error() },
	})

	assert.Len(t, extended, len(base)+1)
	_, ok := base.Match(errBadInput)
	assert.False(t, ok)

	status, body := writeMapped(t, extended, fmt.Errorf("%w: email", errBadInput), "production")
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "bad input: email", body.Detail)
}
