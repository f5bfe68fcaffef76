package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/eventboard/server/internal/auth"
	"github.com/eventboard/server/internal/domain/accounts"
	"github.com/eventboard/server/internal/storage/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type gateClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *gateClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *gateClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type gateFixture struct {
	gate     *Gate
	svc      *accounts.Service
	issuer   *auth.TokenIssuer
	clock    *gateClock
	mu       sync.Mutex
	observed map[GateState]int
}

func newGateFixture(t *testing.T) *gateFixture {
	t.Helper()
	clock := &gateClock{now: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)}
	issuer, err := auth.NewTokenIssuer("gate-test-secret-0123456789abcdefghij", 15*time.Minute, 24*time.Hour, auth.WithClock(clock.Now))
	require.NoError(t, err)

	store := memory.NewStore()
	svc := accounts.NewService(store, issuer, zerolog.Nop(),
		accounts.WithPasswordCost(bcrypt.MinCost),
		accounts.WithServiceClock(clock.Now),
	)

	f := &gateFixture{svc: svc, issuer: issuer, clock: clock, observed: map[GateState]int{}}
	f.gate = NewGate(nil, issuer, store.Tokens(), zerolog.Nop(), f.observe)
	return f
}

func (f *gateFixture) observe(state GateState) {
	f.mu.Lock()
	f.observed[state]++
	f.mu.Unlock()
}

func (f *gateFixture) count(state GateState) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.observed[state]
}

func (f *gateFixture) register(t *testing.T, username string) *accounts.AuthResult {
	t.Helper()
	result, err := f.svc.Register(context.Background(), accounts.RegisterParams{
		Username:  username,
		Email:     username + "@example.com",
		Firstname: "Gate",
		Lastname:  "Tester",
		Password:  "correct-horse-battery",
	})
	require.NoError(t, err)
	return result
}

func bearerRequest(method, path, token string) *http.Request {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func TestGatePublicRoutesBypass(t *testing.T) {
	f := newGateFixture(t)

	for _, header := range []string{"", "Bearer garbage", "Basic dXNlcjpwYXNz"} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/authenticate", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		decision := f.gate.Evaluate(req)
		assert.Equal(t, StateBypassed, decision.State, "header %q", header)
		assert.Nil(t, decision.Principal)
	}

	decision := f.gate.Evaluate(bearerRequest(http.MethodGet, "/events/12", "not-a-jwt"))
	assert.Equal(t, StateBypassed, decision.State)
}

func TestGatePreflightBypasses(t *testing.T) {
	f := newGateFixture(t)
	decision := f.gate.Evaluate(httptest.NewRequest(http.MethodOptions, "/api/v1/users", nil))
	assert.Equal(t, StateBypassed, decision.State)
}

func TestGateUploadRoutesRunAnonymous(t *testing.T) {
	f := newGateFixture(t)
	decision := f.gate.Evaluate(httptest.NewRequest(http.MethodPost, "/uploadImage", nil))

	assert.Equal(t, StateBypassed, decision.State)
	require.NotNil(t, decision.Principal)
	assert.True(t, decision.Principal.Anonymous)
	assert.Equal(t, []auth.Role{auth.RoleAnonymous}, decision.Principal.Roles)
}

func TestGateAuthenticatesLedgerValidAccessToken(t *testing.T) {
	f := newGateFixture(t)
	alice := f.register(t, "alice")

	decision := f.gate.Evaluate(bearerRequest(http.MethodGet, "/api/v1/auth/me", alice.AccessToken))

	require.Equal(t, StateAuthenticated, decision.State, decision.Reason)
	require.NotNil(t, decision.Principal)
	assert.Equal(t, "alice", decision.Principal.Subject)
	assert.Equal(t, []auth.Role{auth.RoleUser}, decision.Principal.Roles)
	assert.NotEmpty(t, decision.Principal.TokenID)
}

func TestGateUnauthenticatedCases(t *testing.T) {
	f := newGateFixture(t)
	alice := f.register(t, "alice")

	tests := []struct {
		name  string
		req   *http.Request
		state GateState
	}{
		{"no header", bearerRequest(http.MethodGet, "/api/v1/users", ""), StateUnauthenticated},
		{"wrong scheme", func() *http.Request {
			r := httptest.NewRequest(http.MethodGet, "/api/v1/users", nil)
			r.Header.Set("Authorization", "Token "+alice.AccessToken)
			return r
		}(), StateUnauthenticated},
		{"garbage token", bearerRequest(http.MethodGet, "/api/v1/users", "abc.def.ghi"), StateUnauthenticated},
		{"refresh token as bearer", bearerRequest(http.MethodGet, "/api/v1/users", alice.RefreshToken), StateUnauthenticated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			decision := f.gate.Evaluate(tt.req)
			assert.Equal(t, tt.state, decision.State)
			assert.Nil(t, decision.Principal)
		})
	}
}

func TestGateRejectsUnrecordedToken(t *testing.T) {
	f := newGateFixture(t)
	f.register(t, "alice")

	issued, err := f.issuer.IssueAccessToken(auth.Subject{Username: "alice", Roles: []auth.Role{auth.RoleAdmin}})
	require.NoError(t, err)

	decision := f.gate.Evaluate(bearerRequest(http.MethodGet, "/api/v1/users", issued.Token))
	assert.Equal(t, StateUnauthenticated, decision.State)
	assert.Equal(t, "token not recorded", decision.Reason)
}

func TestGateExpiredToken(t *testing.T) {
	f := newGateFixture(t)
	alice := f.register(t, "alice")

	f.clock.Advance(16 * time.Minute)

	decision := f.gate.Evaluate(bearerRequest(http.MethodGet, "/api/v1/users", alice.AccessToken))
	assert.Equal(t, StateUnauthenticated, decision.State)
	assert.Equal(t, "token expired", decision.Reason)
}

func TestGateRevokedAfterNewLogin(t *testing.T) {
	f := newGateFixture(t)
	first := f.register(t, "alice")

	f.clock.Advance(time.Second)
	second, err := f.svc.Authenticate(context.Background(), "alice", "correct-horse-battery")
	require.NoError(t, err)

	decision := f.gate.Evaluate(bearerRequest(http.MethodGet, "/api/v1/users", first.AccessToken))
	assert.Equal(t, StateUnauthenticated, decision.State)

	decision = f.gate.Evaluate(bearerRequest(http.MethodGet, "/api/v1/users", second.AccessToken))
	assert.Equal(t, StateAuthenticated, decision.State)
}

func TestGateRevokedAfterLogout(t *testing.T) {
	f := newGateFixture(t)
	alice := f.register(t, "alice")

	_, err := f.svc.Logout(context.Background(), alice.AccessToken)
	require.NoError(t, err)

	decision := f.gate.Evaluate(bearerRequest(http.MethodGet, "/api/v1/users", alice.AccessToken))
	assert.Equal(t, StateUnauthenticated, decision.State)
}

func TestGateMiddlewareAttachesDecision(t *testing.T) {
	f := newGateFixture(t)
	alice := f.register(t, "alice")

	var gotDecision Decision
	var gotPrincipal *auth.Principal
	handler := f.gate.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotDecision, _ = DecisionFromContext(r.Context())
		gotPrincipal = auth.PrincipalFromContext(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, bearerRequest(http.MethodGet, "/api/v1/users", alice.AccessToken))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, StateAuthenticated, gotDecision.State)
	require.NotNil(t, gotPrincipal)
	assert.Equal(t, "alice", gotPrincipal.Subject)
	assert.Equal(t, 1, f.count(StateAuthenticated))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, bearerRequest(http.MethodGet, "/api/v1/users", "garbage"))

	assert.Equal(t, http.StatusTeapot, rec.Code, "the gate never fails a request itself")
	assert.Equal(t, StateUnauthenticated, gotDecision.State)
	assert.Nil(t, gotPrincipal)
	assert.Equal(t, 1, f.count(StateUnauthenticated))
}
