package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/eventboard/server/internal/api/problem"
	"github.com/eventboard/server/internal/audit"
	"github.com/eventboard/server/internal/auth"
	"github.com/eventboard/server/internal/domain/accounts"
	"github.com/eventboard/server/internal/metrics"
)

// AccountService is the part of accounts.Service the auth endpoints drive.
type AccountService interface {
	Register(ctx context.Context, params accounts.RegisterParams) (*accounts.AuthResult, error)
	Authenticate(ctx context.Context, identifier, password string) (*accounts.AuthResult, error)
	Refresh(ctx context.Context, refreshToken string) (*accounts.AuthResult, error)
	Logout(ctx context.Context, accessToken string) (string, error)
}

type AuthHandler struct {
	Accounts AccountService
	Audit    *audit.Logger
	Env      string
}

func NewAuthHandler(accounts AccountService, auditLogger *audit.Logger, env string) *AuthHandler {
	return &AuthHandler{Accounts: accounts, Audit: auditLogger, Env: env}
}

type registerRequest struct {
	Firstname string `json:"firstname"`
	Lastname  string `json:"lastname"`
	Username  string `json:"username"`
	Email     string `json:"email"`
	Password  string `json:"password"`
}

// authenticateRequest accepts the login name as either "username" or "email".
type authenticateRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (r authenticateRequest) identifier() string {
	if id := strings.TrimSpace(r.Username); id != "" {
		return id
	}
	return strings.TrimSpace(r.Email)
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken  string                `json:"access_token"`
	RefreshToken string                `json:"refresh_token"`
	User         *accounts.UserSummary `json:"user,omitempty"`
}

type meResponse struct {
	Subject string   `json:"subject"`
	Roles   []string `json:"roles"`
}

// Register creates an account with ROLE_USER and returns its first token pair.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		metrics.RecordAuth("register", "invalid")
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request body", err, h.Env)
		return
	}

	result, err := h.Accounts.Register(r.Context(), accounts.RegisterParams{
		Username:  req.Username,
		Email:     req.Email,
		Firstname: req.Firstname,
		Lastname:  req.Lastname,
		Password:  req.Password,
	})
	if err != nil {
		metrics.RecordAuth("register", outcomeFor(err))
		h.Audit.LogFailure("auth.register", req.Username, audit.ClientIP(r), map[string]string{"reason": outcomeFor(err)})
		h.writeAuthError(w, r, err)
		return
	}

	metrics.RecordAuth("register", "success")
	h.Audit.LogSuccess("auth.register", result.User.Username, audit.ClientIP(r), nil)
	writeJSON(w, http.StatusCreated, tokenResponse{
		AccessToken:  result.AccessToken,
		RefreshToken: result.RefreshToken,
	}, contentTypeJSON)
}

// Authenticate logs a user in. Any tokens the user already held are revoked.
func (h *AuthHandler) Authenticate(w http.ResponseWriter, r *http.Request) {
	var req authenticateRequest
	if err := decodeJSON(r, &req); err != nil {
		metrics.RecordAuth("login", "invalid")
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request body", err, h.Env)
		return
	}

	identifier := req.identifier()
	result, err := h.Accounts.Authenticate(r.Context(), identifier, req.Password)
	if err != nil {
		metrics.RecordAuth("login", outcomeFor(err))
		h.Audit.LogFailure("auth.login", identifier, audit.ClientIP(r), map[string]string{"reason": outcomeFor(err)})
		h.writeAuthError(w, r, err)
		return
	}

	metrics.RecordAuth("login", "success")
	h.Audit.LogSuccess("auth.login", result.User.Username, audit.ClientIP(r), nil)
	writeTokens(w, result)
}

// Refresh trades a refresh token for a new pair. The token is read from the
// body, or from the Authorization header when the body carries none.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		metrics.RecordAuth("refresh", "invalid")
		problem.Write(w, r, http.StatusBadRequest, problem.TypeValidation, "Invalid request body", err, h.Env)
		return
	}
	token := strings.TrimSpace(req.RefreshToken)
	if token == "" {
		token, _ = auth.TokenFromHeader(r.Header.Get("Authorization"))
	}

	result, err := h.Accounts.Refresh(r.Context(), token)
	if err != nil {
		metrics.RecordAuth("refresh", outcomeFor(err))
		h.Audit.LogFailure("auth.refresh", "", audit.ClientIP(r), map[string]string{"reason": outcomeFor(err)})
		h.writeAuthError(w, r, err)
		return
	}

	metrics.RecordAuth("refresh", "success")
	h.Audit.LogSuccess("auth.refresh", result.User.Username, audit.ClientIP(r), nil)
	writeTokens(w, result)
}

// Logout revokes every token of the caller. It succeeds even when the
// presented token is missing or already dead.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var subject string
	if token, _ := auth.TokenFromHeader(r.Header.Get("Authorization")); token != "" {
		var err error
		subject, err = h.Accounts.Logout(r.Context(), token)
		if err != nil {
			metrics.RecordAuth("logout", "error")
			problem.Write(w, r, http.StatusInternalServerError, problem.TypeInternal, "Server error", err, h.Env)
			return
		}
	}

	metrics.RecordAuth("logout", "success")
	h.Audit.LogSuccess("auth.logout", subject, audit.ClientIP(r), nil)

	writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"}, contentTypeJSON)
}

// Me reports the principal the gate attached to the request.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	p := auth.PrincipalFromContext(r.Context())
	if p == nil || p.Anonymous {
		problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Unauthorized", problem.ErrUnauthorized, h.Env)
		return
	}
	writeJSON(w, http.StatusOK, meResponse{Subject: p.Subject, Roles: auth.RoleStrings(p.Roles)}, contentTypeJSON)
}

// authErrors maps account failures onto problems and metric outcomes.
var authErrors = problem.AuthMappings().With(problem.Mapping{
	Err:    accounts.ErrInvalidInput,
	Status: http.StatusBadRequest,
	Type:   problem.TypeValidation,
	Title:  "Invalid input",
	Reason: "invalid",
	Detail: func(err error) string { return err.Error() },
})

func (h *AuthHandler) writeAuthError(w http.ResponseWriter, r *http.Request, err error) {
	authErrors.WriteError(w, r, err, h.Env)
}

func outcomeFor(err error) string {
	return authErrors.Reason(err)
}

func writeTokens(w http.ResponseWriter, result *accounts.AuthResult) {
	resp := tokenResponse{AccessToken: result.AccessToken, RefreshToken: result.RefreshToken}
	if result.User != nil {
		summary := result.User.Summary()
		resp.User = &summary
	}
	writeJSON(w, http.StatusOK, resp, contentTypeJSON)
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}
