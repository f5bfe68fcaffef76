// Package problem writes RFC 7807 application/problem+json error bodies.
package problem

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
)

const contentType = "application/problem+json"

const typeBase = "https://eventboard.dev/problems/"

const (
	TypeUnauthorized       = typeBase + "unauthorized"
	TypeForbidden          = typeBase + "forbidden"
	TypeInvalidCredentials = typeBase + "invalid-credentials"
	TypeTokenExpired       = typeBase + "token-expired"
	TypeTokenRevoked       = typeBase + "token-revoked"
	TypeMalformedToken     = typeBase + "malformed-token"
	TypeDuplicateUser      = typeBase + "duplicate-user"
	TypeValidation         = typeBase + "validation-error"
	TypeRateLimited        = typeBase + "rate-limit-exceeded"
	TypeRequestTooLarge    = typeBase + "request-too-large"
	TypeInternal           = typeBase + "server-error"
)

// Errors for problems raised by middleware rather than a failed call.
var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrForbidden       = errors.New("forbidden")
	ErrTooManyRequests = errors.New("too many requests")
)

type ProblemDetails struct {
	Type     string                 `json:"type"`
	Title    string                 `json:"title"`
	Status   int                    `json:"status"`
	Detail   string                 `json:"detail,omitempty"`
	Instance string                 `json:"instance,omitempty"`
	Errors   map[string]interface{} `json:"errors,omitempty"`
}

type Option func(*ProblemDetails)

func WithDetail(detail string) Option {
	return func(p *ProblemDetails) { p.Detail = detail }
}

func WithInstance(instance string) Option {
	return func(p *ProblemDetails) { p.Instance = instance }
}

func WithErrors(errs map[string]interface{}) Option {
	return func(p *ProblemDetails) { p.Errors = errs }
}

// Write logs err through the request logger and writes the problem. Unless an
// option sets the detail, err's text is shown only in development and test.
func Write(w http.ResponseWriter, r *http.Request, status int, typ, title string, err error, env string, opts ...Option) {
	p := ProblemDetails{Type: typ, Title: title, Status: status}
	for _, opt := range opts {
		opt(&p)
	}
	if p.Detail == "" && err != nil {
		p.Detail = detailFor(err, status, env)
	}
	if r != nil {
		if p.Instance == "" {
			p.Instance = r.URL.Path
		}
		if err != nil {
			logProblem(r, p, err)
		}
	}
	WriteProblem(w, p)
}

func detailFor(err error, status int, env string) string {
	switch env {
	case "development", "test":
		return err.Error()
	default:
		return http.StatusText(status)
	}
}

// logProblem logs client errors at warn and server errors at error.
func logProblem(r *http.Request, p ProblemDetails, err error) {
	if p.Status < http.StatusBadRequest {
		return
	}
	level := zerolog.WarnLevel
	if p.Status >= http.StatusInternalServerError {
		level = zerolog.ErrorLevel
	}
	zerolog.Ctx(r.Context()).WithLevel(level).
		Err(err).
		Int("status", p.Status).
		Str("type", p.Type).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Msg(p.Title)
}

func WriteProblem(w http.ResponseWriter, p ProblemDetails) {
	w.Header().Set("Content-Type", contentType)
	payload, err := json.Marshal(p)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"type":"about:blank","title":"Internal Server Error","status":500}`))
		return
	}
	w.WriteHeader(p.Status)
	_, _ = w.Write(payload)
}
