package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

type responseWriter struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (w *responseWriter) WriteHeader(statusCode int) {
	if w.status == 0 {
		w.status = statusCode
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *responseWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += n
	return n, err
}

// requestInfo is filled in by inner middleware so the access log can report
// who made the request.
type requestInfo struct {
	subject string
	state   GateState
}

type requestInfoKey struct{}

func noteDecision(ctx context.Context, d Decision) {
	info, ok := ctx.Value(requestInfoKey{}).(*requestInfo)
	if !ok {
		return
	}
	info.state = d.State
	if d.Principal != nil {
		info.subject = d.Principal.Subject
	}
}

// RequestLogging writes one access log line per request. Server errors log
// at error level and client errors at warn.
func RequestLogging(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w}
			info := &requestInfo{}

			next.ServeHTTP(rw, r.WithContext(context.WithValue(r.Context(), requestInfoKey{}, info)))

			status := rw.status
			if status == 0 {
				status = http.StatusOK
			}

			l := logger
			if reqLogger := zerolog.Ctx(r.Context()); reqLogger.GetLevel() != zerolog.Disabled {
				l = *reqLogger
			}

			var event *zerolog.Event
			switch {
			case status >= 500:
				event = l.Error()
			case status >= 400:
				event = l.Warn()
			default:
				event = l.Info()
			}
			if info.subject != "" {
				event = event.Str("subject", info.subject)
			}
			if info.state != "" {
				event = event.Str("auth", string(info.state))
			}
			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("bytes", rw.bytes).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}
