package middleware

import (
	"errors"
	"net/http"

	"github.com/eventboard/server/internal/api/problem"
)

// DefaultMaxBodySize applies when SERVER_MAX_BODY_BYTES is unset.
const DefaultMaxBodySize int64 = 1 << 20

var errBodyTooLarge = errors.New("request body too large")

// RequestSize caps request bodies at maxBytes. Requests that declare a
// larger Content-Length are refused with 413 up front; the rest are wrapped
// in http.MaxBytesReader so handlers see an error once the cap is crossed.
func RequestSize(maxBytes int64, env string) func(http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodySize
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.ContentLength > maxBytes {
				problem.Write(w, r, http.StatusRequestEntityTooLarge, problem.TypeRequestTooLarge, "Request Too Large", errBodyTooLarge, env)
				return
			}
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}
