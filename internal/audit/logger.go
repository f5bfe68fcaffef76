package audit

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Entry is one security-relevant event: a login, refresh, logout or role change.
type Entry struct {
	Timestamp time.Time         `json:"timestamp"`
	Action    string            `json:"action"`
	Subject   string            `json:"subject"`
	IPAddress string            `json:"ip_address,omitempty"`
	Status    string            `json:"status"` // "success" or "failure"
	Details   map[string]string `json:"details,omitempty"`
}

// Logger writes audit entries as a nested "audit" object on a zerolog logger.
type Logger struct {
	output zerolog.Logger
}

// NewLogger logs through the global zerolog logger.
func NewLogger() *Logger {
	return NewLoggerWithZerolog(log.Logger)
}

func NewLoggerWithZerolog(logger zerolog.Logger) *Logger {
	return &Logger{output: logger.With().Str("component", "audit").Logger()}
}

func (l *Logger) Log(entry Entry) {
	if l == nil {
		return
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(entry)
	if err != nil {
		l.output.Error().Err(err).Str("action", entry.Action).Msg("marshal audit entry")
		return
	}

	event := l.output.Info()
	if entry.Status == "failure" {
		event = l.output.Warn()
	}
	event.RawJSON("audit", data).Msg(entry.Action)
}

func (l *Logger) LogSuccess(action, subject, ipAddress string, details map[string]string) {
	l.Log(Entry{
		Action:    action,
		Subject:   subject,
		IPAddress: ipAddress,
		Status:    "success",
		Details:   details,
	})
}

func (l *Logger) LogFailure(action, subject, ipAddress string, details map[string]string) {
	l.Log(Entry{
		Action:    action,
		Subject:   subject,
		IPAddress: ipAddress,
		Status:    "failure",
		Details:   details,
	})
}

// ClientIP returns the first X-Forwarded-For hop, X-Real-IP, or the remote
// address without its port.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
