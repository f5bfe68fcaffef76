package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/eventboard/server/internal/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"
)

// HealthCheck is the body of /readyz.
type HealthCheck struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	GitCommit string                 `json:"git_commit"`
	Checks    map[string]CheckResult `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// CheckResult is one dependency probe: pass, warn or fail.
type CheckResult struct {
	Status    string                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	LatencyMs int64                  `json:"latency_ms,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

const checkTimeout = 2 * time.Second

// HealthChecker probes the database, the migration state, the optional
// ledger cache and the job queue.
type HealthChecker struct {
	pool        *pgxpool.Pool
	cache       redis.UniversalClient
	riverClient *river.Client[pgx.Tx]
	version     string
	gitCommit   string
}

func NewHealthChecker(pool *pgxpool.Pool, cache redis.UniversalClient, riverClient *river.Client[pgx.Tx], version, gitCommit string) *HealthChecker {
	return &HealthChecker{
		pool:        pool,
		cache:       cache,
		riverClient: riverClient,
		version:     version,
		gitCommit:   gitCommit,
	}
}

// Readyz answers 503 when any check fails and 200 otherwise. A warn result
// marks the server degraded without taking it out of rotation.
func (h *HealthChecker) Readyz() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"}, contentTypeJSON)
			return
		default:
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		checks := map[string]CheckResult{
			"database":   h.checkDatabase(ctx),
			"migrations": h.checkMigrations(ctx),
			"cache":      h.checkCache(ctx),
			"job_queue":  h.checkJobQueue(ctx),
		}

		overall := "healthy"
		statusCode := http.StatusOK
		for name, check := range checks {
			metrics.HealthCheckStatus.WithLabelValues(name).Set(checkValue(check.Status))
			switch {
			case check.Status == "fail":
				overall = "unhealthy"
				statusCode = http.StatusServiceUnavailable
			case check.Status == "warn" && overall == "healthy":
				overall = "degraded"
			}
		}

		writeJSON(w, statusCode, HealthCheck{
			Status:    overall,
			Version:   h.version,
			GitCommit: h.gitCommit,
			Checks:    checks,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}, contentTypeJSON)
	}
}

func checkValue(status string) float64 {
	switch status {
	case "pass":
		return 2
	case "warn":
		return 1
	default:
		return 0
	}
}

func (h *HealthChecker) checkDatabase(ctx context.Context) CheckResult {
	if h.pool == nil {
		return CheckResult{
			Status:  "fail",
			Message: "Database pool not initialized",
			Details: map[string]interface{}{
				"remediation": "Check that DATABASE_URL is set correctly and PostgreSQL is running",
			},
		}
	}

	start := time.Now()
	dbCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	err := h.pool.Ping(dbCtx)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		message := "Database ping failed"
		details := map[string]interface{}{"error": err.Error()}
		switch {
		case dbCtx.Err() == context.DeadlineExceeded:
			message = "Database ping timed out"
			details["remediation"] = "Check PostgreSQL load and network latency"
		case strings.Contains(err.Error(), "connection refused"):
			message = "Database connection refused"
			details["remediation"] = "Verify PostgreSQL is running and DATABASE_URL host/port are correct"
		case strings.Contains(err.Error(), "authentication failed"):
			message = "Database authentication failed"
			details["remediation"] = "Verify DATABASE_URL username and password"
		default:
			details["remediation"] = "Check DATABASE_URL and PostgreSQL service status"
		}
		return CheckResult{Status: "fail", Message: message, LatencyMs: latency, Details: details}
	}

	stats := h.pool.Stat()
	return CheckResult{
		Status:    "pass",
		Message:   "PostgreSQL connection successful",
		LatencyMs: latency,
		Details: map[string]interface{}{
			"max_connections":      stats.MaxConns(),
			"total_connections":    stats.TotalConns(),
			"idle_connections":     stats.IdleConns(),
			"acquired_connections": stats.AcquiredConns(),
		},
	}
}

func (h *HealthChecker) checkMigrations(ctx context.Context) CheckResult {
	if h.pool == nil {
		return CheckResult{Status: "fail", Message: "Database pool not initialized"}
	}

	start := time.Now()
	migCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	var (
		version int64
		dirty   bool
	)
	err := h.pool.QueryRow(migCtx, `SELECT version, dirty FROM schema_migrations ORDER BY version DESC LIMIT 1`).Scan(&version, &dirty)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		message := "Failed to query migration version"
		details := map[string]interface{}{"error": err.Error()}
		if strings.Contains(err.Error(), "does not exist") || errors.Is(err, pgx.ErrNoRows) {
			message = "Migrations not applied"
			details["remediation"] = "Run: server migrate up"
		}
		return CheckResult{Status: "fail", Message: message, LatencyMs: latency, Details: details}
	}

	if dirty {
		return CheckResult{
			Status:    "fail",
			Message:   "Database in dirty migration state",
			LatencyMs: latency,
			Details: map[string]interface{}{
				"version":     version,
				"dirty":       true,
				"remediation": "Fix the failed migration by hand, then force the version",
			},
		}
	}

	return CheckResult{
		Status:    "pass",
		Message:   fmt.Sprintf("Migrations applied (version %d)", version),
		LatencyMs: latency,
		Details:   map[string]interface{}{"version": version, "dirty": false},
	}
}

// checkCache only warns: the ledger cache falls through to PostgreSQL.
func (h *HealthChecker) checkCache(ctx context.Context) CheckResult {
	if h.cache == nil {
		return CheckResult{Status: "pass", Message: "Ledger cache disabled"}
	}

	start := time.Now()
	cacheCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	if err := h.cache.Ping(cacheCtx).Err(); err != nil {
		return CheckResult{
			Status:    "warn",
			Message:   "Ledger cache unreachable, serving from database",
			LatencyMs: time.Since(start).Milliseconds(),
			Details:   map[string]interface{}{"error": err.Error()},
		}
	}
	return CheckResult{Status: "pass", Message: "Redis reachable", LatencyMs: time.Since(start).Milliseconds()}
}

func (h *HealthChecker) checkJobQueue(ctx context.Context) CheckResult {
	if h.riverClient == nil || h.pool == nil {
		return CheckResult{Status: "warn", Message: "Job queue not running"}
	}

	start := time.Now()
	jobCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	var pending int64
	err := h.pool.QueryRow(jobCtx, `SELECT COUNT(*) FROM river_job WHERE state = ANY($1)`, []string{"available", "running", "retryable"}).Scan(&pending)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return CheckResult{
			Status:    "fail",
			Message:   "Failed to query job queue",
			LatencyMs: latency,
			Details: map[string]interface{}{
				"error":       err.Error(),
				"remediation": "Run: server migrate river",
			},
		}
	}

	return CheckResult{
		Status:    "pass",
		Message:   "River job queue operational",
		LatencyMs: latency,
		Details:   map[string]interface{}{"pending_jobs": pending},
	}
}

// Healthz is the liveness probe. It never touches dependencies.
func Healthz() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, healthResponse{Status: "ok"}, contentTypeJSON)
	})
}

type healthResponse struct {
	Status string `json:"status"`
}

const contentTypeJSON = "application/json"

func writeJSON(w http.ResponseWriter, status int, payload any, contentType string) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
