package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/eventboard/server/internal/metrics"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func readyz(t *testing.T, checker *HealthChecker) (int, HealthCheck) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	w := httptest.NewRecorder()
	checker.Readyz().ServeHTTP(w, req)

	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var response HealthCheck
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	return w.Code, response
}

func TestReadyz_DatabaseMissing(t *testing.T) {
	checker := NewHealthChecker(nil, nil, nil, "0.1.0", "test-commit")

	code, response := readyz(t, checker)

	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unhealthy", response.Status)
	assert.Equal(t, "fail", response.Checks["database"].Status)
	assert.Equal(t, "fail", response.Checks["migrations"].Status)
	assert.Contains(t, response.Checks["migrations"].Message, "Database pool not initialized")
	assert.Equal(t, "warn", response.Checks["job_queue"].Status)
	assert.Equal(t, "pass", response.Checks["cache"].Status)

	assert.Equal(t, float64(0), testutil.ToFloat64(metrics.HealthCheckStatus.WithLabelValues("database")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.HealthCheckStatus.WithLabelValues("job_queue")))
}

func TestReadyz_ShuttingDown(t *testing.T) {
	checker := NewHealthChecker(nil, nil, nil, "0.1.0", "test-commit")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodGet, "/readyz", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	checker.Readyz().ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "shutting_down")
}

func TestCheckCache(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	checker := NewHealthChecker(nil, client, nil, "0.1.0", "test-commit")
	assert.Equal(t, "pass", checker.checkCache(context.Background()).Status)

	mr.Close()
	result := checker.checkCache(context.Background())
	assert.Equal(t, "warn", result.Status)
	assert.NotEmpty(t, result.Details["error"])
}

func TestHealthz(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()

	Healthz().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var response healthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&response))
	assert.Equal(t, "ok", response.Status)
}

func TestReadyz_WithDatabase(t *testing.T) {
	if testing.Short() {
		t.Skip("requires PostgreSQL")
	}
	ctx := context.Background()
	pool, cleanup := setupTestDB(t, ctx)
	defer cleanup()

	checker := NewHealthChecker(pool, nil, nil, "0.1.0", "abc123")

	t.Run("migrations table missing", func(t *testing.T) {
		_, err := pool.Exec(ctx, `DROP TABLE IF EXISTS schema_migrations`)
		require.NoError(t, err)

		code, response := readyz(t, checker)
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "pass", response.Checks["database"].Status)
		assert.Equal(t, "fail", response.Checks["migrations"].Status)
		assert.Equal(t, "Migrations not applied", response.Checks["migrations"].Message)
	})

	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version BIGINT PRIMARY KEY,
			dirty BOOLEAN NOT NULL
		)
	`)
	require.NoError(t, err)

	t.Run("dirty", func(t *testing.T) {
		_, err := pool.Exec(ctx, `INSERT INTO schema_migrations (version, dirty) VALUES (3, true)
			ON CONFLICT (version) DO UPDATE SET dirty = true`)
		require.NoError(t, err)

		code, response := readyz(t, checker)
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Equal(t, "fail", response.Checks["migrations"].Status)
		assert.Contains(t, response.Checks["migrations"].Message, "dirty")
	})

	t.Run("clean", func(t *testing.T) {
		_, err := pool.Exec(ctx, `UPDATE schema_migrations SET dirty = false`)
		require.NoError(t, err)

		code, response := readyz(t, checker)
		assert.Equal(t, http.StatusOK, code)
		// No job queue is running in this test.
		assert.Equal(t, "degraded", response.Status)
		assert.Equal(t, "0.1.0", response.Version)
		assert.Equal(t, "abc123", response.GitCommit)
		assert.Equal(t, "pass", response.Checks["migrations"].Status)
		assert.Equal(t, float64(3), response.Checks["migrations"].Details["version"])

		_, err = time.Parse(time.RFC3339, response.Timestamp)
		assert.NoError(t, err)
	})
}

// setupTestDB uses DATABASE_URL when it is reachable and a throwaway
// PostgreSQL container otherwise.
func setupTestDB(t *testing.T, ctx context.Context) (*pgxpool.Pool, func()) {
	t.Helper()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(ctx, dbURL)
		if err == nil && pool.Ping(ctx) == nil {
			return pool, func() { pool.Close() }
		}
		t.Logf("DATABASE_URL set but connection failed, using testcontainer")
	}

	postgresContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("eventboard_test"),
		tcpostgres.WithUsername("eventboard"),
		tcpostgres.WithPassword("eventboard-test-password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err, "failed to start PostgreSQL container")

	dbURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, dbURL)
	require.NoError(t, err)
	require.NoError(t, pool.Ping(ctx))

	cleanup := func() {
		pool.Close()
		if err := testcontainers.TerminateContainer(postgresContainer); err != nil {
			t.Logf("Failed to terminate PostgreSQL container: %v", err)
		}
	}
	return pool, cleanup
}
