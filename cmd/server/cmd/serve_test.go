package cmd

import (
	"testing"

	"github.com/eventboard/server/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setMinimalEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("DATABASE_URL", "postgres://test")
	t.Setenv("JWT_SECRET", "test-secret-at-least-32-characters-long")
	t.Setenv("SERVER_HOST", "")
	t.Setenv("SERVER_PORT", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("LOG_FORMAT", "")
}

func TestServeCommandHelp(t *testing.T) {
	output, err := execute(t, "serve", "--help")
	require.NoError(t, err)

	for _, expected := range []string{"Start the HTTP server", "--host", "--port", "--log-level", "--log-format"} {
		assert.Contains(t, output, expected)
	}
}

func TestServeCommandFlagParsing(t *testing.T) {
	root := newRootCommand()
	serve, _, err := root.Find([]string{"serve"})
	require.NoError(t, err)

	require.NoError(t, serve.ParseFlags([]string{"--host", "127.0.0.1", "--port", "9090"}))
	host, err := serve.Flags().GetString("host")
	require.NoError(t, err)
	port, err := serve.Flags().GetInt("port")
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", host)
	assert.Equal(t, 9090, port)
}

func TestApplyServeFlags(t *testing.T) {
	cfg := config.Config{Server: config.ServerConfig{Host: "0.0.0.0", Port: 8080}}

	applyServeFlags(&cfg, &serveOptions{})
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)

	applyServeFlags(&cfg, &serveOptions{host: "127.0.0.1", port: 9090})
	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
}

func TestLoadConfigDefaults(t *testing.T) {
	setMinimalEnv(t)

	cfg, err := loadConfig(&globalOptions{})
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadConfigFlagOverrides(t *testing.T) {
	setMinimalEnv(t)
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := loadConfig(&globalOptions{logLevel: "debug", logFormat: "console"})
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
}

func TestLoadConfigMissingRequiredVars(t *testing.T) {
	tests := []struct {
		name        string
		environment string
		databaseURL string
		jwtSecret   string
		expectError bool
	}{
		{"missing DATABASE_URL", "development", "", "test-secret-at-least-32-characters-long", true},
		{"missing JWT_SECRET", "development", "postgres://test", "", true},
		{"short JWT_SECRET in production", "production", "postgres://test", "short", true},
		{"short JWT_SECRET in development", "development", "postgres://test", "short", false},
		{"valid config", "development", "postgres://test", "test-secret-at-least-32-characters-long", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ENVIRONMENT", tt.environment)
			t.Setenv("CORS_ALLOWED_ORIGINS", "https://example.com")
			t.Setenv("DATABASE_URL", tt.databaseURL)
			t.Setenv("JWT_SECRET", tt.jwtSecret)

			_, err := loadConfig(nil)
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
