package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/eventboard/server/internal/auth"
	"github.com/eventboard/server/internal/config"
	"github.com/eventboard/server/internal/domain/accounts"
	"github.com/eventboard/server/internal/metrics"
	"github.com/eventboard/server/internal/storage/cache"
	"github.com/eventboard/server/internal/storage/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// application is the wired account stack shared by serve and the
// administrative subcommands.
type application struct {
	cfg      config.Config
	logger   zerolog.Logger
	pool     *pgxpool.Pool
	repo     *postgres.Repository
	issuer   *auth.TokenIssuer
	redis    *redis.Client
	cache    *cache.LedgerCache
	accounts *accounts.Service
}

func loadConfig(opts *globalOptions) (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	if opts != nil {
		if opts.logLevel != "" {
			cfg.Logging.Level = opts.logLevel
		}
		if opts.logFormat != "" {
			cfg.Logging.Format = opts.logFormat
		}
	}
	return cfg, nil
}

func newCommandLogger(cfg config.Config) zerolog.Logger {
	return config.NewCommandLogger(os.Stderr, cfg.Logging)
}

func openPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	if cfg.MaxConnections > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConnections)
	}
	if cfg.MaxIdle > 0 && int32(cfg.MaxIdle) <= poolCfg.MaxConns {
		poolCfg.MinConns = int32(cfg.MaxIdle)
	}

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// openApplication connects PostgreSQL and, when REDIS_URL is set, the ledger
// cache. A Redis that cannot be reached is logged and skipped.
func openApplication(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*application, error) {
	pool, err := openPool(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	repo, err := postgres.NewRepository(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}

	issuerOpts := []auth.IssuerOption{}
	if cfg.Auth.JWTIssuer != "" {
		issuerOpts = append(issuerOpts, auth.WithIssuer(cfg.Auth.JWTIssuer))
	}
	issuer, err := auth.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL, cfg.Auth.RefreshTokenTTL, issuerOpts...)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("token issuer: %w", err)
	}

	app := &application{cfg: cfg, logger: logger, pool: pool, repo: repo, issuer: issuer}

	listeners := []accounts.RevocationListener{metrics.RevocationCounter{}}
	if cfg.Redis.URL != "" {
		client, err := cache.Open(ctx, cfg.Redis.URL)
		if err != nil {
			logger.Warn().Err(err).Msg("ledger cache disabled: redis unavailable")
		} else {
			app.redis = client
			app.cache = cache.NewLedgerCache(client, repo.Tokens(), cfg.Redis.CacheTTL, logger)
			listeners = append(listeners, app.cache)
			logger.Info().Dur("ttl", cfg.Redis.CacheTTL).Msg("ledger cache enabled")
		}
	}

	app.accounts = accounts.NewService(repo, issuer, logger,
		accounts.WithPasswordCost(cfg.Auth.BcryptCost),
		accounts.WithRevocationListener(listeners...),
	)
	return app, nil
}

// ledger is what the request gate reads: the cache when enabled, otherwise
// PostgreSQL directly.
func (a *application) ledger() auth.TokenLookup {
	if a.cache != nil {
		return a.cache
	}
	return a.repo.Tokens()
}

// redisClient returns a nil interface when the cache is disabled.
func (a *application) redisClient() redis.UniversalClient {
	if a.redis == nil {
		return nil
	}
	return a.redis
}

func (a *application) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("close redis")
		}
	}
	a.pool.Close()
}

// bootstrapAdmin creates the ADMIN_* account once. Missing settings skip it.
func bootstrapAdmin(ctx context.Context, app *application) error {
	bootstrap := app.cfg.AdminBootstrap
	if bootstrap.Username == "" || bootstrap.Password == "" || bootstrap.Email == "" {
		app.logger.Warn().Msg("admin bootstrap env vars not fully set; skipping")
		return nil
	}

	created, err := app.accounts.EnsureAdmin(ctx, bootstrap.Username, bootstrap.Email, bootstrap.Password)
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	if !created {
		return nil
	}

	event := app.logger.Info().Str("username", bootstrap.Username)
	if !app.cfg.IsProduction() {
		event = event.Str("email", bootstrap.Email)
	}
	event.Msg("bootstrapped admin user")
	return nil
}
