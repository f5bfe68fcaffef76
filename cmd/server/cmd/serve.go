package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eventboard/server/internal/api"
	"github.com/eventboard/server/internal/api/handlers"
	"github.com/eventboard/server/internal/api/middleware"
	"github.com/eventboard/server/internal/audit"
	"github.com/eventboard/server/internal/config"
	"github.com/eventboard/server/internal/jobs"
	"github.com/eventboard/server/internal/metrics"
	"github.com/eventboard/server/internal/telemetry"
	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

type serveOptions struct {
	host string
	port int
}

func newServeCommand(global *globalOptions) *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the HTTP server and the background token expiry sweep.

The server will:
- Load configuration from environment variables
- Bootstrap the admin user if ADMIN_* env vars are set
- Serve the auth endpoints and gate every other route
- Drain connections and stop workers on SIGINT/SIGTERM

Examples:
  # Start with default configuration (from env vars)
  server serve

  # Start on a specific host and port
  server serve --host 127.0.0.1 --port 9090

  # Start with debug logging
  server serve --log-level debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(global)
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			applyServeFlags(&cfg, opts)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&opts.host, "host", "", "server host address (default: 0.0.0.0)")
	cmd.Flags().IntVar(&opts.port, "port", 0, "server port (default: 8080)")
	return cmd
}

func applyServeFlags(cfg *config.Config, opts *serveOptions) {
	if opts.host != "" {
		cfg.Server.Host = opts.host
	}
	if opts.port != 0 {
		cfg.Server.Port = opts.port
	}
}

func runServer(ctx context.Context, cfg config.Config) error {
	logger := config.NewLogger(cfg.Logging)
	logger.Info().Str("version", Version).Str("environment", cfg.Environment).Msg("starting eventboard server")

	metrics.Init(Version, GitCommit, BuildDate)

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Tracing, Version)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn().Err(err).Msg("tracing shutdown")
		}
	}()

	app, err := openApplication(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	bootstrapCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := bootstrapAdmin(bootstrapCtx, app); err != nil {
		logger.Error().Err(err).Msg("admin bootstrap failed")
	}
	cancel()

	policy := middleware.DefaultRoutePolicy()
	if cfg.Auth.RoutePolicyFile != "" {
		policy, err = middleware.LoadRoutePolicy(cfg.Auth.RoutePolicyFile)
		if err != nil {
			return fmt.Errorf("route policy: %w", err)
		}
		logger.Info().Str("file", cfg.Auth.RoutePolicyFile).Msg("route policy loaded")
	}

	riverClient, err := newRiverClient(app, logger)
	if err != nil {
		return fmt.Errorf("river client: %w", err)
	}

	handler := api.NewRouter(api.RouterDeps{
		Config:    cfg,
		Logger:    logger,
		Accounts:  app.accounts,
		Issuer:    app.issuer,
		Ledger:    app.ledger(),
		Policy:    policy,
		Health:    handlers.NewHealthChecker(app.pool, app.redisClient(), riverClient, Version, GitCommit),
		Audit:     audit.NewLoggerWithZerolog(logger),
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
	})

	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           handler,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		metrics.NewDBCollector(app.pool).Run(gctx, 15*time.Second)
		return nil
	})

	if riverClient != nil {
		// Stop drains running jobs, so the client must not see gctx cancel first.
		if err := riverClient.Start(context.WithoutCancel(gctx)); err != nil {
			return fmt.Errorf("river workers failed to start: %w", err)
		}
		logger.Info().Dur("sweep_interval", cfg.Jobs.SweepInterval).Msg("river workers started")
		g.Go(func() error {
			<-gctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := riverClient.Stop(stopCtx); err != nil {
				logger.Error().Err(err).Msg("river workers shutdown error")
				return err
			}
			logger.Info().Msg("river workers stopped")
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return gracefulShutdown(server, cfg.Server.ShutdownTimeout, logger)
	})

	return g.Wait()
}

// newRiverClient returns nil when the sweep is disabled.
func newRiverClient(app *application, logger zerolog.Logger) (*river.Client[pgx.Tx], error) {
	interval := app.cfg.Jobs.SweepInterval
	if interval <= 0 {
		logger.Warn().Msg("token expiry sweep disabled")
		return nil, nil
	}

	jobLogger := logger.With().Str("component", "jobs").Logger()
	policy := jobs.NewRetryPolicy(app.cfg.Jobs.RetrySweep)
	return jobs.NewClient(app.pool, jobs.ClientOptions{
		Workers:      jobs.NewWorkers(app.accounts, jobLogger),
		Policy:       policy,
		PeriodicJobs: jobs.NewPeriodicJobs(interval, policy),
		Hooks:        []rivertype.Hook{metrics.NewRiverMetricsHook()},
		ErrorHandler: jobs.NewAlertingErrorHandler(jobLogger, nil),
		Logger:       slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})),
	})
}

func gracefulShutdown(server *http.Server, timeout time.Duration, logger zerolog.Logger) error {
	logger.Info().Msg("shutting down")
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
		return err
	}

	logger.Info().Msg("server stopped")
	return nil
}
