package api

import (
	"net/http"
	"sort"
	"strings"

	"github.com/eventboard/server/internal/api/handlers"
	"github.com/eventboard/server/internal/api/middleware"
	"github.com/eventboard/server/internal/audit"
	"github.com/eventboard/server/internal/auth"
	"github.com/eventboard/server/internal/config"
	"github.com/eventboard/server/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// RouterDeps carries everything the HTTP surface needs. Policy and Health
// are optional: a nil Policy uses middleware.DefaultRoutePolicy and a nil
// Health serves a readiness check with no dependencies attached.
type RouterDeps struct {
	Config   config.Config
	Logger   zerolog.Logger
	Accounts handlers.AccountService
	Issuer   *auth.TokenIssuer
	Ledger   auth.TokenLookup
	Policy   *middleware.RoutePolicy
	Health   *handlers.HealthChecker
	Audit    *audit.Logger

	Version   string
	GitCommit string
	BuildDate string
}

// observeGate counts every gate outcome, including rejections raised by
// Authorize.
func observeGate(state middleware.GateState) {
	metrics.GateDecisions.WithLabelValues(string(state)).Inc()
}

// NewRouter builds the routes and wraps them in the middleware chain. The
// gate runs before the rate limiter so the limiter can pick a tier from the
// principal, and Authorize runs last so 401/403 responses are still rate
// limited.
func NewRouter(deps RouterDeps) http.Handler {
	cfg := deps.Config
	logger := deps.Logger.With().Str("component", "http").Logger()

	auditLogger := deps.Audit
	if auditLogger == nil {
		auditLogger = audit.NewLoggerWithZerolog(deps.Logger)
	}
	health := deps.Health
	if health == nil {
		health = handlers.NewHealthChecker(nil, nil, nil, deps.Version, deps.GitCommit)
	}

	authHandler := handlers.NewAuthHandler(deps.Accounts, auditLogger, cfg.Environment)
	catalog := handlers.NewCatalogHandler(cfg.Environment)

	mux := http.NewServeMux()
	mux.Handle("/healthz", handlers.Healthz())
	mux.Handle("/readyz", health.Readyz())
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{Registry: metrics.Registry}))
	mux.Handle("/version", VersionHandler(deps.Version, deps.GitCommit, deps.BuildDate))

	post := func(h http.HandlerFunc) http.Handler {
		return methodMux(map[string]http.Handler{http.MethodPost: h})
	}
	mux.Handle("/api/v1/auth/register", post(authHandler.Register))
	mux.Handle("/api/v1/auth/authenticate", post(authHandler.Authenticate))
	mux.Handle("/api/v1/auth/refresh", post(authHandler.Refresh))
	mux.Handle("/api/v1/auth/refresh-token", post(authHandler.Refresh))
	mux.Handle("/api/v1/auth/logout", post(authHandler.Logout))
	mux.Handle("/api/v1/auth/me", methodMux(map[string]http.Handler{
		http.MethodGet: http.HandlerFunc(authHandler.Me),
	}))

	events := methodMux(map[string]http.Handler{
		http.MethodGet:  http.HandlerFunc(catalog.ListEvents),
		http.MethodPost: http.HandlerFunc(catalog.CreateEvent),
	})
	mux.Handle("/api/v1/events", events)
	mux.Handle("/events", events)

	organizations := methodMux(map[string]http.Handler{
		http.MethodGet: http.HandlerFunc(catalog.ListOrganizations),
	})
	mux.Handle("/api/v1/organizations", organizations)
	mux.Handle("/organizations", organizations)

	upload := methodMux(map[string]http.Handler{
		http.MethodGet:  http.HandlerFunc(catalog.Upload),
		http.MethodPost: http.HandlerFunc(catalog.Upload),
	})
	mux.Handle("/uploadImage", upload)
	mux.Handle("/uploadFile", upload)

	gate := middleware.NewGate(deps.Policy, deps.Issuer, deps.Ledger, logger, observeGate)

	var handler http.Handler = mux
	handler = middleware.Authorize(cfg.Environment, observeGate)(handler)
	handler = middleware.RateLimit(cfg.RateLimit, cfg.Environment)(handler)
	handler = gate.Middleware(handler)
	handler = middleware.RequestSize(cfg.Server.MaxBodyBytes, cfg.Environment)(handler)
	handler = middleware.CORS(cfg.CORS, logger)(handler)
	handler = middleware.SecurityHeaders(cfg.Environment == "production")(handler)
	handler = metrics.HTTPMiddleware(handler)
	handler = middleware.RequestLogging(logger)(handler)
	handler = middleware.CorrelationID(logger)(handler)
	handler = middleware.Tracing(handler)
	return handler
}

func methodMux(handlers map[string]http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler.ServeHTTP(w, r)
			return
		}
		w.Header().Set("Allow", allowedMethods(handlers))
		w.WriteHeader(http.StatusMethodNotAllowed)
	})
}

func allowedMethods(handlers map[string]http.Handler) string {
	methods := make([]string, 0, len(handlers))
	for method := range handlers {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	return strings.Join(methods, ", ")
}
