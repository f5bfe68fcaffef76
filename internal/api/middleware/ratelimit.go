package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/eventboard/server/internal/api/problem"
	"github.com/eventboard/server/internal/auth"
	"github.com/eventboard/server/internal/config"
	"golang.org/x/time/rate"
)

type RateLimitTier string

const (
	TierPublic        RateLimitTier = "public"
	TierAuthenticated RateLimitTier = "authenticated"
	TierAdmin         RateLimitTier = "admin"
	// TierLogin covers credential endpoints: a small burst refilled over 15 minutes.
	TierLogin RateLimitTier = "login"
)

const loginWindow = 15 * time.Minute

type rateLimitKey string

const rateLimitTierKey rateLimitKey = "rateLimitTier"

func WithRateLimitTier(ctx context.Context, tier RateLimitTier) context.Context {
	return context.WithValue(ctx, rateLimitTierKey, tier)
}

// TierForRequest picks a tier when no explicit tier is in the context.
// It runs after the gate so it can see the principal.
func TierForRequest(r *http.Request) RateLimitTier {
	if tier, ok := r.Context().Value(rateLimitTierKey).(RateLimitTier); ok {
		return tier
	}
	if r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/api/v1/auth/") {
		return TierLogin
	}
	principal := auth.PrincipalFromContext(r.Context())
	switch {
	case principal == nil || principal.Anonymous:
		return TierPublic
	case principal.HasRole(auth.RoleAdmin):
		return TierAdmin
	default:
		return TierAuthenticated
	}
}

// RateLimit applies a per-client token bucket per tier. A tier with a
// non-positive limit is unlimited.
func RateLimit(cfg config.RateLimitConfig, env string) func(http.Handler) http.Handler {
	store := newLimiterStore(cfg)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/healthz" || r.URL.Path == "/readyz" {
				next.ServeHTTP(w, r)
				return
			}

			tier := TierForRequest(r)
			limiter := store.limiter(tier, clientKey(r, cfg.TrustedProxyCIDRs))
			if limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			if !limiter.Allow() {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(tier, store.perWindow[tier])))
				problem.Write(w, r, http.StatusTooManyRequests, problem.TypeRateLimited, "Too Many Requests", problem.ErrTooManyRequests, env)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func retryAfterSeconds(tier RateLimitTier, limit int) int {
	if tier == TierLogin && limit > 0 {
		return int((loginWindow / time.Duration(limit)).Seconds())
	}
	return 60
}

type limiterStore struct {
	mu          sync.Mutex
	limiters    map[string]*limiterEntry
	perWindow   map[RateLimitTier]int
	stopCleanup chan struct{}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newLimiterStore(cfg config.RateLimitConfig) *limiterStore {
	store := &limiterStore{
		limiters: make(map[string]*limiterEntry),
		perWindow: map[RateLimitTier]int{
			TierPublic:        cfg.PublicPerMinute,
			TierAuthenticated: cfg.AuthedPerMinute,
			TierAdmin:         cfg.AdminPerMinute,
			TierLogin:         cfg.LoginPer15Minutes,
		},
		stopCleanup: make(chan struct{}),
	}

	go store.cleanupLoop()

	return store
}

func (s *limiterStore) limiter(tier RateLimitTier, key string) *rate.Limiter {
	limit := s.perWindow[tier]
	if limit <= 0 {
		return nil
	}

	lookup := string(tier) + ":" + key
	if key == "" {
		lookup = string(tier)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.limiters[lookup]; ok {
		entry.lastSeen = time.Now()
		return entry.limiter
	}

	window := time.Minute
	if tier == TierLogin {
		window = loginWindow
	}
	limiter := rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)

	s.limiters[lookup] = &limiterEntry{
		limiter:  limiter,
		lastSeen: time.Now(),
	}
	return limiter
}

func (s *limiterStore) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

// cleanup drops limiters idle for longer than the login window.
func (s *limiterStore) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for key, entry := range s.limiters {
		if now.Sub(entry.lastSeen) > loginWindow {
			delete(s.limiters, key)
		}
	}
}

func (s *limiterStore) Stop() {
	close(s.stopCleanup)
}

// clientKey identifies the caller. Forwarding headers are only honoured when
// the connection comes from a trusted proxy.
func clientKey(r *http.Request, trustedProxyCIDRs []string) string {
	if r == nil {
		return ""
	}

	remoteIP := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		remoteIP = host
	}

	if isTrustedProxy(remoteIP, trustedProxyCIDRs) {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			return strings.TrimSpace(first)
		}
		if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
			return strings.TrimSpace(realIP)
		}
	}

	return remoteIP
}

func isTrustedProxy(ip string, trustedCIDRs []string) bool {
	if len(trustedCIDRs) == 0 {
		return false
	}

	parsedIP := net.ParseIP(ip)
	if parsedIP == nil {
		return false
	}

	for _, cidrStr := range trustedCIDRs {
		_, cidr, err := net.ParseCIDR(cidrStr)
		if err != nil {
			continue
		}
		if cidr.Contains(parsedIP) {
			return true
		}
	}

	return false
}
