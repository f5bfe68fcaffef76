package middleware

import (
	"context"
	"errors"
	"net/http"

	"github.com/eventboard/server/internal/auth"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// GateState is the outcome of evaluating one request.
type GateState string

const (
	StateBypassed        GateState = "bypassed"
	StateUnauthenticated GateState = "unauthenticated"
	StateAuthenticated   GateState = "authenticated"
	StateRejected        GateState = "rejected"
)

// Decision is attached to every request that passed through the gate.
type Decision struct {
	State     GateState
	Principal *auth.Principal
	Rule      RouteRule
	Reason    string
}

type decisionKey struct{}

func contextWithDecision(ctx context.Context, d Decision) context.Context {
	return context.WithValue(ctx, decisionKey{}, d)
}

// DecisionFromContext returns the gate decision, if the gate ran.
func DecisionFromContext(ctx context.Context) (Decision, bool) {
	d, ok := ctx.Value(decisionKey{}).(Decision)
	return d, ok
}

// GateObserver is told the state of every evaluated request.
type GateObserver func(GateState)

// Gate resolves the caller of a request from its bearer token. It never
// fails a request: anything short of a verified, ledger-valid access token
// leaves the request unauthenticated. Authorize enforces the policy.
type Gate struct {
	policy  *RoutePolicy
	issuer  *auth.TokenIssuer
	ledger  auth.TokenLookup
	logger  zerolog.Logger
	observe GateObserver
}

func NewGate(policy *RoutePolicy, issuer *auth.TokenIssuer, ledger auth.TokenLookup, logger zerolog.Logger, observe GateObserver) *Gate {
	if policy == nil {
		policy = DefaultRoutePolicy()
	}
	if observe == nil {
		observe = func(GateState) {}
	}
	return &Gate{
		policy:  policy,
		issuer:  issuer,
		ledger:  ledger,
		logger:  logger.With().Str("component", "gate").Logger(),
		observe: observe,
	}
}

// Evaluate decides the state of r without side effects on the request.
func (g *Gate) Evaluate(r *http.Request) Decision {
	rule := g.policy.Match(r.Method, r.URL.Path)

	if r.Method == http.MethodOptions {
		return Decision{State: StateBypassed, Rule: rule, Reason: "preflight"}
	}
	switch rule.Access {
	case AccessPublic:
		return Decision{State: StateBypassed, Rule: rule, Reason: "public route"}
	case AccessUpload:
		return Decision{State: StateBypassed, Rule: rule, Principal: auth.AnonymousPrincipal(), Reason: "upload route"}
	}

	token, err := auth.TokenFromHeader(r.Header.Get("Authorization"))
	if err != nil {
		return Decision{State: StateUnauthenticated, Rule: rule, Reason: "no bearer token"}
	}

	logger := g.requestLogger(r.Context())

	claims, err := g.issuer.Verify(token)
	if err != nil {
		reason := "token failed verification"
		if errors.Is(err, auth.ErrTokenExpired) {
			reason = "token expired"
		}
		logger.Debug().Err(err).Str("path", r.URL.Path).Msg(reason)
		return Decision{State: StateUnauthenticated, Rule: rule, Reason: reason}
	}
	if claims.Type != auth.TypeAccess {
		logger.Warn().Str("subject", claims.Subject).Str("typ", claims.Type).Msg("non-access token presented as bearer")
		return Decision{State: StateUnauthenticated, Rule: rule, Reason: "not an access token"}
	}

	record, err := g.ledger.FindByToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, auth.ErrTokenNotFound) {
			logger.Warn().Str("subject", claims.Subject).Msg("verified token missing from ledger")
			return Decision{State: StateUnauthenticated, Rule: rule, Reason: "token not recorded"}
		}
		logger.Error().Err(err).Msg("ledger lookup failed")
		return Decision{State: StateUnauthenticated, Rule: rule, Reason: "ledger unavailable"}
	}
	if record.Type != auth.TokenAccess || !record.Usable() {
		logger.Debug().
			Str("subject", claims.Subject).
			Bool("revoked", record.Revoked).
			Bool("expired", record.Expired).
			Msg("token no longer valid in ledger")
		return Decision{State: StateUnauthenticated, Rule: rule, Reason: "token revoked or expired"}
	}

	roles, err := g.issuer.ExtractRoles(token)
	if err != nil {
		logger.Warn().Err(err).Msg("extract roles")
		return Decision{State: StateUnauthenticated, Rule: rule, Reason: "unreadable roles"}
	}

	return Decision{
		State: StateAuthenticated,
		Rule:  rule,
		Principal: &auth.Principal{
			Subject: claims.Subject,
			Roles:   roles,
			TokenID: claims.ID,
		},
	}
}

// Middleware evaluates every request and attaches the decision and any
// principal to the request context.
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision := g.Evaluate(r)
		g.observe(decision.State)
		noteDecision(r.Context(), decision)
		trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("auth.state", string(decision.State)))

		ctx := contextWithDecision(r.Context(), decision)
		if decision.Principal != nil {
			ctx = auth.ContextWithPrincipal(ctx, decision.Principal)
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (g *Gate) requestLogger(ctx context.Context) zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l.With().Str("component", "gate").Logger()
	}
	return g.logger
}
