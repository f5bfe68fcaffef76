package middleware

import (
	"net/http"

	"github.com/eventboard/server/internal/api/problem"
	"github.com/eventboard/server/internal/auth"
)

// Authorize enforces the rule the gate matched. Requests without a gate
// decision are treated as needing authentication. Every 401 and 403 it
// writes is reported to observe as StateRejected.
func Authorize(env string, observe GateObserver) func(http.Handler) http.Handler {
	if observe == nil {
		observe = func(GateState) {}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			decision, ok := DecisionFromContext(r.Context())
			if !ok {
				decision = Decision{State: StateUnauthenticated, Rule: RouteRule{Access: AccessAuthenticated}}
			}
			if decision.State == StateBypassed {
				next.ServeHTTP(w, r)
				return
			}

			principal := auth.PrincipalFromContext(r.Context())
			if principal == nil || principal.Anonymous {
				observe(StateRejected)
				problem.Write(w, r, http.StatusUnauthorized, problem.TypeUnauthorized, "Unauthorized", problem.ErrUnauthorized, env,
					problem.WithDetail("a valid bearer access token is required"))
				return
			}

			if decision.Rule.Access == AccessRole && !principal.HasRole(decision.Rule.RequiredRoles()...) {
				observe(StateRejected)
				problem.Write(w, r, http.StatusForbidden, problem.TypeForbidden, "Forbidden", problem.ErrForbidden, env,
					problem.WithDetail("insufficient role for this resource"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
