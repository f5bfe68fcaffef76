package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts counts credential operations by operation and outcome.
	// operation: register|authenticate|refresh|logout
	AuthAttempts = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "attempts_total",
			Help:      "Credential operations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	// GateDecisions counts request gate outcomes.
	GateDecisions = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "gate_decisions_total",
			Help:      "Request gate decisions by state",
		},
		[]string{"state"},
	)

	TokensRevoked = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "tokens_revoked_total",
			Help:      "Ledger rows flagged revoked",
		},
	)

	TokensExpired = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "tokens_expired_total",
			Help:      "Ledger rows flagged expired by the sweep",
		},
	)

	// LedgerCacheLookups counts ledger cache results: hit|miss|error.
	LedgerCacheLookups = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "ledger_cache_lookups_total",
			Help:      "Token ledger cache lookups by result",
		},
		[]string{"result"},
	)
)

// RecordAuth counts one credential operation; outcome is a short label such
// as "success" or "revoked".
func RecordAuth(operation, outcome string) {
	AuthAttempts.WithLabelValues(operation, outcome).Inc()
}

// RevocationCounter feeds TokensRevoked from the account service.
type RevocationCounter struct{}

func (RevocationCounter) TokensRevoked(_ context.Context, count int64) {
	if count > 0 {
		TokensRevoked.Add(float64(count))
	}
}
