package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// OAuth engine Prometheus metrics. Defined in a standalone package to avoid
// import cycles between the engine and HTTP packages.

var (
	TokensIssued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oauth_tokens_issued_total",
		Help: "Tokens emitidos por grant_type",
	}, []string{"grant_type"})

	ValidationFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oauth_validation_failures_total",
		Help: "Fallos de validación por código de error OAuth2",
	}, []string{"error_code"})

	SecurityEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oauth_security_events_total",
		Help: "Violaciones de seguridad detectadas (pkce_mismatch, redirect_mismatch, double_consumption)",
	}, []string{"kind"})

	SweepRemoved = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "oauth_sweep_removed_total",
		Help: "Entradas vencidas eliminadas por el sweep",
	})

	SweepDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "oauth_sweep_duration_seconds",
		Help:    "Duración de cada pasada del sweep",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
	})
)

// Register registers the engine metrics on the given registry (or default if nil).
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{
		TokensIssued, ValidationFailures, SecurityEvents, SweepRemoved, SweepDuration,
	} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
