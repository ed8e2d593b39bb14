package clients

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	breakerStateGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tourbot",
			Name:      "upstream_breaker_state",
			Help:      "Upstream circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	breakerTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tourbot",
			Name:      "upstream_breaker_transitions_total",
			Help:      "Upstream circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	retriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tourbot",
			Name:      "upstream_retries_total",
			Help:      "Retried upstream HTTP attempts",
		},
		[]string{"name"},
	)
)

func setBreakerState(name string, state BreakerState) {
	breakerStateGauge.WithLabelValues(name).Set(float64(state))
}

func breakerTransition(name string, from, to BreakerState) {
	breakerTransitionsTotal.WithLabelValues(name, from.String(), to.String()).Inc()
	setBreakerState(name, to)
}
