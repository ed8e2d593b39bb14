package tourvisor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tourbot",
			Name:      "tourvisor_requests_total",
			Help:      "Total Tourvisor API requests",
		},
		[]string{"endpoint", "status"}, // "ok", "api_error", "http_error", "transport_error"
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tourbot",
			Name:      "tourvisor_request_duration_seconds",
			Help:      "Duration of Tourvisor API requests in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
		[]string{"endpoint"},
	)

	dictionaryLookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tourbot",
			Name:      "tourvisor_dictionary_lookups_total",
			Help:      "Dictionary lookups by cache layer outcome",
		},
		[]string{"result"}, // "hit", "stale", "miss", "redis_hit", "error"
	)

	pollDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "tourbot",
			Name:      "tourvisor_poll_duration_seconds",
			Help:      "Time spent polling a search until it was usable",
			Buckets:   []float64{1, 3, 6, 12, 20, 30, 45, 60},
		},
		[]string{"outcome"},
	)
)
