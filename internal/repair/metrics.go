package repair

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var correctionsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "tourbot",
		Name:      "corrections_total",
		Help:      "Search argument corrections by corrector",
	},
	[]string{"corrector", "result"}, // "applied", "rejected"
)
