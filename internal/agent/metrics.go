package agent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	llmCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tourbot",
			Name:      "llm_calls_total",
			Help:      "Total LLM API calls",
		},
		[]string{"status"}, // "success", "error"
	)

	llmDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tourbot",
			Name:      "llm_duration_seconds",
			Help:      "Duration of LLM API calls in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~50s
		},
	)

	llmTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tourbot",
			Name:      "llm_tokens_total",
			Help:      "Total LLM tokens reported by the provider",
		},
		[]string{"direction"}, // "input", "output"
	)

	toolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tourbot",
			Name:      "tool_calls_total",
			Help:      "Tool calls executed for the model",
		},
		[]string{"tool", "status"}, // "ok", "rejected", "business_error", "error", "bad_args"
	)

	searchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tourbot",
			Name:      "searches_total",
			Help:      "Tour searches by outcome",
		},
		[]string{"outcome"}, // "submitted", "blocked", "corrected", "error"
	)

	cascadeBlocksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tourbot",
			Name:      "cascade_blocks_total",
			Help:      "Searches refused because a slot was missing",
		},
		[]string{"slot"},
	)

	sanitizerActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tourbot",
			Name:      "sanitizer_actions_total",
			Help:      "Reply transforms and safety nets that fired",
		},
		[]string{"action"},
	)

	// SessionsActive is set by the session registry.
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "tourbot",
			Name:      "sessions_active",
			Help:      "Number of live chat sessions",
		},
	)
)
