// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PromptsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_prompts_total",
			Help: "Total number of prompts handled, by assistant and terminal outcome",
		},
		[]string{"assistant", "outcome"},
	)

	PromptDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assistant_prompt_duration_seconds",
			Help:    "End-to-end prompt handling duration in seconds",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		},
		[]string{"assistant"},
	)

	DecisionAttempts = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assistant_decision_attempts",
			Help:    "Number of decision calls needed per admin prompt",
			Buckets: []float64{1, 2, 3, 4},
		},
		[]string{"outcome"},
	)

	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_retries_total",
			Help: "Re-prompts issued by the admin loop, by failure kind",
		},
		[]string{"reason"},
	)

	GatewayCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_gateway_calls_total",
			Help: "Language model calls, by provider and status",
		},
		[]string{"provider", "status"},
	)

	GatewayDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "assistant_gateway_duration_seconds",
			Help: "Language model call duration in seconds",
		},
		[]string{"provider"},
	)

	StoreOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_store_operations_total",
			Help: "Store operations executed for model commands",
		},
		[]string{"entity", "operation", "status"},
	)

	RejectedCommands = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_rejected_commands_total",
			Help: "Commands rejected before reaching the store",
		},
		[]string{"reason"},
	)

	SummariesMasked = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "assistant_summaries_masked_total",
			Help: "Summaries replaced by the fallback sentence",
		},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_cache_lookups_total",
			Help: "Student context cache lookups, by result",
		},
		[]string{"result"},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_http_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	HTTPInflight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "assistant_http_inflight_requests",
			Help: "HTTP requests currently being served",
		},
	)
)
