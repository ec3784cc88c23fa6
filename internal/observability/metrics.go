package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the engine's Prometheus collectors. The collectors are
// process-internal; there is no HTTP exposition surface.
type Metrics struct {
	ModelRequests  *prometheus.CounterVec
	ToolExecutions *prometheus.CounterVec
	TokenRefreshes *prometheus.CounterVec
	TurnDuration   prometheus.Histogram
	InputTokens    prometheus.Counter
	OutputTokens   prometheus.Counter
}

// NewMetrics creates and registers the engine collectors on the given
// registerer. Pass prometheus.NewRegistry() in tests to avoid collisions
// with the default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		ModelRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vibecore",
			Name:      "model_requests_total",
			Help:      "Model requests by outcome (ok, error, cancelled).",
		}, []string{"outcome"}),
		ToolExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vibecore",
			Name:      "tool_executions_total",
			Help:      "Tool executions by tool name and outcome.",
		}, []string{"tool", "outcome"}),
		TokenRefreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "vibecore",
			Name:      "token_refreshes_total",
			Help:      "OAuth token refresh attempts by outcome.",
		}, []string{"outcome"}),
		TurnDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vibecore",
			Name:      "turn_duration_seconds",
			Help:      "Wall time of a full agent turn.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 12),
		}),
		InputTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vibecore",
			Name:      "input_tokens_total",
			Help:      "Input tokens consumed across model requests.",
		}),
		OutputTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vibecore",
			Name:      "output_tokens_total",
			Help:      "Output tokens generated across model requests.",
		}),
	}

	reg.MustRegister(
		m.ModelRequests,
		m.ToolExecutions,
		m.TokenRefreshes,
		m.TurnDuration,
		m.InputTokens,
		m.OutputTokens,
	)
	return m
}
