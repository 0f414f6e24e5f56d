package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric names shared with the query side in pkg/metrics.
const (
	MetricRequests = "llm_requests_total"
	MetricTokens   = "llm_tokens_total"
	MetricCosts    = "llm_costs_total"
	MetricDuration = "llm_request_duration_seconds"
)

// PrometheusRecorder implements the Recorder interface using Prometheus metrics.
type PrometheusRecorder struct {
	requestsTotal   *prometheus.CounterVec
	tokensTotal     *prometheus.CounterVec
	costsTotal      *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// NewPrometheusRecorder registers the LLM metrics on reg. A nil reg uses the default registerer.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusRecorder{
		requestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRequests,
				Help: "Total number of LLM requests by model, project, role, and status",
			},
			[]string{"model", "project_id", "role", "status", "error_type"},
		),
		tokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricTokens,
				Help: "Total number of tokens used in LLM requests",
			},
			[]string{"model", "project_id", "role", "type"},
		),
		costsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricCosts,
				Help: "Total cost in USD for LLM requests",
			},
			[]string{"model", "project_id", "role"},
		),
		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricDuration,
				Help:    "Duration of LLM requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"model", "role"},
		),
	}
}

// ObserveRequest records metrics for a completed LLM request.
func (p *PrometheusRecorder) ObserveRequest(r Request) {
	status := statusSuccess
	if !r.Success {
		status = statusError
	}

	p.requestsTotal.WithLabelValues(r.Model, r.ProjectID, r.Role, status, r.ErrorType).Inc()

	// Tokens and costs only on success
	if r.Success {
		p.tokensTotal.WithLabelValues(r.Model, r.ProjectID, r.Role, "prompt").Add(float64(r.PromptTokens))
		p.tokensTotal.WithLabelValues(r.Model, r.ProjectID, r.Role, "completion").Add(float64(r.CompletionTokens))
		p.costsTotal.WithLabelValues(r.Model, r.ProjectID, r.Role).Add(r.Cost)
	}

	p.requestDuration.WithLabelValues(r.Model, r.Role).Observe(r.Duration.Seconds())
}
