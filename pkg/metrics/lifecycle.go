package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Build outcomes.
const (
	BuildCompleted = "completed"
	BuildFailed    = "failed"
	BuildExhausted = "exhausted"
)

// Lifecycle counts project transitions, builds and finalized feedback.
// A nil *Lifecycle discards everything.
type Lifecycle struct {
	transitions   *prometheus.CounterVec
	builds        *prometheus.CounterVec
	buildDuration prometheus.Histogram
	feedback      prometheus.Counter
	issues        prometheus.Counter
}

// NewLifecycle registers the lifecycle metrics on reg. A nil reg uses the default registerer.
func NewLifecycle(reg prometheus.Registerer) *Lifecycle {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Lifecycle{
		transitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketsmith_project_transitions_total",
			Help: "Project status transitions by source and target status",
		}, []string{"from", "to"}),
		builds: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ticketsmith_builds_total",
			Help: "Coding agent builds by outcome",
		}, []string{"outcome"}),
		buildDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ticketsmith_build_duration_seconds",
			Help:    "Wall time of coding agent builds",
			Buckets: []float64{30, 60, 120, 300, 600, 1200, 1800},
		}),
		feedback: factory.NewCounter(prometheus.CounterOpts{
			Name: "ticketsmith_feedback_finalized_total",
			Help: "Feedback conversations finalized into a summary",
		}),
		issues: factory.NewCounter(prometheus.CounterOpts{
			Name: "ticketsmith_issues_created_total",
			Help: "Issues filed on the forge",
		}),
	}
}

// Transition records a successful status change.
func (m *Lifecycle) Transition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// BuildFinished records one build attempt.
func (m *Lifecycle) BuildFinished(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.builds.WithLabelValues(outcome).Inc()
	m.buildDuration.Observe(d.Seconds())
}

// IssueCreated records one filed issue.
func (m *Lifecycle) IssueCreated() {
	if m == nil {
		return
	}
	m.issues.Inc()
}

// FeedbackFinalized records one stored feedback summary.
func (m *Lifecycle) FeedbackFinalized() {
	if m == nil {
		return
	}
	m.feedback.Inc()
}
