package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Submission triggers.
const (
	TriggerManual = "manual"
	TriggerExpiry = "expiry"
)

// Submission outcomes.
const (
	OutcomeSubmitted        = "submitted"
	OutcomeAlreadySubmitted = "already_submitted"
	OutcomeFailed           = "failed"
)

// Metrics groups the attempt counters. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	AttemptsStarted prometheus.Counter
	AttemptsResumed prometheus.Counter
	PolicyDenied    prometheus.Counter
	Submissions     *prometheus.CounterVec
	ActiveSessions  prometheus.Gauge
}

// New registers the attempt metrics on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		AttemptsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quiz_attempts_started_total",
			Help: "Attempts started after a policy check",
		}),
		AttemptsResumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quiz_attempts_resumed_total",
			Help: "In-progress attempts reattached instead of started",
		}),
		PolicyDenied: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "quiz_attempt_policy_denied_total",
			Help: "Start requests rejected by the attempt limit",
		}),
		Submissions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quiz_attempt_submissions_total",
				Help: "Submission calls by trigger and outcome",
			},
			[]string{"trigger", "outcome"},
		),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "quiz_attempt_active_sessions",
			Help: "Attempt sessions currently held in memory",
		}),
	}
	m.registry.MustRegister(
		m.AttemptsStarted,
		m.AttemptsResumed,
		m.PolicyDenied,
		m.Submissions,
		m.ActiveSessions,
		collectors.NewGoCollector(),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Started() {
	if m != nil {
		m.AttemptsStarted.Inc()
	}
}

func (m *Metrics) Resumed() {
	if m != nil {
		m.AttemptsResumed.Inc()
	}
}

func (m *Metrics) Denied() {
	if m != nil {
		m.PolicyDenied.Inc()
	}
}

func (m *Metrics) Submission(trigger, outcome string) {
	if m != nil {
		m.Submissions.WithLabelValues(trigger, outcome).Inc()
	}
}

func (m *Metrics) SessionOpened() {
	if m != nil {
		m.ActiveSessions.Inc()
	}
}

func (m *Metrics) SessionClosed() {
	if m != nil {
		m.ActiveSessions.Dec()
	}
}
