package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AuthAttempts records magic-link sign-in attempts by result (requested|success|failure).
	AuthAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "candor_auth_attempts_total",
			Help: "Total number of magic-link authentication attempts",
		},
		[]string{"result"},
	)

	// RoleChecks counts role gate evaluations (allowed|denied).
	RoleChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "candor_role_checks_total",
			Help: "Total number of role checks",
		},
		[]string{"role", "result"},
	)

	// FeedbackSubmitted counts stored feedback rows by source (form|chat).
	FeedbackSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "candor_feedback_submitted_total",
			Help: "Total number of feedback submissions",
		},
		[]string{"source"},
	)

	// AnalysisJobs counts analysis attempts by result (analyzed|flagged|unparseable|retry|failed).
	AnalysisJobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "candor_analysis_jobs_total",
			Help: "Total number of feedback analysis attempts",
		},
		[]string{"result"},
	)

	// AnalysisDuration measures time spent in the analyzer per job.
	AnalysisDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "candor_analysis_duration_seconds",
			Help:    "Duration of AI analysis calls",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
	)

	// AnalysisQueueDepth reports the number of jobs waiting for analysis.
	AnalysisQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "candor_analysis_queue_depth",
			Help: "Number of queued feedback analysis jobs",
		},
	)

	// ActiveSessions tracks sessions issued minus sessions revoked or purged.
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "candor_active_sessions",
			Help: "Number of active sessions",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "candor_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
