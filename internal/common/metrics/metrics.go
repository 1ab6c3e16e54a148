package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "intake_sessions_started_total",
			Help: "Total number of intake sessions started",
		},
	)

	SessionsEnded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_sessions_ended_total",
			Help: "Total number of intake sessions ended, by outcome",
		},
		[]string{"outcome"}, // completed, expired, abandoned
	)

	SessionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "intake_session_duration_seconds",
			Help:    "Duration of intake sessions from start to teardown",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10),
		},
		[]string{"outcome"},
	)

	Decisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_decisions_total",
			Help: "Total number of staff decisions processed, by outcome",
		},
		[]string{"outcome"}, // approved, rejected, already_decided, not_found, reason_timeout
	)

	StoreRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_store_retries_total",
			Help: "Total number of retried application store writes",
		},
		[]string{"operation"},
	)

	StoreWriteFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "intake_store_write_failures_total",
			Help: "Total number of store writes that exhausted all retries",
		},
		[]string{"operation"},
	)
)
