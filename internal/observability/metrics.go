// Package observability provides Prometheus metrics and OpenTelemetry tracing
// bootstrap for the workflow engine.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Transition outcomes
const (
	OutcomeSuccess          = "success"
	OutcomeNotFound         = "not_found"
	OutcomeInvalidState     = "invalid_state"
	OutcomePersistenceError = "persistence_error"
	OutcomeError            = "error"
)

var (
	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docflow_transitions_total",
			Help: "Total number of workflow operations by outcome",
		},
		[]string{"operation", "outcome"},
	)

	transitionDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "docflow_transition_duration_seconds",
			Help:    "Workflow operation duration in seconds, store round trips included",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"operation"},
	)

	eventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "docflow_events_published_total",
			Help: "Total number of transition events handed to the publisher",
		},
		[]string{"event_type", "status"}, // status: success, error, dropped
	)
)

// RecordTransition records one engine operation
func RecordTransition(operation, outcome string, duration time.Duration) {
	transitionsTotal.WithLabelValues(operation, outcome).Inc()
	transitionDurationSeconds.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordEventPublished records a transition event publish attempt
func RecordEventPublished(eventType string, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	eventsPublishedTotal.WithLabelValues(eventType, status).Inc()
}

// RecordEventDropped records an event that never reached the publisher
func RecordEventDropped(eventType string) {
	eventsPublishedTotal.WithLabelValues(eventType, "dropped").Inc()
}
