// Package metrics holds the Prometheus collectors of the request engine
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tipqueue"

// Admission results
const (
	ResultAdmitted = "admitted"
	ResultDenied   = "denied"
	ResultError    = "error"
)

// Delivery results
const (
	DeliverySent    = "sent"
	DeliveryRetry   = "retry"
	DeliveryFailed  = "failed"
	DeliveryDropped = "dropped"
)

var (
	// AdmissionDecisions counts reserve attempts by their outcome
	AdmissionDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "admission_decisions_total",
			Help:      "Admission decisions by result",
		},
		[]string{"result"},
	)

	// ReserveDuration observes the time spent deciding on an admission
	ReserveDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "admission_reserve_duration_seconds",
			Help:      "Duration of admission reservations",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"backend"},
	)

	// StatusTransitions counts performed request status changes
	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Request status transitions",
		},
		[]string{"from", "to"},
	)

	// NotificationDeliveries counts notification delivery attempts by their outcome
	NotificationDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notification_deliveries_total",
			Help:      "Notification delivery attempts by result",
		},
		[]string{"result"},
	)

	// NotificationBacklog is the number of notifications picked up by the last outbox sweep
	NotificationBacklog = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "notification_backlog",
			Help:      "Undelivered notifications found by the last sweep",
		},
	)
)
