// Unraid API - Subscription and Backup Job Orchestration
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/unraid-api

// Package metrics holds the Prometheus collectors for the polling,
// subscription and job subsystems. Collectors register with the default
// registry through promauto and are served by promhttp at /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Polling registry
	PollingTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polling_ticks_total",
			Help: "Total number of polling callbacks started",
		},
		[]string{"task"},
	)

	PollingTicksSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polling_ticks_skipped_total",
			Help: "Ticks dropped because the previous callback was still running",
		},
		[]string{"task"},
	)

	PollingTickErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "polling_tick_errors_total",
			Help: "Polling callbacks that returned an error or panicked",
		},
		[]string{"task"},
	)

	PollingTickDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "polling_tick_duration_seconds",
			Help:    "Duration of polling callbacks",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task"},
	)

	PollingActiveTasks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "polling_active_tasks",
			Help: "Number of registered polling tasks",
		},
	)

	// Subscription tracker
	SubscriptionSubscribers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "subscription_subscribers",
			Help: "Current subscriber count per topic",
		},
		[]string{"topic"},
	)

	SubscriptionTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscription_transitions_total",
			Help: "Producer start/stop transitions per topic",
		},
		[]string{"topic", "direction"}, // "start", "stop"
	)

	// Job tracker
	JobsTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jobs_tracked",
			Help: "Jobs currently held by the job tracker",
		},
	)

	JobTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_transitions_total",
			Help: "Job status transitions by resulting state",
		},
		[]string{"status"},
	)

	// Job engine (rclone)
	RCloneRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rclone_requests_total",
			Help: "Calls made to the rclone remote-control API",
		},
		[]string{"method", "result"}, // result: "success", "error", "rejected"
	)

	RCloneRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rclone_request_duration_seconds",
			Help:    "Latency of rclone remote-control calls",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Backup orchestration
	BackupJobsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backup_jobs_started_total",
			Help: "Backup jobs dispatched to the job engine",
		},
		[]string{"trigger", "result"}, // trigger: "api", "schedule"
	)

	// Pub/sub + transport
	PubSubPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pubsub_messages_published_total",
			Help: "Messages published per topic kind",
		},
		[]string{"topic_kind", "result"},
	)

	WSConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "websocket_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)

	WSMessagesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "websocket_events_forwarded_total",
			Help: "Pub/sub events forwarded to WebSocket clients, by topic family",
		},
		[]string{"topic"},
	)

	// API
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "route", "status_code"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Duration of API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// RecordTick records a finished polling callback.
func RecordTick(task string, duration time.Duration, failed bool) {
	PollingTicks.WithLabelValues(task).Inc()
	PollingTickDuration.WithLabelValues(task).Observe(duration.Seconds())
	if failed {
		PollingTickErrors.WithLabelValues(task).Inc()
	}
}

// RecordRCloneCall records one rclone API call.
func RecordRCloneCall(method string, duration time.Duration, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	RCloneRequests.WithLabelValues(method, result).Inc()
	RCloneRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordPublish records a pub/sub publish attempt.
func RecordPublish(topicKind string, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	PubSubPublished.WithLabelValues(topicKind, result).Inc()
}

// RecordAPIRequest records one served HTTP request. route is the chi route
// pattern, not the raw path, to keep label cardinality bounded.
func RecordAPIRequest(method, route string, statusCode int, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	APIRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}
