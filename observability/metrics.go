package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type lendingMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	transfers *prometheus.CounterVec
}

var (
	lendingMetricsOnce sync.Once
	lendingRegistry    *lendingMetrics
)

// LendingMetrics returns the lazily-initialised metrics registry used to
// record lending API activity.
func LendingMetrics() *lendingMetrics {
	lendingMetricsOnce.Do(func() {
		lendingRegistry = &lendingMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendcore",
				Subsystem: "lending",
				Name:      "requests_total",
				Help:      "Total lending API requests segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendcore",
				Subsystem: "lending",
				Name:      "errors_total",
				Help:      "Total lending API errors segmented by operation and status code.",
			}, []string{"operation", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "lendcore",
				Subsystem: "lending",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for lending API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			transfers: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "lendcore",
				Subsystem: "lending",
				Name:      "transfer_intents_total",
				Help:      "Token transfer intents emitted by the engine, segmented by direction.",
			}, []string{"direction"}),
		}
		prometheus.MustRegister(
			lendingRegistry.requests,
			lendingRegistry.errors,
			lendingRegistry.latency,
			lendingRegistry.transfers,
		)
	})
	return lendingRegistry
}

// Observe records the outcome of a lending API request. The status code
// should be the HTTP status that was ultimately written to the response
// writer.
func (m *lendingMetrics) Observe(operation string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if operation == "" {
		operation = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(operation, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(operation, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordTransfer counts an emitted transfer intent. Direction should be the
// engine's wire value ("in" or "out") so dashboards match the API payloads.
func (m *lendingMetrics) RecordTransfer(direction string) {
	if m == nil {
		return
	}
	if direction == "" {
		direction = "unknown"
	}
	m.transfers.WithLabelValues(direction).Inc()
}
