// Package metrics exposes Prometheus collectors for the listkeeper pipeline.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal   *prometheus.CounterVec
	httpRetriesTotal    *prometheus.CounterVec
	rateLimitDelay      *prometheus.HistogramVec
	recordsWrittenTotal prometheus.Counter
	stepsTotal          *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listkeeper_http_requests_total",
				Help: "Total outbound HTTP request attempts, labeled by host and status.",
			},
			[]string{"host", "status"},
		)

		httpRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listkeeper_http_retries_total",
				Help: "Total retried HTTP attempts, labeled by host.",
			},
			[]string{"host"},
		)

		rateLimitDelay = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "listkeeper_rate_limit_delay_seconds",
				Help:    "Time spent waiting for rate limit admission, labeled by host.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"host"},
		)

		recordsWrittenTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "listkeeper_records_written_total",
				Help: "Total record files rewritten by dataset saves.",
			},
		)

		stepsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "listkeeper_steps_total",
				Help: "Total pipeline steps executed, labeled by step and outcome.",
			},
			[]string{"step", "outcome"},
		)
	})
}

// ObserveRequest records one HTTP request attempt. status 0 means no response.
func ObserveRequest(host string, status int) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(host, strconv.Itoa(status)).Inc()
}

// ObserveRetry records one retried attempt against host.
func ObserveRetry(host string) {
	if httpRetriesTotal == nil {
		return
	}
	httpRetriesTotal.WithLabelValues(host).Inc()
}

// ObserveRateLimitDelay records time spent blocked on the admission gate.
func ObserveRateLimitDelay(host string, d time.Duration) {
	if rateLimitDelay == nil {
		return
	}
	rateLimitDelay.WithLabelValues(host).Observe(d.Seconds())
}

// AddRecordsWritten records files rewritten by a dataset save.
func AddRecordsWritten(n int) {
	if recordsWrittenTotal == nil || n <= 0 {
		return
	}
	recordsWrittenTotal.Add(float64(n))
}

// ObserveStep records one executed pipeline step.
func ObserveStep(step, outcome string) {
	if stepsTotal == nil {
		return
	}
	stepsTotal.WithLabelValues(step, outcome).Inc()
}
