package service

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/synadia-labs/cloudgoat-gateway/internal/tool"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cloudgoat_gateway",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cloudgoat_gateway",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	toolInvocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cloudgoat_gateway",
			Subsystem: "tool",
			Name:      "invocations_total",
			Help:      "External tool invocations by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)
	toolDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cloudgoat_gateway",
			Subsystem: "tool",
			Name:      "invocation_duration_seconds",
			Help:      "External tool invocation duration in seconds.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 900},
		},
		[]string{"op"},
	)
	toolInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "cloudgoat_gateway",
			Subsystem: "tool",
			Name:      "invocations_in_flight",
			Help:      "External tool invocations currently running.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, toolInvocations, toolDuration, toolInFlight)
	})
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

func RecordInvocation(op string, outcome tool.Outcome, duration time.Duration) {
	RegisterMetrics()
	toolInvocations.WithLabelValues(op, outcome.String()).Inc()
	toolDuration.WithLabelValues(op).Observe(duration.Seconds())
}

func TrackInFlight(delta int) {
	RegisterMetrics()
	toolInFlight.Add(float64(delta))
}
