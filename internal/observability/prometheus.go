// Package observability provides Prometheus and OpenTelemetry implementations
// of the engine's MetricsRecorder and Tracer hooks.
package observability

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tracecore/internal/core"
)

// PrometheusRecorder counts operations and records their latency.
type PrometheusRecorder struct {
	registry *prometheus.Registry
	total    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

var _ core.MetricsRecorder = (*PrometheusRecorder)(nil)

// NewPrometheusRecorder registers the engine collectors on a private registry
// together with the Go and process collectors.
func NewPrometheusRecorder() *PrometheusRecorder {
	reg := prometheus.NewRegistry()
	r := &PrometheusRecorder{
		registry: reg,
		total: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tracecore",
			Subsystem: "engine",
			Name:      "operations_total",
			Help:      "Engine operations by name and result.",
		}, []string{"operation", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tracecore",
			Subsystem: "engine",
			Name:      "operation_duration_seconds",
			Help:      "Engine operation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		}, []string{"operation"}),
	}
	reg.MustRegister(
		r.total,
		r.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// Observe implements core.MetricsRecorder.
func (r *PrometheusRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	result := "success"
	if !success {
		result = "error"
	}
	r.total.WithLabelValues(operation, result).Inc()
	r.duration.WithLabelValues(operation).Observe(duration.Seconds())
}

// Registry exposes the underlying registry.
func (r *PrometheusRecorder) Registry() *prometheus.Registry { return r.registry }

// Handler serves the registry in the Prometheus exposition format.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
