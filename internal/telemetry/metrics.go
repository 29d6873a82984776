// Package telemetry provides observability primitives for the proxy.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the proxy.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	ActiveRequests   prometheus.Gauge
	AdmissionRejects *prometheus.CounterVec
	StoreBusy        prometheus.Counter
	UpstreamDuration prometheus.Histogram
	UpstreamErrors   prometheus.Counter
	TokensRecorded   prometheus.Counter
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raskol",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "raskol",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "raskol",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		AdmissionRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "raskol",
			Name:      "admission_rejects_total",
			Help:      "Total admission rejections.",
		}, []string{"reason"}),

		StoreBusy: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raskol",
			Name:      "store_busy_total",
			Help:      "Total writer-timeout failures from the accounting store.",
		}),

		UpstreamDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:                       "raskol",
			Name:                            "upstream_duration_seconds",
			Help:                            "Upstream call duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}),

		UpstreamErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raskol",
			Name:      "upstream_errors_total",
			Help:      "Total upstream transport failures.",
		}),

		TokensRecorded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "raskol",
			Name:      "tokens_recorded_total",
			Help:      "Total upstream tokens recorded to the accounting store.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.AdmissionRejects,
		m.StoreBusy,
		m.UpstreamDuration,
		m.UpstreamErrors,
		m.TokensRecorded,
	)

	return m
}
