// Package telemetry provides observability primitives for the router.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the router.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	ActiveRequests   prometheus.Gauge
	UpstreamDuration *prometheus.HistogramVec
	UpstreamErrors   *prometheus.CounterVec
	FailoversTotal   *prometheus.CounterVec
	BlacklistEntries prometheus.Gauge
	SelectionHits    prometheus.Counter
	SelectionMisses  prometheus.Counter
	TokensProcessed  *prometheus.CounterVec
	CostTotal        *prometheus.CounterVec
	UsageQueueLength prometheus.Gauge
}

// NewMetrics creates and registers all metrics with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sair",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		}, []string{"method", "path", "status"}),

		RequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "sair",
			Name:                            "request_duration_seconds",
			Help:                            "HTTP request duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sair",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),

		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:                       "sair",
			Name:                            "upstream_duration_seconds",
			Help:                            "Upstream channel call duration in seconds.",
			NativeHistogramBucketFactor:     1.1,
			NativeHistogramMaxBucketNumber:  100,
			NativeHistogramMinResetDuration: 0,
		}, []string{"channel", "model"}),

		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sair",
			Name:      "upstream_errors_total",
			Help:      "Total upstream channel errors by classified type.",
		}, []string{"channel", "type"}),

		FailoversTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sair",
			Name:      "failovers_total",
			Help:      "Requests that succeeded only after switching channels.",
		}, []string{"model"}),

		BlacklistEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sair",
			Name:      "blacklist_entries",
			Help:      "Currently active blacklist entries.",
		}),

		SelectionHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sair",
			Name:      "selection_cache_hits_total",
			Help:      "Total routing decision cache hits.",
		}),

		SelectionMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sair",
			Name:      "selection_cache_misses_total",
			Help:      "Total routing decision cache misses.",
		}),

		TokensProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sair",
			Name:      "tokens_processed_total",
			Help:      "Total tokens processed.",
		}, []string{"model", "type"}),

		CostTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sair",
			Name:      "cost_usd_total",
			Help:      "Accumulated request cost in USD equivalents.",
		}, []string{"channel"}),

		UsageQueueLength: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sair",
			Name:      "usage_queue_length",
			Help:      "Current number of queued usage records.",
		}),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.RequestDuration,
		m.ActiveRequests,
		m.UpstreamDuration,
		m.UpstreamErrors,
		m.FailoversTotal,
		m.BlacklistEntries,
		m.SelectionHits,
		m.SelectionMisses,
		m.TokensProcessed,
		m.CostTotal,
		m.UsageQueueLength,
	)

	return m
}
