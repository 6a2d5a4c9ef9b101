package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// geocoding pipeline.
type Metrics struct {
	// Provider chain metrics.
	ProviderRequests *prometheus.CounterVec   // labels: provider, outcome={success,timeout,rate_limited,invalid_credential,not_found,unavailable}
	ProviderDuration *prometheus.HistogramVec // labels: provider
	Escalations      prometheus.Counter
	Resolutions      *prometheus.CounterVec // labels: outcome={accepted,best_effort,cache_hit,exhausted,invalid}
	ActiveProviders  prometheus.Gauge

	// Cache metrics.
	CacheLookups *prometheus.CounterVec // labels: result={hit,miss,error}

	// Batch metrics.
	BatchSize     prometheus.Histogram
	BatchDuration prometheus.Histogram

	// Streaming front-end metrics.
	MessagesConsumed prometheus.Counter
	MessagesProduced prometheus.Counter
	RecordErrors     prometheus.Counter
	StreamRunning    prometheus.Gauge
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.ProviderRequests,
		m.ProviderDuration,
		m.Escalations,
		m.Resolutions,
		m.ActiveProviders,
		m.CacheLookups,
		m.BatchSize,
		m.BatchDuration,
		m.MessagesConsumed,
		m.MessagesProduced,
		m.RecordErrors,
		m.StreamRunning,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, avoiding
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		ProviderRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geocoding",
			Name:      "provider_requests_total",
			Help:      "Provider calls by provider and outcome.",
		}, []string{"provider", "outcome"}),
		ProviderDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "geocoding",
			Name:      "provider_duration_seconds",
			Help:      "External provider call duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"provider"}),
		Escalations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "geocoding",
			Name:      "escalations_total",
			Help:      "Times the chain moved past a provider to a costlier one.",
		}),
		Resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geocoding",
			Name:      "resolutions_total",
			Help:      "Single-address resolutions by outcome.",
		}, []string{"outcome"}),
		ActiveProviders: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "geocoding",
			Name:      "active_providers",
			Help:      "Providers in the configured chain after credential gating.",
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "geocoding",
			Name:      "cache_lookups_total",
			Help:      "Result cache lookups by result.",
		}, []string{"result"}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "geocoding",
			Name:      "batch_size",
			Help:      "Number of addresses per batch submission.",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "geocoding",
			Name:      "batch_duration_seconds",
			Help:      "Duration of a complete batch resolution.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		MessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "geocoding",
			Name:      "messages_consumed_total",
			Help:      "Total address records read from the source topic.",
		}),
		MessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "geocoding",
			Name:      "messages_produced_total",
			Help:      "Total geocoded records written to the sink topic.",
		}),
		RecordErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "geocoding",
			Name:      "record_errors_total",
			Help:      "Source records that failed to parse or resolve.",
		}),
		StreamRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "geocoding",
			Name:      "stream_running",
			Help:      "1 when the Kafka stream loop is active, 0 when shut down.",
		}),
	}
}
