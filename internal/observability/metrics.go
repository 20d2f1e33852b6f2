package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "crime_data"

// Metrics holds the Prometheus counters, histograms, and gauges for ingestion,
// detection, geocoding, event publication, and the HTTP API.
type Metrics struct {
	// Ingestion metrics.
	IngestRequests *prometheus.CounterVec // labels: outcome={success,conflict,schema_error,validation_error,storage_error}
	IngestRows     *prometheus.CounterVec // labels: stage={read,filtered,inserted}
	NullCoercions  *prometheus.CounterVec // labels: column
	IngestDuration prometheus.Histogram

	// Detection metrics.
	DetectRuns     *prometheus.CounterVec // labels: outcome={success,not_found,error}
	DetectDuration prometheus.Histogram
	AnomaliesFound prometheus.Histogram

	// Geocoding metrics.
	GeocodeRequests    *prometheus.CounterVec // labels: outcome={success,error,empty}
	GeocodeCache       *prometheus.CounterVec // labels: result={hit,miss}
	GeocodeAPIDuration prometheus.Histogram
	GeocodeEnabled     prometheus.Gauge

	// EventsPublished counts dataset events by type and outcome={success,error}.
	EventsPublished *prometheus.CounterVec

	HTTPRequestDuration *prometheus.HistogramVec // labels: route, method, status
}

// NewMetrics creates and registers all service metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewUnregisteredMetrics creates Metrics on a private registry, for processes
// that expose no scrape endpoint.
func NewUnregisteredMetrics() *Metrics {
	m := newMetrics()
	prometheus.NewRegistry().MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return NewUnregisteredMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		IngestRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_requests_total",
			Help:      "Dataset ingest attempts by outcome.",
		}, []string{"outcome"}),
		IngestRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_rows_total",
			Help:      "CSV rows by ingest stage.",
		}, []string{"stage"}),
		NullCoercions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingest_null_coercions_total",
			Help:      "Values nulled by a failed non-strict coercion, by source column.",
		}, []string{"column"}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Duration of a complete parse-normalize-load cycle.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		DetectRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detect_runs_total",
			Help:      "Anomaly detection runs by outcome.",
		}, []string{"outcome"}),
		DetectDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "detect_duration_seconds",
			Help:      "Duration of one anomaly detection pass.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		}),
		AnomaliesFound: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "anomalies_per_run",
			Help:      "Number of anomalous locations reported per detection run.",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
		}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Geocoding API requests by outcome.",
		}, []string{"outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Geocoding cache lookups by result.",
		}, []string{"result"}),
		GeocodeAPIDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      "Mapbox API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		GeocodeEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "geocode_enabled",
			Help:      "1 when geocoding enrichment is enabled, 0 otherwise.",
		}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Dataset events written to Kafka by type and outcome.",
		}, []string{"type", "outcome"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP API request duration by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.IngestRequests,
		m.IngestRows,
		m.NullCoercions,
		m.IngestDuration,
		m.DetectRuns,
		m.DetectDuration,
		m.AnomaliesFound,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeAPIDuration,
		m.GeocodeEnabled,
		m.EventsPublished,
		m.HTTPRequestDuration,
	}
}
