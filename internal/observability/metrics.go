// Package observability holds the ingestion pipeline's Prometheus metrics and
// logger construction.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "aq_ingestion"

// Metrics holds the Prometheus counters, histograms and gauges for ingestion runs.
type Metrics struct {
	RunsTotal         *prometheus.CounterVec   // labels: mode, outcome={committed,failed}
	RunDuration       *prometheus.HistogramVec // labels: mode
	RunInProgress     prometheus.Gauge
	LastRunTimestamp  *prometheus.GaugeVec   // labels: mode, successful runs only
	ReadingsFetched   *prometheus.CounterVec // labels: source
	ReadingsPersisted *prometheus.CounterVec // labels: result={inserted,duplicate,unknown_pollutant}
	StationsCreated   prometheus.Counter
	AdapterErrors     *prometheus.CounterVec // labels: source

	gatherer prometheus.Gatherer
}

func newMetrics() *Metrics {
	return &Metrics{
		RunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Ingestion runs by mode and outcome.",
		}, []string{"mode", "outcome"}),
		RunDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of an ingestion run.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"mode"}),
		RunInProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "run_in_progress",
			Help:      "1 while an ingestion run is executing.",
		}),
		LastRunTimestamp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last committed run by mode.",
		}, []string{"mode"}),
		ReadingsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_fetched_total",
			Help:      "Normalized readings produced by sources.",
		}, []string{"source"}),
		ReadingsPersisted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_persisted_total",
			Help:      "Readings handled by the persistence step, by result.",
		}, []string{"result"}),
		StationsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stations_created_total",
			Help:      "Stations created while resolving readings.",
		}),
		AdapterErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "adapter_errors_total",
			Help:      "Adapters that failed to fetch or persist.",
		}, []string{"source"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.RunsTotal,
		m.RunDuration,
		m.RunInProgress,
		m.LastRunTimestamp,
		m.ReadingsFetched,
		m.ReadingsPersisted,
		m.StationsCreated,
		m.AdapterErrors,
	}
}

// NewMetrics creates and registers all ingestion metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	m.gatherer = prometheus.DefaultGatherer
	return m
}

// NewMetricsForTesting creates Metrics on a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	reg := prometheus.NewRegistry()
	m := newMetrics()
	reg.MustRegister(m.collectors()...)
	m.gatherer = reg
	return m
}

// Handler serves the registry the metrics were registered with.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
