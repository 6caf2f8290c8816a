package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "vmt_browser"

// Metrics holds the Prometheus counters, histograms, and gauges for the browser.
type Metrics struct {
	// Fetch metrics.
	Fetches       *prometheus.CounterVec   // labels: kind={geometry,outline,tabular}, outcome={success,error}
	FetchDuration *prometheus.HistogramVec // labels: kind
	CacheLookups  *prometheus.CounterVec   // labels: result={hit,miss}

	// Load metrics.
	Loads        *prometheus.CounterVec // labels: outcome={success,error,superseded}
	LoadDuration prometheus.Histogram
	DataWarnings *prometheus.CounterVec // labels: kind={duplicate_row,missing_record,orphan_record}

	// Session metrics.
	Selections   *prometheus.CounterVec // labels: kind={municipality,theme,year,clear}, outcome={ok,invalid,not_ready,superseded,error}
	RenderEvents prometheus.Counter
	Status       *prometheus.GaugeVec // labels: status; 1 for the current status
	Features     prometheus.Gauge
}

func newMetrics(withHelp bool) *Metrics {
	help := func(s string) string {
		if withHelp {
			return s
		}
		return ""
	}
	return &Metrics{
		Fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      help("Source fetches by kind and outcome."),
		}, []string{"kind", "outcome"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      help("Duration of one source fetch and parse."),
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"kind"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      help("Payload cache lookups by result."),
		}, []string{"result"}),
		Loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "loads_total",
			Help:      help("Dataset loads by outcome."),
		}, []string{"outcome"}),
		LoadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "load_duration_seconds",
			Help:      help("Duration of a complete fan-out load and join."),
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		DataWarnings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "data_warnings_total",
			Help:      help("Data-quality warnings by kind."),
		}, []string{"kind"}),
		Selections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "selections_total",
			Help:      help("Selection requests by kind and outcome."),
		}, []string{"kind", "outcome"}),
		RenderEvents: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "render_events_total",
			Help:      help("Renderer update events emitted."),
		}),
		Status: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "session_status",
			Help:      help("1 for the session's current status, 0 otherwise."),
		}, []string{"status"}),
		Features: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "features",
			Help:      help("Municipality features in the joined dataset."),
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Fetches,
		m.FetchDuration,
		m.CacheLookups,
		m.Loads,
		m.LoadDuration,
		m.DataWarnings,
		m.Selections,
		m.RenderEvents,
		m.Status,
		m.Features,
	}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics(true)
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsWithRegistry registers the metrics on reg.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	m := newMetrics(true)
	reg.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics(false)
}

// SetStatus marks status as current and clears the others.
func (m *Metrics) SetStatus(status string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == status {
			v = 1
		}
		m.Status.WithLabelValues(s).Set(v)
	}
}
