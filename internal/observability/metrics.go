package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mtgsql"

// Metrics holds the session's Prometheus collectors.
type Metrics struct {
	Registry *prometheus.Registry

	ViewBuilds         *prometheus.CounterVec
	ViewBuildSeconds   *prometheus.HistogramVec
	PriceRecords       *prometheus.CounterVec
	ClassifierWarnings *prometheus.CounterVec
	Queries            *prometheus.CounterVec
	ShapeLookups       *prometheus.CounterVec
}

// NewMetrics registers the collectors on a private registry, so several
// sessions in one process never collide.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		ViewBuilds: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "view_builds_total",
			Help:      "View builds by outcome.",
		}, []string{"view", "result"}),
		ViewBuildSeconds: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "view_build_seconds",
			Help:      "Time spent materializing a view.",
			// From small parquet views to the full price history.
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"view"}),
		PriceRecords: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "price_records_total",
			Help:      "Price rows by fate: loaded, null, non_positive, duplicate.",
		}, []string{"view", "fate"}),
		ClassifierWarnings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifier_warnings_total",
			Help:      "Columns the classifier downgraded to scalar.",
		}, []string{"relation"}),
		Queries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Builder queries executed per view.",
		}, []string{"view", "result"}),
		ShapeLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shape_lookups_total",
			Help:      "Column shape lookups by result: array, scalar, unknown.",
		}, []string{"result"}),
	}
}

// ObserveBuild records one build attempt.
func (m *Metrics) ObserveBuild(view string, d time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ViewBuilds.WithLabelValues(view, result).Inc()
	m.ViewBuildSeconds.WithLabelValues(view).Observe(d.Seconds())
}

// ObserveQuery records one builder query.
func (m *Metrics) ObserveQuery(view string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Queries.WithLabelValues(view, result).Inc()
}
