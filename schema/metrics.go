package schema

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/metagraph/errors"
)

// Metrics tracks schema builds and field resolutions. A nil *Metrics is
// valid; every record method is a no-op on nil.
type Metrics struct {
	builds        prometheus.Counter
	buildErrors   prometheus.Counter
	buildDuration prometheus.Histogram

	resolutions      prometheus.Counter
	resolutionErrors prometheus.Counter
	resolveDuration  prometheus.Histogram
	rowsReturned     prometheus.Histogram
}

// NewMetrics creates and registers schema metrics
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		builds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "schema_builds_total",
			Help: "Total schema generations",
		}),
		buildErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "schema_build_errors_total",
			Help: "Total failed schema generations",
		}),
		buildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "schema_build_duration_seconds",
			Help:    "Schema generation duration",
			Buckets: prometheus.DefBuckets,
		}),
		resolutions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "schema_field_resolutions_total",
			Help: "Total query field resolutions",
		}),
		resolutionErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "schema_field_resolution_errors_total",
			Help: "Total field resolutions degraded to empty results",
		}),
		resolveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "schema_field_resolve_duration_seconds",
			Help:    "Query field resolution duration",
			Buckets: prometheus.DefBuckets,
		}),
		rowsReturned: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "schema_field_rows_returned",
			Help:    "Rows returned per field resolution",
			Buckets: prometheus.ExponentialBuckets(1, 10, 5),
		}),
	}

	collectors := []prometheus.Collector{
		m.builds, m.buildErrors, m.buildDuration,
		m.resolutions, m.resolutionErrors, m.resolveDuration, m.rowsReturned,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, errors.Wrap(err, "schema", "NewMetrics", "metrics registration")
		}
	}

	return m, nil
}

func (m *Metrics) recordBuild(d time.Duration) {
	if m != nil {
		m.builds.Inc()
		m.buildDuration.Observe(d.Seconds())
	}
}

func (m *Metrics) recordBuildError() {
	if m != nil {
		m.buildErrors.Inc()
	}
}

func (m *Metrics) recordResolution(d time.Duration, rows int) {
	if m != nil {
		m.resolutions.Inc()
		m.resolveDuration.Observe(d.Seconds())
		m.rowsReturned.Observe(float64(rows))
	}
}

func (m *Metrics) recordResolutionError() {
	if m != nil {
		m.resolutionErrors.Inc()
	}
}
