package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/machinehealth/cci/pkg"
)

// Metrics exposes the daemon's Prometheus instrumentation. All methods are
// nil-safe so callers never need to guard on whether metrics are enabled.
type Metrics struct {
	readingsTotal     *prometheus.CounterVec
	invalidReadings   *prometheus.CounterVec
	timestampsScored  *prometheus.CounterVec
	timestampsSkipped *prometheus.CounterVec
	cciGauge          *prometheus.GaugeVec
	zoneGauge         *prometheus.GaugeVec
	hoursToCritical   *prometheus.GaugeVec
	scoringDuration   prometheus.Histogram
}

// NewMetrics creates and registers the daemon's metric set on the default
// registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		readingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cci_readings_total",
			Help: "Total sensor readings ingested, by component.",
		}, []string{"component"}),
		invalidReadings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cci_invalid_readings_total",
			Help: "Total sensor readings rejected as invalid, by component.",
		}, []string{"component"}),
		timestampsScored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cci_timestamps_scored_total",
			Help: "Total timestamps that produced a score, by component.",
		}, []string{"component"}),
		timestampsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cci_timestamps_skipped_total",
			Help: "Total timestamps skipped for missing channels or short history, by component.",
		}, []string{"component"}),
		cciGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cci_score",
			Help: "Latest condition index in [0,1], by component.",
		}, []string{"component"}),
		zoneGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cci_zone",
			Help: "Latest risk zone (0 green, 1 yellow, 2 orange, 3 red), by component.",
		}, []string{"component"}),
		hoursToCritical: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "cci_hours_to_critical",
			Help: "Projected hours until the red threshold; -1 when no upward trend.",
		}, []string{"component"}),
		scoringDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "cci_scoring_duration_seconds",
			Help:    "Histogram of per-reading scoring latency.",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		}),
	}

	prometheus.MustRegister(
		m.readingsTotal,
		m.invalidReadings,
		m.timestampsScored,
		m.timestampsSkipped,
		m.cciGauge,
		m.zoneGauge,
		m.hoursToCritical,
		m.scoringDuration,
	)
	return m
}

// ReadingIngested records one accepted reading.
func (m *Metrics) ReadingIngested(componentID string) {
	if m == nil {
		return
	}
	m.readingsTotal.WithLabelValues(componentID).Inc()
}

// ReadingInvalid records one rejected reading.
func (m *Metrics) ReadingInvalid(componentID string) {
	if m == nil {
		return
	}
	m.invalidReadings.WithLabelValues(componentID).Inc()
}

// TimestampSkipped records one timestamp that produced no score.
func (m *Metrics) TimestampSkipped(componentID string) {
	if m == nil {
		return
	}
	m.timestampsSkipped.WithLabelValues(componentID).Inc()
}

// Scored records one scored reading and the time it took to produce.
func (m *Metrics) Scored(sr *pkg.ScoredReading, duration time.Duration) {
	if m == nil {
		return
	}
	m.timestampsScored.WithLabelValues(sr.ComponentID).Inc()
	m.cciGauge.WithLabelValues(sr.ComponentID).Set(sr.CCI)
	m.zoneGauge.WithLabelValues(sr.ComponentID).Set(float64(sr.Zone))
	if sr.HoursToCritical != nil {
		m.hoursToCritical.WithLabelValues(sr.ComponentID).Set(*sr.HoursToCritical)
	} else {
		m.hoursToCritical.WithLabelValues(sr.ComponentID).Set(-1)
	}
	m.scoringDuration.Observe(duration.Seconds())
}

// Handler returns the scrape endpoint handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.Handler()
}
