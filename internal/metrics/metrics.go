package metrics

import (
	"net/http"
	"time"

	"backtest-drift-monitor/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DriftMetrics holds the Prometheus collectors for drift detection passes.
// Each instance owns its registry so several can coexist in one process.
type DriftMetrics struct {
	registry *prometheus.Registry

	AlertsTotal       *prometheus.CounterVec
	DetectorFailures  *prometheus.CounterVec
	DetectionDuration prometheus.Histogram
	ActiveAlerts      *prometheus.GaugeVec
}

// NewDriftMetrics creates and registers all drift collectors.
func NewDriftMetrics() *DriftMetrics {
	m := &DriftMetrics{
		registry: prometheus.NewRegistry(),

		AlertsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "driftmon_drift_alerts_total",
				Help: "Total number of drift alerts raised by drift type and severity",
			},
			[]string{"drift_type", "severity"},
		),

		DetectorFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "driftmon_detector_failures_total",
				Help: "Total number of detector invocations that failed or panicked",
			},
			[]string{"drift_type"},
		),

		DetectionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "driftmon_drift_detection_duration_seconds",
				Help:    "Duration of a drift detection pass for one deployment",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
		),

		ActiveAlerts: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "driftmon_deployment_drift_alerts",
				Help: "Cumulative drift alert count recorded on each deployment",
			},
			[]string{"deployment_id"},
		),
	}

	m.registry.MustRegister(
		m.AlertsTotal,
		m.DetectorFailures,
		m.DetectionDuration,
		m.ActiveAlerts,
	)
	return m
}

// RecordAlert counts one raised alert.
func (m *DriftMetrics) RecordAlert(driftType models.DriftType, severity models.Severity) {
	m.AlertsTotal.WithLabelValues(string(driftType), string(severity)).Inc()
}

// RecordDetectorFailure counts one failed detector invocation.
func (m *DriftMetrics) RecordDetectorFailure(driftType models.DriftType) {
	m.DetectorFailures.WithLabelValues(string(driftType)).Inc()
}

// ObserveDetection records the duration of one deployment pass.
func (m *DriftMetrics) ObserveDetection(d time.Duration) {
	m.DetectionDuration.Observe(d.Seconds())
}

// SetDeploymentAlertCount publishes a deployment's drift alert counter.
func (m *DriftMetrics) SetDeploymentAlertCount(deploymentID string, count int) {
	m.ActiveAlerts.WithLabelValues(deploymentID).Set(float64(count))
}

// Registry exposes the underlying registry, mainly for tests.
func (m *DriftMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler serving the metrics in Prometheus format.
func (m *DriftMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
