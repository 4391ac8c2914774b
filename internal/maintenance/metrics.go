package maintenance

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	renewalStartedTotal    *prometheus.CounterVec
	renewalCompletedTotal  *prometheus.CounterVec
	rotationStartedTotal   *prometheus.CounterVec
	rotationCompletedTotal *prometheus.CounterVec
	maintenanceDuration    *prometheus.HistogramVec
	activeLeases           prometheus.Gauge

	// Registration guard
	metricsOnce       sync.Once
	metricsRegistered bool
)

// Metrics provides methods to record maintenance metrics.
// All methods are no-ops until InitMetrics has been called.
type Metrics struct{}

// NewMetrics creates a new Metrics instance.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// InitMetrics initializes all Prometheus metrics.
// This should be called once at startup if Prometheus metrics are enabled.
func InitMetrics() {
	metricsOnce.Do(func() {
		renewalStartedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaultlease_renewal_started_total",
				Help: "Total number of lease renewal attempts started",
			},
			[]string{"operation"},
		)

		renewalCompletedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaultlease_renewal_completed_total",
				Help: "Total number of lease renewal attempts completed",
			},
			[]string{"status"},
		)

		rotationStartedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaultlease_rotation_started_total",
				Help: "Total number of lease rotation attempts started",
			},
			[]string{"operation"},
		)

		rotationCompletedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vaultlease_rotation_completed_total",
				Help: "Total number of lease rotation attempts completed",
			},
			[]string{"status"},
		)

		maintenanceDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "vaultlease_maintenance_duration_seconds",
				Help:    "Duration of renew/rotate operations in seconds",
				Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 15, 30},
			},
			[]string{"operation"},
		)

		activeLeases = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "vaultlease_active_leases",
				Help: "Number of lease records currently held in the cache",
			},
		)

		metricsRegistered = true
	})
}

// RecordRenewalStarted records a renewal attempt start.
func (m *Metrics) RecordRenewalStarted() {
	if !metricsRegistered || renewalStartedTotal == nil {
		return
	}
	renewalStartedTotal.WithLabelValues("renew").Inc()
}

// RecordRenewalCompleted records a renewal attempt outcome.
func (m *Metrics) RecordRenewalCompleted(status string, durationSeconds float64) {
	if !metricsRegistered {
		return
	}
	if renewalCompletedTotal != nil {
		renewalCompletedTotal.WithLabelValues(status).Inc()
	}
	if maintenanceDuration != nil {
		maintenanceDuration.WithLabelValues("renew").Observe(durationSeconds)
	}
}

// RecordRotationStarted records a rotation attempt start.
func (m *Metrics) RecordRotationStarted() {
	if !metricsRegistered || rotationStartedTotal == nil {
		return
	}
	rotationStartedTotal.WithLabelValues("rotate").Inc()
}

// RecordRotationCompleted records a rotation attempt outcome.
func (m *Metrics) RecordRotationCompleted(status string, durationSeconds float64) {
	if !metricsRegistered {
		return
	}
	if rotationCompletedTotal != nil {
		rotationCompletedTotal.WithLabelValues(status).Inc()
	}
	if maintenanceDuration != nil {
		maintenanceDuration.WithLabelValues("rotate").Observe(durationSeconds)
	}
}

// IsMetricsRegistered returns whether metrics have been initialized.
func IsMetricsRegistered() bool {
	return metricsRegistered
}

// RecordActiveLeases records the current cache size.
func (m *Metrics) RecordActiveLeases(n int) {
	if !metricsRegistered || activeLeases == nil {
		return
	}
	activeLeases.Set(float64(n))
}
