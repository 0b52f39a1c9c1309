package jwt

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// Metrics holds Prometheus metrics for token validation.
type Metrics struct {
	validationsTotal   *prometheus.CounterVec
	validationDuration *prometheus.HistogramVec
}

// GetMetrics returns the singleton validation metrics instance,
// registering the collectors on first use.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			validationsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "oidcrp",
					Subsystem: "jwt",
					Name:      "validations_total",
					Help:      "Total number of token validations by result.",
				},
				[]string{"result"},
			),
			validationDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: "oidcrp",
					Subsystem: "jwt",
					Name:      "validation_duration_seconds",
					Help:      "Token validation duration.",
					Buckets:   prometheus.DefBuckets,
				},
				[]string{"result"},
			),
		}
	})
	return metricsInstance
}

// RecordValidation records a validation outcome and its duration.
func (m *Metrics) RecordValidation(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.validationsTotal.WithLabelValues(result).Inc()
	m.validationDuration.WithLabelValues(result).Observe(duration.Seconds())
}
