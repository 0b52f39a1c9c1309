package jwks

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// Metrics holds Prometheus metrics for JWKS operations.
type Metrics struct {
	lookupsTotal   *prometheus.CounterVec
	refreshesTotal *prometheus.CounterVec
}

// GetMetrics returns the singleton JWKS metrics instance, registering
// the collectors on first use.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			lookupsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "oidcrp",
					Subsystem: "jwks",
					Name:      "key_lookups_total",
					Help:      "Total number of key lookups by result.",
				},
				[]string{"result"},
			),
			refreshesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "oidcrp",
					Subsystem: "jwks",
					Name:      "refreshes_total",
					Help:      "Total number of key set refreshes by result.",
				},
				[]string{"result"},
			),
		}
	})
	return metricsInstance
}

// RecordLookup records a key lookup outcome. Result is one of hit,
// refresh_hit, throttled, or miss.
func (m *Metrics) RecordLookup(result string) {
	if m == nil {
		return
	}
	m.lookupsTotal.WithLabelValues(result).Inc()
}

// RecordRefresh records a key set refresh outcome.
func (m *Metrics) RecordRefresh(result string) {
	if m == nil {
		return
	}
	m.refreshesTotal.WithLabelValues(result).Inc()
}
