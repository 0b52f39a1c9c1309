package discovery

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// Metrics holds Prometheus metrics for discovery document operations.
type Metrics struct {
	fetchesTotal *prometheus.CounterVec
}

// GetMetrics returns the singleton discovery metrics instance,
// registering the collectors on first use.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			fetchesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: "oidcrp",
					Subsystem: "discovery",
					Name:      "fetches_total",
					Help:      "Total number of discovery document lookups by result.",
				},
				[]string{"result"},
			),
		}
	})
	return metricsInstance
}

// RecordFetch records a discovery lookup outcome. Result is one of
// cache_hit, success, or error.
func (m *Metrics) RecordFetch(result string) {
	if m == nil {
		return
	}
	m.fetchesTotal.WithLabelValues(result).Inc()
}
