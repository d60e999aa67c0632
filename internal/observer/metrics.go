package observer

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/harborgrid/beacon/pkg/monitoring"
)

// MetricsSink counts observer events as Prometheus metrics.
type MetricsSink struct {
	coreEvents *prometheus.CounterVec
}

// NewMetricsSink registers the core event counters on the collector.
func NewMetricsSink(mc *monitoring.MetricsCollector) *MetricsSink {
	return &MetricsSink{
		coreEvents: mc.NewCounter("core_events_total", "Operational events emitted by the core", []string{"kind", "tenant_id"}),
	}
}

// Observe implements Observer.
func (s *MetricsSink) Observe(_ context.Context, e Event) {
	s.coreEvents.WithLabelValues(string(e.Kind), e.TenantID).Inc()
}
