package webhook

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	deliveries *prometheus.CounterVec
	retries    prometheus.Counter
	duration   prometheus.Histogram
}

var (
	metricsOnce   sync.Once
	sharedMetrics *metrics
)

// newMetrics registers the dispatcher metrics with the default registry.
// Registration happens once; dispatchers created later (tests) share the
// same collectors.
func newMetrics() *metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &metrics{
			deliveries: prometheus.NewCounterVec(
				prometheus.CounterOpts{
					Name: "gateway_webhook_deliveries_total",
					Help: "Total webhook delivery attempts by outcome",
				},
				[]string{"outcome"},
			),
			retries: prometheus.NewCounter(
				prometheus.CounterOpts{
					Name: "gateway_webhook_retries_total",
					Help: "Total webhook retry schedules",
				},
			),
			duration: prometheus.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "gateway_webhook_attempt_duration_seconds",
					Help:    "Duration of webhook delivery attempts",
					Buckets: prometheus.DefBuckets,
				},
			),
		}
		prometheus.MustRegister(sharedMetrics.deliveries, sharedMetrics.retries, sharedMetrics.duration)
	})
	return sharedMetrics
}

func (m *metrics) observe(outcome Outcome) {
	m.deliveries.WithLabelValues(outcome.String()).Inc()
}
