package lifecycle

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jnoller/racer/internal/apperr"
)

var (
	metricsOnce    sync.Once
	sharedMetrics  *metrics
	durationBucket = []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300}
)

type metrics struct {
	operations *prometheus.CounterVec
	failures   *prometheus.CounterVec
	duration   *prometheus.HistogramVec
}

func newMetrics() *metrics {
	metricsOnce.Do(func() {
		m := &metrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "racer",
				Subsystem: "lifecycle",
				Name:      "operations_total",
				Help:      "Count of completed lifecycle operations",
			}, []string{"op"}),
			failures: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "racer",
				Subsystem: "lifecycle",
				Name:      "failures_total",
				Help:      "Count of failed lifecycle operations by error kind",
			}, []string{"op", "kind"}),
			duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "racer",
				Subsystem: "lifecycle",
				Name:      "operation_duration_seconds",
				Help:      "Duration of successful lifecycle operations",
				Buckets:   durationBucket,
			}, []string{"op"}),
		}
		m.operations = register(m.operations)
		m.failures = register(m.failures)
		m.duration = register(m.duration)
		sharedMetrics = m
	})
	return sharedMetrics
}

func register[T prometheus.Collector](c T) T {
	if err := prometheus.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
	}
	return c
}

func (m *metrics) success(op string, started time.Time) {
	m.operations.WithLabelValues(op).Inc()
	m.duration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

func (m *metrics) failure(op string, kind apperr.Kind) {
	m.failures.WithLabelValues(op, string(kind)).Inc()
}
