// Package metrics exports lifecycle operation metrics to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/fleetshift/deployd/internal/domain"
)

// OperationCollector implements application.OperationMetrics using
// Prometheus metrics.
type OperationCollector struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	rejections *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewOperationCollector creates a collector with its own registry
func NewOperationCollector(namespace string) *OperationCollector {
	if namespace == "" {
		namespace = "deployd"
	}

	oc := &OperationCollector{
		registry: prometheus.NewRegistry(),
	}

	oc.operations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Total number of completed deployment operations",
		},
		[]string{"kind", "outcome"},
	)

	oc.duration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Time from accepting a deployment operation until it converged",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"kind"},
	)

	oc.rejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_conflicts_total",
			Help:      "Total number of operations rejected because the deployment was busy",
		},
		[]string{"kind", "reason"},
	)

	oc.registry.MustRegister(oc.operations, oc.duration, oc.rejections)
	return oc
}

func (oc *OperationCollector) OperationCompleted(kind domain.ConvergenceKind, outcome string, d time.Duration) {
	oc.operations.WithLabelValues(string(kind), outcome).Inc()
	oc.duration.WithLabelValues(string(kind)).Observe(d.Seconds())
}

func (oc *OperationCollector) OperationRejected(kind domain.ConvergenceKind, reason string) {
	oc.rejections.WithLabelValues(string(kind), reason).Inc()
}

// Registry returns the Prometheus registry holding the operation metrics
func (oc *OperationCollector) Registry() *prometheus.Registry {
	return oc.registry
}
