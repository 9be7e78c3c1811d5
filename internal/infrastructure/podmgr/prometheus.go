package podmgr

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetricsCollector implements MetricsCollector using Prometheus metrics
type PrometheusMetricsCollector struct {
	spawns       *prometheus.CounterVec
	startup      prometheus.Histogram
	terminations prometheus.Histogram
	failures     prometheus.Counter
	running      prometheus.Gauge

	registry *prometheus.Registry
}

// NewPrometheusMetricsCollector creates a new Prometheus metrics collector
func NewPrometheusMetricsCollector(namespace string) *PrometheusMetricsCollector {
	if namespace == "" {
		namespace = "podmgr"
	}

	pmc := &PrometheusMetricsCollector{
		registry: prometheus.NewRegistry(),
	}

	pmc.spawns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pod_spawns_total",
			Help:      "Total number of pod spawn attempts",
		},
		[]string{"result"},
	)

	pmc.startup = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pod_startup_seconds",
			Help:      "Time from spawn until a pod is healthy",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	pmc.terminations = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pod_termination_seconds",
			Help:      "Duration of pod terminations",
			Buckets:   prometheus.DefBuckets,
		},
	)

	pmc.failures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pod_failures_total",
			Help:      "Total number of pods that exited unexpectedly",
		},
	)

	pmc.running = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pods_running",
			Help:      "Current number of running pods",
		},
	)

	pmc.registry.MustRegister(
		pmc.spawns,
		pmc.startup,
		pmc.terminations,
		pmc.failures,
		pmc.running,
	)

	return pmc
}

func (pmc *PrometheusMetricsCollector) PodSpawned(result string) {
	pmc.spawns.WithLabelValues(result).Inc()
}

func (pmc *PrometheusMetricsCollector) PodStartupDuration(duration time.Duration) {
	pmc.startup.Observe(duration.Seconds())
}

func (pmc *PrometheusMetricsCollector) PodTerminated(duration time.Duration) {
	pmc.terminations.Observe(duration.Seconds())
}

func (pmc *PrometheusMetricsCollector) PodFailed() {
	pmc.failures.Inc()
}

func (pmc *PrometheusMetricsCollector) PodsRunning(n int) {
	pmc.running.Set(float64(n))
}

// Registry returns the Prometheus registry holding the pod metrics
func (pmc *PrometheusMetricsCollector) Registry() *prometheus.Registry {
	return pmc.registry
}
