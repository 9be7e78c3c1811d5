package podmgr

import (
	"time"
)

// MetricsCollector defines the interface for collecting pod manager metrics
type MetricsCollector interface {
	// PodSpawned records a spawn attempt; result is "success",
	// "exhausted" or "error".
	PodSpawned(result string)

	// PodStartupDuration records how long a pod took to become healthy
	PodStartupDuration(duration time.Duration)

	// PodTerminated records a termination and how long it took
	PodTerminated(duration time.Duration)

	// PodFailed records a pod that exited without being asked to
	PodFailed()

	// PodsRunning records the current number of running pods
	PodsRunning(n int)
}

// noopMetricsCollector is a no-op implementation of MetricsCollector
type noopMetricsCollector struct{}

func (n *noopMetricsCollector) PodSpawned(result string)                  {}
func (n *noopMetricsCollector) PodStartupDuration(duration time.Duration) {}
func (n *noopMetricsCollector) PodTerminated(duration time.Duration)      {}
func (n *noopMetricsCollector) PodFailed()                                {}
func (n *noopMetricsCollector) PodsRunning(count int)                     {}

// NewNoopMetricsCollector creates a no-op metrics collector
func NewNoopMetricsCollector() MetricsCollector {
	return &noopMetricsCollector{}
}
