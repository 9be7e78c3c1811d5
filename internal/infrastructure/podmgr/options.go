package podmgr

import (
	"log/slog"
	"time"
)

// Option configures the Manager
type Option func(*Manager)

// WithCapacity caps the number of pods running at once. Zero means no cap.
func WithCapacity(n int) Option {
	return func(m *Manager) {
		m.capacity = n
	}
}

// WithStartupGrace sets how long a worker must stay up before it is
// considered healthy.
func WithStartupGrace(d time.Duration) Option {
	return func(m *Manager) {
		m.startupGrace = d
	}
}

// WithStopGrace sets how long Terminate waits after the stop signal
// before forcing the worker down.
func WithStopGrace(d time.Duration) Option {
	return func(m *Manager) {
		m.stopGrace = d
	}
}

// WithMetricsCollector sets the metrics collector
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(m *Manager) {
		m.metrics = mc
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}
