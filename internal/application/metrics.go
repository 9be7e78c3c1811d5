package application

import (
	"time"

	"github.com/fleetshift/deployd/internal/domain"
)

// Operation outcomes reported to [OperationMetrics].
const (
	OutcomeSuccess    = "success"
	OutcomeFailed     = "failed"
	OutcomeError      = "error"
	OutcomeSuperseded = "superseded"
)

// OperationMetrics records lifecycle operation outcomes.
type OperationMetrics interface {
	// OperationCompleted records a finished convergence.
	OperationCompleted(kind domain.ConvergenceKind, outcome string, duration time.Duration)

	// OperationRejected records a mutation refused before it started,
	// for example because another mutation held the deployment lock.
	OperationRejected(kind domain.ConvergenceKind, reason string)
}

type noopOperationMetrics struct{}

func (noopOperationMetrics) OperationCompleted(domain.ConvergenceKind, string, time.Duration) {}
func (noopOperationMetrics) OperationRejected(domain.ConvergenceKind, string)                 {}

// NewNoopOperationMetrics returns an [OperationMetrics] that discards everything.
func NewNoopOperationMetrics() OperationMetrics {
	return noopOperationMetrics{}
}
