package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fleetshift/deployd/internal/domain"
)

// DefaultMaxReplicas is the per-shard replica ceiling used when
// ScalingController.MaxReplicas is zero.
const DefaultMaxReplicas = 64

// ScalingController validates replica targets and drives convergence
// runs to completion in the background.
type ScalingController struct {
	Runner      domain.ConvergenceRunner
	Deployments domain.DeploymentRepository
	MaxReplicas int
	Metrics     OperationMetrics
	Logger      *slog.Logger
	Tracer      trace.Tracer
	Now         func() time.Time

	wg sync.WaitGroup
}

func (c *ScalingController) maxReplicas() int {
	if c.MaxReplicas > 0 {
		return c.MaxReplicas
	}
	return DefaultMaxReplicas
}

func (c *ScalingController) metrics() OperationMetrics {
	if c.Metrics != nil {
		return c.Metrics
	}
	return noopOperationMetrics{}
}

func (c *ScalingController) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c *ScalingController) tracer() trace.Tracer {
	if c.Tracer != nil {
		return c.Tracer
	}
	return otel.Tracer("github.com/fleetshift/deployd/internal/application")
}

func (c *ScalingController) now() time.Time {
	if c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

// ValidateReplicas checks a per-shard replica target against the ceiling.
func (c *ScalingController) ValidateReplicas(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: replicas must be at least 1, got %d", domain.ErrInvalidArgument, n)
	}
	if ceiling := c.maxReplicas(); n > ceiling {
		return fmt.Errorf("%w: replicas %d exceeds the ceiling of %d", domain.ErrInvalidArgument, n, ceiling)
	}
	return nil
}

// Converge starts a convergence run detached from ctx's cancellation and
// releases lease when the run ends.
func (c *ScalingController) Converge(ctx context.Context, lease domain.Lease, in domain.ConvergenceInput) *Operation {
	op := newOperation(in.Kind, in.DeploymentID)
	ctx = context.WithoutCancel(ctx)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		start := time.Now()
		result, err := c.converge(ctx, in)
		if rerr := lease.Release(ctx); rerr != nil {
			c.logger().Warn("release deployment lock", "deployment_id", in.DeploymentID, "error", rerr)
		}
		c.metrics().OperationCompleted(in.Kind, outcome(result, err), time.Since(start))
		op.finish(result, err)
	}()
	return op
}

// Wait blocks until every background convergence has finished.
func (c *ScalingController) Wait() {
	c.wg.Wait()
}

func (c *ScalingController) converge(ctx context.Context, in domain.ConvergenceInput) (domain.ConvergenceResult, error) {
	ctx, span := c.tracer().Start(ctx, "converge "+string(in.Kind), trace.WithAttributes(
		attribute.String("deployment.id", string(in.DeploymentID)),
		attribute.Int("deployment.target_replicas", in.Target),
	))
	defer span.End()

	logger := c.logger().With("deployment_id", in.DeploymentID, "kind", in.Kind)
	logger.Info("convergence started", "target", in.Target)

	handle, err := c.Runner.Run(ctx, in)
	var result domain.ConvergenceResult
	if err == nil {
		result, err = handle.AwaitResult(ctx)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("convergence aborted", "error", err)
		c.markFailed(ctx, in, err)
		return domain.ConvergenceResult{}, fmt.Errorf("%w: %s %s: %v", domain.ErrFailed, in.Kind, in.DeploymentID, err)
	}

	if result.Superseded {
		span.SetStatus(codes.Error, "superseded")
		logger.Warn("convergence superseded by a later operation")
		return result, fmt.Errorf("%w: %s %s superseded by a later operation", domain.ErrConflict, in.Kind, in.DeploymentID)
	}

	span.SetAttributes(
		attribute.Int("convergence.started", result.Started),
		attribute.Int("convergence.stopped", result.Stopped),
		attribute.Int("convergence.failed", result.Failed),
	)
	if result.State == domain.DeploymentStateFailed {
		span.SetStatus(codes.Error, result.LastError)
		logger.Warn("convergence failed", "failed_slots", result.Failed, "error", result.LastError)
		return result, fmt.Errorf("%w: %s", domain.ErrFailed, result.LastError)
	}
	logger.Info("convergence finished", "state", result.State, "started", result.Started, "stopped", result.Stopped)
	return result, nil
}

// markFailed records an aborted run on the deployment so it does not stay
// busy forever. A deployment that has moved on to another operation is
// left alone.
func (c *ScalingController) markFailed(ctx context.Context, in domain.ConvergenceInput, cause error) {
	id := in.DeploymentID
	d, err := c.Deployments.Get(ctx, id)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			c.logger().Error("load deployment after aborted convergence", "deployment_id", id, "error", err)
		}
		return
	}
	if d.OperationID != in.OperationID {
		return
	}
	d.State = domain.DeploymentStateFailed
	d.LastError = cause.Error()
	d.UpdatedAt = c.now()
	if err := c.Deployments.Update(ctx, d); err != nil {
		c.logger().Error("mark deployment failed", "deployment_id", id, "error", err)
	}
}

func outcome(result domain.ConvergenceResult, err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case result.Superseded:
		return OutcomeSuperseded
	case result.State == domain.DeploymentStateFailed:
		return OutcomeFailed
	default:
		return OutcomeError
	}
}
