// Package syncworkflow provides a synchronous, in-process [domain.WorkflowEngine].
// Activities execute inline with no persistence or replay.
package syncworkflow

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/fleetshift/deployd/internal/domain"
)

var runCounter atomic.Int64

// Engine implements [domain.WorkflowEngine] with synchronous, in-process
// execution. No durable state is kept. Batched activities run on up to
// MaxParallel goroutines; zero means unbounded.
type Engine struct {
	MaxParallel int
}

func (e *Engine) ConvergenceRunner(wf *domain.ConvergenceWorkflow) (domain.ConvergenceRunner, error) {
	return &runner{wf: wf, engine: e}, nil
}

func (e *Engine) newRunner(ctx context.Context) *syncRunner {
	return &syncRunner{id: runCounter.Add(1), ctx: ctx, maxParallel: e.MaxParallel}
}

type runner struct {
	wf     *domain.ConvergenceWorkflow
	engine *Engine
}

func (r *runner) Run(ctx context.Context, in domain.ConvergenceInput) (domain.WorkflowHandle[domain.ConvergenceResult], error) {
	dr := r.engine.newRunner(ctx)
	result, err := r.wf.Run(dr, in)
	return &handle{id: dr.id, result: result, err: err}, nil
}

type syncRunner struct {
	id          int64
	ctx         context.Context
	maxParallel int
}

func (r *syncRunner) ID() string               { return fmt.Sprintf("sync-%d", r.id) }
func (r *syncRunner) Context() context.Context { return r.ctx }
func (r *syncRunner) Run(activity domain.Activity[any, any], in any) (any, error) {
	return activity.Run(r.ctx, in)
}

func (r *syncRunner) RunAll(calls []domain.ActivityCall) []domain.ActivityResult {
	results := make([]domain.ActivityResult, len(calls))
	var g errgroup.Group
	if r.maxParallel > 0 {
		g.SetLimit(r.maxParallel)
	}
	for i, c := range calls {
		g.Go(func() error {
			out, err := c.Activity.Run(r.ctx, c.Input)
			results[i] = domain.ActivityResult{Output: out, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

type handle struct {
	id     int64
	result domain.ConvergenceResult
	err    error
}

func (h *handle) WorkflowID() string { return fmt.Sprintf("sync-%d", h.id) }
func (h *handle) AwaitResult(_ context.Context) (domain.ConvergenceResult, error) {
	return h.result, h.err
}
