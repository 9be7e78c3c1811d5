// Package goworkflows implements [domain.WorkflowEngine] using
// cschleiden/go-workflows for durable workflow execution.
package goworkflows

import (
	"context"
	"fmt"
	"time"

	"github.com/cschleiden/go-workflows/client"
	"github.com/cschleiden/go-workflows/registry"
	"github.com/cschleiden/go-workflows/worker"
	"github.com/cschleiden/go-workflows/workflow"
	"github.com/google/uuid"

	"github.com/fleetshift/deployd/internal/domain"
)

// activityInvoker schedules an activity from the workflow context with the
// correct generic types and returns a function that waits for its result.
// Created at construction time when concrete types are known.
type activityInvoker func(wfCtx workflow.Context, in any) func() (any, error)

// Engine implements [domain.WorkflowEngine] backed by go-workflows.
type Engine struct {
	Worker  *worker.Worker
	Client  *client.Client
	Timeout time.Duration
}

func (e *Engine) timeout() time.Duration {
	if e.Timeout > 0 {
		return e.Timeout
	}
	return 5 * time.Minute
}

func (e *Engine) ConvergenceRunner(wf *domain.ConvergenceWorkflow) (domain.ConvergenceRunner, error) {
	invokers := make(map[string]activityInvoker)

	if err := registerActivity(e.Worker, invokers, wf.PlanConvergence()); err != nil {
		return nil, err
	}
	if err := registerActivity(e.Worker, invokers, wf.StartSlot()); err != nil {
		return nil, err
	}
	if err := registerActivity(e.Worker, invokers, wf.StopSlot()); err != nil {
		return nil, err
	}
	if err := registerActivity(e.Worker, invokers, wf.FinishConvergence()); err != nil {
		return nil, err
	}

	wfFunc := func(ctx workflow.Context, in domain.ConvergenceInput) (domain.ConvergenceResult, error) {
		runner := &durableRunner{wfCtx: ctx, invokers: invokers}
		return wf.Run(runner, in)
	}

	if err := e.Worker.RegisterWorkflow(wfFunc, registry.WithName(wf.Name())); err != nil {
		return nil, fmt.Errorf("register workflow %q: %w", wf.Name(), err)
	}

	return &convergenceRunner{
		client:  e.Client,
		wfName:  wf.Name(),
		timeout: e.timeout(),
	}, nil
}

// registerActivity registers a typed activity with go-workflows and
// creates a corresponding typed invoker.
func registerActivity[I, O any](
	w *worker.Worker,
	invokers map[string]activityInvoker,
	activity domain.Activity[I, O],
) error {
	activityFn := func(ctx context.Context, in I) (O, error) {
		return activity.Run(ctx, in)
	}

	if err := w.RegisterActivity(activityFn, registry.WithName(activity.Name())); err != nil {
		return fmt.Errorf("register activity %q: %w", activity.Name(), err)
	}

	invokers[activity.Name()] = func(wfCtx workflow.Context, in any) func() (any, error) {
		f := workflow.ExecuteActivity[O](wfCtx, workflow.DefaultActivityOptions, activity.Name(), in)
		return func() (any, error) {
			return f.Get(wfCtx)
		}
	}

	return nil
}

type durableRunner struct {
	wfCtx    workflow.Context
	invokers map[string]activityInvoker
}

func (r *durableRunner) ID() string {
	return workflow.WorkflowInstance(r.wfCtx).InstanceID
}

func (r *durableRunner) Context() context.Context {
	return context.Background()
}

func (r *durableRunner) Run(activity domain.Activity[any, any], in any) (any, error) {
	invoke, ok := r.invokers[activity.Name()]
	if !ok {
		return nil, fmt.Errorf("activity %q not registered", activity.Name())
	}
	return invoke(r.wfCtx, in)()
}

// RunAll schedules every call before waiting on any of them, so the
// worker executes the batch concurrently.
func (r *durableRunner) RunAll(calls []domain.ActivityCall) []domain.ActivityResult {
	results := make([]domain.ActivityResult, len(calls))
	waits := make([]func() (any, error), len(calls))
	for i, c := range calls {
		invoke, ok := r.invokers[c.Activity.Name()]
		if !ok {
			results[i].Err = fmt.Errorf("activity %q not registered", c.Activity.Name())
			continue
		}
		waits[i] = invoke(r.wfCtx, c.Input)
	}
	for i, wait := range waits {
		if wait == nil {
			continue
		}
		results[i].Output, results[i].Err = wait()
	}
	return results
}

type convergenceRunner struct {
	client  *client.Client
	wfName  string
	timeout time.Duration
}

func (r *convergenceRunner) Run(ctx context.Context, in domain.ConvergenceInput) (domain.WorkflowHandle[domain.ConvergenceResult], error) {
	instance, err := r.client.CreateWorkflowInstance(ctx, client.WorkflowInstanceOptions{
		InstanceID: uuid.NewString(),
	}, r.wfName, in)
	if err != nil {
		return nil, fmt.Errorf("create workflow instance: %w", err)
	}

	return &workflowHandle{
		client:   r.client,
		instance: instance,
		timeout:  r.timeout,
	}, nil
}

type workflowHandle struct {
	client   *client.Client
	instance *workflow.Instance
	timeout  time.Duration
}

func (h *workflowHandle) WorkflowID() string {
	return h.instance.InstanceID
}

func (h *workflowHandle) AwaitResult(ctx context.Context) (domain.ConvergenceResult, error) {
	return client.GetWorkflowResult[domain.ConvergenceResult](ctx, h.client, h.instance, h.timeout)
}
