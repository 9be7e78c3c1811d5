package domain

import "context"

// Activity is a named, typed, idempotent operation. Implementations must
// be safe for at-least-once invocation.
type Activity[I any, O any] interface {
	Name() string
	Run(ctx context.Context, in I) (O, error)
}

// ActivityCall pairs an untyped activity with its input for batched
// execution through [DurableRunner.RunAll].
type ActivityCall struct {
	Activity Activity[any, any]
	Input    any
}

// ActivityResult is the outcome of one call in a batch.
type ActivityResult struct {
	Output any
	Err    error
}

// DurableRunner is the capability object provided to a running workflow.
// It durably runs activities and provides a context for pure operations
// that need cancellation propagation.
type DurableRunner interface {
	ID() string

	// Context returns the workflow execution context. In a durable
	// engine this is the deterministic replay context; in the
	// synchronous backend it is the caller's context.
	Context() context.Context

	// Run durably runs an activity. The engine provides the activity's
	// context internally; callers should use [RunActivity] for type safety.
	Run(activity Activity[any, any], in any) (any, error)

	// RunAll runs a batch of calls and returns one result per call, in
	// call order. Engines may run the calls concurrently. A failing call
	// does not stop the rest of the batch.
	RunAll(calls []ActivityCall) []ActivityResult
}

// RunActivity provides type-safe durable activity execution from within
// a workflow body. It is a thin wrapper around [DurableRunner.Run].
func RunActivity[I any, O any](runner DurableRunner, activity Activity[I, O], in I) (O, error) {
	result, err := runner.Run(&activityAdapter[I, O]{activity: activity}, in)
	if err != nil {
		var zero O
		return zero, err
	}
	return result.(O), nil
}

// RunActivities runs activity once per input as a single batch. The
// returned slices are index-aligned with ins.
func RunActivities[I any, O any](runner DurableRunner, activity Activity[I, O], ins []I) ([]O, []error) {
	if len(ins) == 0 {
		return nil, nil
	}
	adapter := &activityAdapter[I, O]{activity: activity}
	calls := make([]ActivityCall, len(ins))
	for i, in := range ins {
		calls[i] = ActivityCall{Activity: adapter, Input: in}
	}

	results := runner.RunAll(calls)
	outs := make([]O, len(ins))
	errs := make([]error, len(ins))
	for i, r := range results {
		if r.Err != nil {
			errs[i] = r.Err
			continue
		}
		outs[i] = r.Output.(O)
	}
	return outs, errs
}

// WorkflowHandle is a handle to a running or completed workflow execution.
type WorkflowHandle[O any] interface {
	WorkflowID() string
	AwaitResult(ctx context.Context) (O, error)
}

// ConvergenceRunner starts and awaits convergence workflows.
type ConvergenceRunner interface {
	Run(ctx context.Context, in ConvergenceInput) (WorkflowHandle[ConvergenceResult], error)
}

// WorkflowEngine creates runners for the workflow types known to the
// domain. Infrastructure packages provide engine-specific implementations.
type WorkflowEngine interface {
	ConvergenceRunner(wf *ConvergenceWorkflow) (ConvergenceRunner, error)
}

// NewActivity creates an [Activity] from a stable name and a function.
// Workflow types use this to define their activities as methods.
func NewActivity[I, O any](name string, fn func(context.Context, I) (O, error)) Activity[I, O] {
	return &activityFunc[I, O]{name: name, fn: fn}
}

type activityFunc[I, O any] struct {
	name string
	fn   func(context.Context, I) (O, error)
}

func (a *activityFunc[I, O]) Name() string                             { return a.name }
func (a *activityFunc[I, O]) Run(ctx context.Context, in I) (O, error) { return a.fn(ctx, in) }

// activityAdapter bridges a typed [Activity] to the any-typed
// [DurableRunner.Run] interface.
type activityAdapter[I any, O any] struct{ activity Activity[I, O] }

func (a *activityAdapter[I, O]) Name() string { return a.activity.Name() }
func (a *activityAdapter[I, O]) Run(ctx context.Context, in any) (any, error) {
	return a.activity.Run(ctx, in.(I))
}
