package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"

	"github.com/fleetshift/deployd/internal/api"
	"github.com/fleetshift/deployd/internal/domain"
)

// operation is one remote call plus, for long-running mutations, the
// condition under which it has settled. settle is polled with backoff
// after submit succeeds; a nil settle means submit's result is final.
type operation[T any] struct {
	submit func(ctx context.Context) (T, error)
	settle func(ctx context.Context, submitted T) (result T, done bool, err error)
}

var errNotSettled = errors.New("operation not settled")

// execute submits op and polls until it settles, fails or ctx is done.
func execute[T any](ctx context.Context, t *transport, op operation[T]) (T, error) {
	submitted, err := op.submit(ctx)
	if err != nil || op.settle == nil {
		return submitted, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.pollInitial
	b.MaxInterval = t.pollMax
	b.MaxElapsedTime = 0

	return backoff.RetryWithData(func() (T, error) {
		result, done, err := op.settle(ctx, submitted)
		switch {
		case err != nil && retryable(err):
			return result, err
		case err != nil:
			return result, backoff.Permanent(err)
		case !done:
			return result, errNotSettled
		}
		return result, nil
	}, backoff.WithContext(b, ctx))
}

// retryable reports whether a polling error is transient. Errors the
// daemon classified are final; transport failures are retried.
func retryable(err error) bool {
	var remote *api.RemoteError
	if errors.As(err, &remote) {
		return remote.Code == api.CodeInternal
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

// Future is the pending result of an operation started by [AsyncClient].
type Future[T any] struct {
	done  chan struct{}
	value T
	err   error
}

// Done is closed once the operation has settled.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Await blocks until the operation settles or ctx is done. Abandoning the
// wait does not cancel the daemon-side work.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// scheduler decides where an operation runs: inline for [SyncClient], on
// its own goroutine for [AsyncClient].
type scheduler func(fn func())

func inline(fn func())     { fn() }
func background(fn func()) { go fn() }

func start[T any](ctx context.Context, t *transport, sched scheduler, op operation[T]) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	sched(func() {
		f.value, f.err = execute(ctx, t, op)
		close(f.done)
	})
	return f
}

func failed(d api.Deployment) error {
	return &api.RemoteError{
		Code:         api.CodeFailed,
		Message:      d.LastError,
		DeploymentID: d.ID,
	}
}

func createOp(t *transport, req api.CreateDeploymentRequest) operation[api.Deployment] {
	return operation[api.Deployment]{
		submit: func(ctx context.Context) (api.Deployment, error) {
			return t.createDeployment(ctx, req)
		},
		settle: func(ctx context.Context, submitted api.Deployment) (api.Deployment, bool, error) {
			d, err := t.getDeployment(ctx, submitted.ID)
			if err != nil {
				return d, false, err
			}
			switch domain.DeploymentState(d.State) {
			case domain.DeploymentStateRunning:
				return d, true, nil
			case domain.DeploymentStateFailed:
				return d, true, failed(d)
			}
			return d, false, nil
		},
	}
}

func scaleOp(t *transport, id string, replicas int) operation[api.Deployment] {
	return operation[api.Deployment]{
		submit: func(ctx context.Context) (api.Deployment, error) {
			resp, err := t.scaleDeployment(ctx, id, replicas)
			if err != nil {
				return api.Deployment{}, err
			}
			if resp.Deployment == nil {
				return api.Deployment{ID: id}, nil
			}
			return *resp.Deployment, nil
		},
		settle: func(ctx context.Context, _ api.Deployment) (api.Deployment, bool, error) {
			d, err := t.getDeployment(ctx, id)
			if err != nil {
				return d, false, err
			}
			state := domain.DeploymentState(d.State)
			if state == domain.DeploymentStateFailed {
				return d, true, failed(d)
			}
			return d, !state.Busy(), nil
		},
	}
}

func deleteOp(t *transport, id string) operation[struct{}] {
	return operation[struct{}]{
		submit: func(ctx context.Context) (struct{}, error) {
			_, err := t.deleteDeployment(ctx, id)
			return struct{}{}, err
		},
		settle: func(ctx context.Context, _ struct{}) (struct{}, bool, error) {
			d, err := t.getDeployment(ctx, id)
			if errors.Is(err, domain.ErrNotFound) {
				return struct{}{}, true, nil
			}
			if err != nil {
				return struct{}{}, false, err
			}
			if domain.DeploymentState(d.State) == domain.DeploymentStateFailed {
				return struct{}{}, true, fmt.Errorf("delete %s: %w", id, failed(d))
			}
			return struct{}{}, false, nil
		},
	}
}

// call wraps a single request as an operation with nothing to settle.
func call[T any](fn func(ctx context.Context) (T, error)) operation[T] {
	return operation[T]{submit: fn}
}
