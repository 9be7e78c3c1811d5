package application

import (
	"context"

	"github.com/fleetshift/deployd/internal/domain"
)

// Operation tracks a deployment mutation converging in the background.
// It completes once the deployment reaches a terminal state for that
// mutation. Abandoning the wait does not cancel the convergence.
type Operation struct {
	Kind         domain.ConvergenceKind
	DeploymentID domain.DeploymentID

	done   chan struct{}
	result domain.ConvergenceResult
	err    error
}

func newOperation(kind domain.ConvergenceKind, id domain.DeploymentID) *Operation {
	return &Operation{Kind: kind, DeploymentID: id, done: make(chan struct{})}
}

// Done is closed when the operation completes.
func (o *Operation) Done() <-chan struct{} { return o.done }

// Wait blocks until the operation completes or ctx is done. A run that
// left the deployment failed returns an error wrapping [domain.ErrFailed].
func (o *Operation) Wait(ctx context.Context) (domain.ConvergenceResult, error) {
	select {
	case <-o.done:
		return o.result, o.err
	case <-ctx.Done():
		return domain.ConvergenceResult{}, ctx.Err()
	}
}

func (o *Operation) finish(result domain.ConvergenceResult, err error) {
	o.result = result
	o.err = err
	close(o.done)
}
