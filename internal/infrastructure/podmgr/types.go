// Package podmgr implements [domain.PodManager] over a pluggable
// [Launcher]: local processes or in-process workers.
package podmgr

import (
	"context"
	"time"

	"github.com/fleetshift/deployd/internal/domain"
)

// Launcher starts the worker backing one pod.
type Launcher interface {
	Launch(ctx context.Context, spec domain.PodSpec) (Process, error)
}

// Process is a running worker.
type Process interface {
	// Done is closed when the worker exits.
	Done() <-chan struct{}

	// Err reports why the worker exited. Valid once Done is closed.
	Err() error

	// Stop asks the worker to exit and forces it after grace.
	Stop(grace time.Duration) error
}
