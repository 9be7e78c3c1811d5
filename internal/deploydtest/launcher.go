package deploydtest

import (
	"context"
	"sync/atomic"

	"github.com/fleetshift/deployd/internal/domain"
	"github.com/fleetshift/deployd/internal/infrastructure/podmgr"
)

// GatedLauncher holds launches until Gate is closed, then starts an
// in-process worker that parks until stopped. The first Free launches are
// not held. It keeps a convergence in flight for as long as a test needs.
type GatedLauncher struct {
	Gate <-chan struct{}
	Free int

	launches atomic.Int64
	inner    podmgr.InProcLauncher
}

// Launches returns the number of launches requested so far, including
// those still held at the gate.
func (l *GatedLauncher) Launches() int {
	return int(l.launches.Load())
}

func (l *GatedLauncher) Launch(ctx context.Context, spec domain.PodSpec) (podmgr.Process, error) {
	if n := l.launches.Add(1); n <= int64(l.Free) {
		return l.inner.Launch(ctx, spec)
	}
	select {
	case <-l.Gate:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return l.inner.Launch(ctx, spec)
}
