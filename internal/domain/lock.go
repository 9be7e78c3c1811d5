package domain

import "context"

// Lease is a held per-deployment lock.
type Lease interface {
	Release(ctx context.Context) error
}

// Locker hands out exclusive per-deployment leases. Acquisition never
// waits: a held lock yields [ErrConflict].
type Locker interface {
	TryLock(ctx context.Context, id DeploymentID) (Lease, error)
}
