// Package memlock provides an in-process [domain.Locker].
package memlock

import (
	"context"
	"fmt"
	"sync"

	"github.com/fleetshift/deployd/internal/domain"
)

// Locker hands out per-deployment leases held in process memory. It is
// sufficient for a single daemon; use a shared backend when several
// daemons serve the same registry.
type Locker struct {
	mu   sync.Mutex
	seq  uint64
	held map[domain.DeploymentID]uint64
}

// New returns an empty Locker.
func New() *Locker {
	return &Locker{held: make(map[domain.DeploymentID]uint64)}
}

func (l *Locker) TryLock(_ context.Context, id domain.DeploymentID) (domain.Lease, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[id]; ok {
		return nil, fmt.Errorf("%w: deployment %s is locked by another operation", domain.ErrConflict, id)
	}
	l.seq++
	l.held[id] = l.seq
	return &lease{locker: l, id: id, token: l.seq}, nil
}

type lease struct {
	locker *Locker
	id     domain.DeploymentID
	token  uint64
	once   sync.Once
}

// Release frees the lock. Releasing twice is a no-op.
func (le *lease) Release(_ context.Context) error {
	le.once.Do(func() {
		le.locker.mu.Lock()
		defer le.locker.mu.Unlock()
		if le.locker.held[le.id] == le.token {
			delete(le.locker.held, le.id)
		}
	})
	return nil
}
