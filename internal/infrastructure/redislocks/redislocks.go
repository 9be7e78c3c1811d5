// Package redislocks implements [domain.Locker] on Redis so that several
// daemons sharing one registry serialize mutations per deployment.
package redislocks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/fleetshift/deployd/internal/domain"
)

const defaultTTL = 30 * time.Second

// Locker obtains leases through bsm/redislock. Held leases are refreshed
// in the background until released, so a crashed daemon's locks expire
// after TTL.
type Locker struct {
	client *redislock.Client
	ttl    time.Duration
	prefix string
	logger *slog.Logger
}

// Option configures a [Locker].
type Option func(*Locker)

// WithLogger sets the logger that reports refresh failures.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Locker) { l.logger = logger }
}

// New returns a Locker using rdb. A zero ttl selects 30s.
func New(rdb redis.UniversalClient, prefix string, ttl time.Duration, opts ...Option) *Locker {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if prefix == "" {
		prefix = "deployd:lock:"
	}
	l := &Locker{client: redislock.New(rdb), ttl: ttl, prefix: prefix, logger: slog.Default()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Locker) key(id domain.DeploymentID) string {
	return l.prefix + string(id)
}

func (l *Locker) TryLock(ctx context.Context, id domain.DeploymentID) (domain.Lease, error) {
	lock, err := l.client.Obtain(ctx, l.key(id), l.ttl, nil)
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, fmt.Errorf("%w: deployment %s is locked by another operation", domain.ErrConflict, id)
		}
		return nil, fmt.Errorf("obtain lock for %s: %w", id, err)
	}

	le := &lease{
		lock:   lock,
		ttl:    l.ttl,
		logger: l.logger.With("deployment_id", id, "key", lock.Key()),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go le.keepAlive()
	return le, nil
}

type lease struct {
	lock   *redislock.Lock
	ttl    time.Duration
	logger *slog.Logger
	stop   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// keepAlive refreshes the lock every third of its TTL. A failed refresh is
// retried on the next tick until the key is found to be gone.
func (le *lease) keepAlive() {
	defer close(le.done)
	ticker := time.NewTicker(le.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-le.stop:
			return
		case <-ticker.C:
			err := le.lock.Refresh(context.Background(), le.ttl, nil)
			if errors.Is(err, redislock.ErrNotObtained) {
				le.logger.Warn("deployment lock lost; another operation may take it")
				return
			}
			if err != nil {
				le.logger.Warn("refresh deployment lock", "error", err)
			}
		}
	}
}

// Release stops refreshing and deletes the key. Releasing twice, or after
// the lock expired, is a no-op.
func (le *lease) Release(ctx context.Context) error {
	var err error
	le.once.Do(func() {
		close(le.stop)
		<-le.done
		if rerr := le.lock.Release(ctx); rerr != nil && !errors.Is(rerr, redislock.ErrLockNotHeld) {
			err = fmt.Errorf("release lock %s: %w", le.lock.Key(), rerr)
		}
	})
	return err
}
