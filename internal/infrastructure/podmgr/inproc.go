package podmgr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fleetshift/deployd/internal/domain"
)

// WorkerFunc is a worker body run in the daemon process. It must return
// once ctx is cancelled.
type WorkerFunc func(ctx context.Context, spec domain.PodSpec) error

// InProcLauncher runs each pod as a goroutine. A nil Run parks the worker
// until it is stopped.
type InProcLauncher struct {
	Run WorkerFunc
}

func (l *InProcLauncher) Launch(_ context.Context, spec domain.PodSpec) (Process, error) {
	run := l.Run
	if run == nil {
		run = func(ctx context.Context, _ domain.PodSpec) error {
			<-ctx.Done()
			return nil
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &inprocProcess{cancel: cancel, done: make(chan struct{})}
	go func() {
		err := run(ctx, spec)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		p.mu.Lock()
		p.err = err
		p.mu.Unlock()
		close(p.done)
	}()
	return p, nil
}

type inprocProcess struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu  sync.Mutex
	err error
}

func (p *inprocProcess) Done() <-chan struct{} { return p.done }

func (p *inprocProcess) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Stop cancels the worker's context. A goroutine cannot be killed, so a
// worker that ignores cancellation is reported after grace.
func (p *inprocProcess) Stop(grace time.Duration) error {
	p.cancel()
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-p.done:
		return nil
	case <-timer.C:
		return fmt.Errorf("worker did not stop within %s", grace)
	}
}
