package podmgr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fleetshift/deployd/internal/domain"
)

// Manager implements [domain.PodManager]. Each pod gets a watcher
// goroutine that promotes it to healthy once it has survived the startup
// grace and marks it failed if it exits unasked.
type Manager struct {
	launcher     Launcher
	capacity     int
	startupGrace time.Duration
	stopGrace    time.Duration
	metrics      MetricsCollector
	logger       *slog.Logger

	mu        sync.Mutex
	pods      map[domain.PodHandle]*pod
	launching int
	wg        sync.WaitGroup
}

type pod struct {
	handle  domain.PodHandle
	spec    domain.PodSpec
	proc    Process
	started time.Time

	mu          sync.Mutex
	health      domain.SlotHealth
	message     string
	terminating bool
	healthy     chan struct{}
}

func (p *pod) status() domain.PodStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return domain.PodStatus{Health: p.health, Message: p.message, StartedAt: p.started}
}

// NewManager creates a pod manager that starts workers through launcher.
func NewManager(launcher Launcher, opts ...Option) *Manager {
	m := &Manager{
		launcher:     launcher,
		startupGrace: time.Second,
		stopGrace:    5 * time.Second,
		metrics:      NewNoopMetricsCollector(),
		logger:       slog.Default(),
		pods:         make(map[domain.PodHandle]*pod),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With("component", "podmgr")
	return m
}

func (m *Manager) Spawn(ctx context.Context, spec domain.PodSpec) (domain.PodHandle, error) {
	m.mu.Lock()
	if m.capacity > 0 && len(m.pods)+m.launching >= m.capacity {
		inUse := len(m.pods) + m.launching
		m.mu.Unlock()
		m.metrics.PodSpawned("exhausted")
		return "", fmt.Errorf("%w: %d of %d pods in use", domain.ErrResourceExhausted, inUse, m.capacity)
	}
	m.launching++
	m.mu.Unlock()

	proc, err := m.launcher.Launch(ctx, spec)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.launching--
	if err != nil {
		m.metrics.PodSpawned("error")
		return "", fmt.Errorf("launch worker for slot %s: %w", spec.SlotID, err)
	}

	p := &pod{
		handle:  domain.PodHandle("pod-" + uuid.NewString()),
		spec:    spec,
		proc:    proc,
		started: time.Now(),
		health:  domain.SlotHealthPending,
		healthy: make(chan struct{}),
	}
	m.pods[p.handle] = p
	m.metrics.PodSpawned("success")
	m.metrics.PodsRunning(len(m.pods))
	m.logger.Info("pod spawned", "pod", p.handle, "deployment_id", spec.DeploymentID,
		"slot_id", spec.SlotID, "shard", spec.Shard)

	m.wg.Add(1)
	go m.watch(p)
	return p.handle, nil
}

func (m *Manager) watch(p *pod) {
	defer m.wg.Done()

	timer := time.NewTimer(m.startupGrace)
	defer timer.Stop()

	select {
	case <-timer.C:
		p.mu.Lock()
		if p.health == domain.SlotHealthPending {
			p.health = domain.SlotHealthHealthy
			close(p.healthy)
		}
		p.mu.Unlock()
		m.metrics.PodStartupDuration(time.Since(p.started))
		<-p.proc.Done()
	case <-p.proc.Done():
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.terminating {
		return
	}
	p.health = domain.SlotHealthFailed
	p.message = "worker exited"
	if err := p.proc.Err(); err != nil {
		p.message = fmt.Sprintf("worker exited: %v", err)
	}
	m.metrics.PodFailed()
	m.logger.Warn("pod failed", "pod", p.handle, "slot_id", p.spec.SlotID, "reason", p.message)
}

func (m *Manager) lookup(h domain.PodHandle) (*pod, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pods[h]
	return p, ok
}

func (m *Manager) Status(_ context.Context, h domain.PodHandle) (domain.PodStatus, error) {
	p, ok := m.lookup(h)
	if !ok {
		return domain.PodStatus{}, fmt.Errorf("pod %s: %w", h, domain.ErrNotFound)
	}
	return p.status(), nil
}

func (m *Manager) WaitHealthy(ctx context.Context, h domain.PodHandle) error {
	p, ok := m.lookup(h)
	if !ok {
		return fmt.Errorf("pod %s: %w", h, domain.ErrNotFound)
	}
	select {
	case <-p.healthy:
		return nil
	case <-p.proc.Done():
		// The watcher may have promoted the pod just before it exited.
		select {
		case <-p.healthy:
			return nil
		default:
		}
		if err := p.proc.Err(); err != nil {
			return fmt.Errorf("worker exited before becoming healthy: %w", err)
		}
		return errors.New("worker exited before becoming healthy")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Terminate stops the pod's worker and forgets the pod. Unknown handles
// are ignored.
func (m *Manager) Terminate(_ context.Context, h domain.PodHandle) error {
	p, ok := m.lookup(h)
	if !ok {
		return nil
	}

	p.mu.Lock()
	p.terminating = true
	p.mu.Unlock()

	start := time.Now()
	err := p.proc.Stop(m.stopGrace)

	p.mu.Lock()
	p.health = domain.SlotHealthTerminated
	p.mu.Unlock()

	m.mu.Lock()
	delete(m.pods, h)
	running := len(m.pods)
	m.mu.Unlock()

	m.metrics.PodTerminated(time.Since(start))
	m.metrics.PodsRunning(running)
	if err != nil {
		m.logger.Warn("pod stop", "pod", h, "error", err)
		return fmt.Errorf("stop pod %s: %w", h, err)
	}
	m.logger.Info("pod terminated", "pod", h, "slot_id", p.spec.SlotID)
	return nil
}

// Shutdown terminates every pod and waits for the watchers to exit.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	handles := make([]domain.PodHandle, 0, len(m.pods))
	for h := range m.pods {
		handles = append(handles, h)
	}
	m.mu.Unlock()

	var errs []error
	for _, h := range handles {
		if err := m.Terminate(ctx, h); err != nil {
			errs = append(errs, err)
		}
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	return errors.Join(errs...)
}
