package application_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fleetshift/deployd/internal/application"
	"github.com/fleetshift/deployd/internal/deploydtest"
	"github.com/fleetshift/deployd/internal/domain"
)

type recordingMetrics struct {
	mu        sync.Mutex
	completed map[string]int
	rejected  map[string]int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{completed: map[string]int{}, rejected: map[string]int{}}
}

func (m *recordingMetrics) OperationCompleted(kind domain.ConvergenceKind, outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completed[string(kind)+"/"+outcome]++
}

func (m *recordingMetrics) OperationRejected(kind domain.ConvergenceKind, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected[string(kind)+"/"+reason]++
}

func (m *recordingMetrics) count(set map[string]int, key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return set[key]
}

func create(t *testing.T, s *deploydtest.Stack, ws domain.WorkspaceID, replicas, shards int) domain.Deployment {
	t.Helper()
	ctx := context.Background()
	op, err := s.Registry.Create(ctx, application.CreateDeploymentInput{
		WorkspaceID: ws,
		Config:      domain.WorkerConfig{Replicas: replicas, Shards: shards},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := op.Wait(ctx); err != nil {
		t.Fatalf("Create Wait: %v", err)
	}
	return get(t, s, op.DeploymentID)
}

func get(t *testing.T, s *deploydtest.Stack, id domain.DeploymentID) domain.Deployment {
	t.Helper()
	d, err := s.Registry.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	return d
}

func scale(t *testing.T, s *deploydtest.Stack, id domain.DeploymentID, replicas int) domain.Deployment {
	t.Helper()
	ctx := context.Background()
	op, err := s.Registry.ApplyScale(ctx, application.ScaleRequest{DeploymentID: id, Replicas: replicas})
	if err != nil {
		t.Fatalf("ApplyScale(%d): %v", replicas, err)
	}
	if _, err := op.Wait(ctx); err != nil {
		t.Fatalf("ApplyScale(%d) Wait: %v", replicas, err)
	}
	return get(t, s, id)
}

func assertTopology(t *testing.T, d domain.Deployment, replicas, shards int) {
	t.Helper()
	if d.State != domain.DeploymentStateRunning {
		t.Errorf("State = %q, want %q", d.State, domain.DeploymentStateRunning)
	}
	if d.Replicas != replicas {
		t.Errorf("Replicas = %d, want %d", d.Replicas, replicas)
	}
	if d.Shards != shards {
		t.Errorf("Shards = %d, want %d", d.Shards, shards)
	}
	if len(d.Slots) != replicas*shards {
		t.Errorf("len(Slots) = %d, want %d", len(d.Slots), replicas*shards)
	}
	for shard := 0; shard < shards; shard++ {
		if n := d.HealthyReplicas(shard); n != replicas {
			t.Errorf("shard %d: %d healthy replicas, want %d", shard, n, replicas)
		}
	}
}

func TestCreate_AllocatesReplicasPerShard(t *testing.T) {
	tests := []struct{ replicas, shards int }{
		{1, 1}, {2, 1}, {1, 3}, {3, 2},
	}
	for _, tt := range tests {
		s := deploydtest.New(t, deploydtest.Options{})
		ws := s.Workspace(t)
		d := create(t, s, ws.ID, tt.replicas, tt.shards)
		assertTopology(t, d, tt.replicas, tt.shards)
		for _, slot := range d.Slots {
			if slot.Handle == "" {
				t.Errorf("slot %s has no pod handle", slot.ID)
			}
		}
	}
}

func TestCreate_Rejections(t *testing.T) {
	s := deploydtest.New(t, deploydtest.Options{MaxReplicas: 4})
	ws := s.Workspace(t)
	ctx := context.Background()

	tests := []struct {
		name string
		in   application.CreateDeploymentInput
		want error
	}{
		{"zero replicas", application.CreateDeploymentInput{WorkspaceID: ws.ID, Config: domain.WorkerConfig{Replicas: 0, Shards: 1}}, domain.ErrInvalidArgument},
		{"zero shards", application.CreateDeploymentInput{WorkspaceID: ws.ID, Config: domain.WorkerConfig{Replicas: 1, Shards: 0}}, domain.ErrInvalidArgument},
		{"over ceiling", application.CreateDeploymentInput{WorkspaceID: ws.ID, Config: domain.WorkerConfig{Replicas: 5, Shards: 1}}, domain.ErrInvalidArgument},
		{"unknown workspace", application.CreateDeploymentInput{WorkspaceID: "nope", Config: domain.WorkerConfig{Replicas: 1, Shards: 1}}, domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Registry.Create(ctx, tt.in)
			if !errors.Is(err, tt.want) {
				t.Errorf("Create: got %v, want %v", err, tt.want)
			}
		})
	}

	list, err := s.Registry.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 0 {
		t.Errorf("rejected creates left %d deployments", len(list))
	}
}

func TestScenario(t *testing.T) {
	tests := []struct{ replicas, scaleTo, shards int }{
		{2, 3, 1},
		{2, 3, 2},
		{3, 1, 1},
		{3, 1, 2},
	}
	for _, tt := range tests {
		s := deploydtest.New(t, deploydtest.Options{})
		ws := s.Workspace(t)
		ctx := context.Background()

		d := create(t, s, ws.ID, tt.replicas, tt.shards)
		assertTopology(t, d, tt.replicas, tt.shards)

		d = scale(t, s, d.ID, tt.scaleTo)
		assertTopology(t, d, tt.scaleTo, tt.shards)

		d = scale(t, s, d.ID, tt.replicas)
		assertTopology(t, d, tt.replicas, tt.shards)

		op, err := s.Registry.Delete(ctx, d.ID)
		if err != nil {
			t.Fatalf("Delete: %v", err)
		}
		if _, err := op.Wait(ctx); err != nil {
			t.Fatalf("Delete Wait: %v", err)
		}
		if _, err := s.Registry.Get(ctx, d.ID); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("Get after delete: got %v, want ErrNotFound", err)
		}
		if _, err := s.Registry.Delete(ctx, d.ID); !errors.Is(err, domain.ErrNotFound) {
			t.Errorf("second Delete: got %v, want ErrNotFound", err)
		}
	}
}

func TestApplyScale_RemovesNewestSlotsFirst(t *testing.T) {
	s := deploydtest.New(t, deploydtest.Options{})
	ws := s.Workspace(t)

	d := create(t, s, ws.ID, 3, 2)
	survivors := map[domain.SlotID]bool{}
	for shard := 0; shard < d.Shards; shard++ {
		survivors[d.ShardSlots(shard)[0].ID] = true
	}

	d = scale(t, s, d.ID, 1)
	assertTopology(t, d, 1, 2)
	for _, slot := range d.Slots {
		if !survivors[slot.ID] {
			t.Errorf("slot %s (shard %d, ordinal %d) survived; want the oldest slot of each shard", slot.ID, slot.Shard, slot.Ordinal)
		}
	}
}

func TestApplyScale_SameCountIsNoop(t *testing.T) {
	s := deploydtest.New(t, deploydtest.Options{})
	ws := s.Workspace(t)

	before := create(t, s, ws.ID, 2, 1)
	after := scale(t, s, before.ID, 2)
	assertTopology(t, after, 2, 1)
	for i := range before.Slots {
		if before.Slots[i].ID != after.Slots[i].ID {
			t.Errorf("slot %d changed: %s -> %s", i, before.Slots[i].ID, after.Slots[i].ID)
		}
	}
}

func TestApplyScale_Rejections(t *testing.T) {
	s := deploydtest.New(t, deploydtest.Options{MaxReplicas: 4})
	ws := s.Workspace(t)
	ctx := context.Background()
	d := create(t, s, ws.ID, 1, 2)

	tests := []struct {
		name string
		req  application.ScaleRequest
		want error
	}{
		{"zero replicas", application.ScaleRequest{DeploymentID: d.ID, Replicas: 0}, domain.ErrInvalidArgument},
		{"over ceiling", application.ScaleRequest{DeploymentID: d.ID, Replicas: 5}, domain.ErrInvalidArgument},
		{"shard change", application.ScaleRequest{DeploymentID: d.ID, Replicas: 2, Shards: 3}, domain.ErrInvalidArgument},
		{"unknown deployment", application.ScaleRequest{DeploymentID: "nope", Replicas: 1}, domain.ErrNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Registry.ApplyScale(ctx, tt.req)
			if !errors.Is(err, tt.want) {
				t.Errorf("ApplyScale: got %v, want %v", err, tt.want)
			}
		})
	}

	after := get(t, s, d.ID)
	assertTopology(t, after, 1, 2)

	matching := scale(t, s, d.ID, 2)
	assertTopology(t, matching, 2, 2)
}

func TestApplyScale_ConcurrentRequestsConflict(t *testing.T) {
	gate := make(chan struct{})
	var once sync.Once
	open := func() { once.Do(func() { close(gate) }) }
	launcher := &deploydtest.GatedLauncher{Gate: gate, Free: 1}
	metrics := newRecordingMetrics()
	s := deploydtest.New(t, deploydtest.Options{Launcher: launcher, Metrics: metrics})
	t.Cleanup(open)
	ws := s.Workspace(t)
	ctx := context.Background()

	d := create(t, s, ws.ID, 1, 1)

	const callers = 8
	var (
		wg        sync.WaitGroup
		accepted  atomic.Int32
		conflicts atomic.Int32
		op        *application.Operation
		opMu      sync.Mutex
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, err := s.Registry.ApplyScale(ctx, application.ScaleRequest{DeploymentID: d.ID, Replicas: 2})
			switch {
			case err == nil:
				accepted.Add(1)
				opMu.Lock()
				op = o
				opMu.Unlock()
			case errors.Is(err, domain.ErrConflict):
				conflicts.Add(1)
			default:
				t.Errorf("ApplyScale: %v", err)
			}
		}()
	}
	wg.Wait()

	if accepted.Load() != 1 || conflicts.Load() != callers-1 {
		t.Fatalf("accepted=%d conflicts=%d, want 1 and %d", accepted.Load(), conflicts.Load(), callers-1)
	}

	if got := get(t, s, d.ID).State; got != domain.DeploymentStateScaling {
		t.Errorf("State during scale = %q, want %q", got, domain.DeploymentStateScaling)
	}
	if _, err := s.Registry.Delete(ctx, d.ID); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("Delete during scale: got %v, want ErrConflict", err)
	}

	open()
	if _, err := op.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if n := launcher.Launches(); n != 2 {
		t.Errorf("launches = %d, want 2 (one create, one scale)", n)
	}
	assertTopology(t, get(t, s, d.ID), 2, 1)

	rejected := metrics.count(metrics.rejected, "scale/locked") + metrics.count(metrics.rejected, "scale/busy")
	if rejected != callers-1 {
		t.Errorf("rejections recorded = %d, want %d", rejected, callers-1)
	}

	del, err := s.Registry.Delete(ctx, d.ID)
	if err != nil {
		t.Fatalf("Delete after scale: %v", err)
	}
	if _, err := del.Wait(ctx); err != nil {
		t.Fatalf("Delete Wait: %v", err)
	}
	if n := metrics.count(metrics.completed, "delete/success"); n != 1 {
		t.Errorf("delete/success = %d, want 1", n)
	}
}

func TestCreate_HoldsLockUntilProvisioned(t *testing.T) {
	gate := make(chan struct{})
	var once sync.Once
	open := func() { once.Do(func() { close(gate) }) }
	s := deploydtest.New(t, deploydtest.Options{Launcher: &deploydtest.GatedLauncher{Gate: gate}})
	t.Cleanup(open)
	ws := s.Workspace(t)
	ctx := context.Background()

	op, err := s.Registry.Create(ctx, application.CreateDeploymentInput{
		WorkspaceID: ws.ID,
		Config:      domain.WorkerConfig{Replicas: 1, Shards: 1},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if got := get(t, s, op.DeploymentID).State; got != domain.DeploymentStatePending {
		t.Errorf("State = %q, want %q", got, domain.DeploymentStatePending)
	}
	if _, err := s.Registry.ApplyScale(ctx, application.ScaleRequest{DeploymentID: op.DeploymentID, Replicas: 2}); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("ApplyScale during create: got %v, want ErrConflict", err)
	}

	open()
	if _, err := op.Wait(ctx); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	assertTopology(t, get(t, s, op.DeploymentID), 1, 1)
}

func TestCreate_FailedSlotLeavesDeploymentFailed(t *testing.T) {
	var calls atomic.Int32
	s := deploydtest.New(t, deploydtest.Options{
		Worker: func(ctx context.Context, _ domain.PodSpec) error {
			if calls.Add(1) == 1 {
				return errors.New("bad model path")
			}
			<-ctx.Done()
			return nil
		},
	})
	ws := s.Workspace(t)
	ctx := context.Background()

	op, err := s.Registry.Create(ctx, application.CreateDeploymentInput{
		WorkspaceID: ws.ID,
		Config:      domain.WorkerConfig{Replicas: 1, Shards: 1},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := op.Wait(ctx); !errors.Is(err, domain.ErrFailed) {
		t.Fatalf("Wait: got %v, want ErrFailed", err)
	}

	d := get(t, s, op.DeploymentID)
	if d.State != domain.DeploymentStateFailed {
		t.Errorf("State = %q, want %q", d.State, domain.DeploymentStateFailed)
	}
	if !strings.Contains(d.LastError, "bad model path") {
		t.Errorf("LastError = %q, want it to mention the worker error", d.LastError)
	}
	if len(d.Slots) != 1 || d.Slots[0].Health != domain.SlotHealthFailed {
		t.Fatalf("expected one failed slot, got %+v", d.Slots)
	}

	// Rescaling a failed deployment replaces the failed slot.
	d = scale(t, s, d.ID, 1)
	assertTopology(t, d, 1, 1)
	if d.LastError != "" {
		t.Errorf("LastError = %q after recovery, want empty", d.LastError)
	}
}

func TestCreate_CapacityExhausted(t *testing.T) {
	metrics := newRecordingMetrics()
	s := deploydtest.New(t, deploydtest.Options{Capacity: 2, Metrics: metrics})
	ws := s.Workspace(t)
	ctx := context.Background()

	op, err := s.Registry.Create(ctx, application.CreateDeploymentInput{
		WorkspaceID: ws.ID,
		Config:      domain.WorkerConfig{Replicas: 3, Shards: 1},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := op.Wait(ctx); !errors.Is(err, domain.ErrFailed) {
		t.Fatalf("Wait: got %v, want ErrFailed", err)
	}

	d := get(t, s, op.DeploymentID)
	if d.State != domain.DeploymentStateFailed {
		t.Errorf("State = %q, want %q", d.State, domain.DeploymentStateFailed)
	}
	if d.HealthyReplicas(0) != 2 {
		t.Errorf("healthy replicas = %d, want 2 (successful slots are kept)", d.HealthyReplicas(0))
	}
	if !strings.Contains(d.LastError, domain.ErrResourceExhausted.Error()) {
		t.Errorf("LastError = %q, want resource exhausted", d.LastError)
	}
	if n := metrics.count(metrics.completed, "create/failed"); n != 1 {
		t.Errorf("create/failed = %d, want 1", n)
	}
}

func TestReconcile_FailsInterruptedDeployments(t *testing.T) {
	s := deploydtest.New(t, deploydtest.Options{})
	ws := s.Workspace(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for id, state := range map[domain.DeploymentID]domain.DeploymentState{
		"scaling":  domain.DeploymentStateScaling,
		"pending":  domain.DeploymentStatePending,
		"deleting": domain.DeploymentStateDeleting,
		"running":  domain.DeploymentStateRunning,
	} {
		err := s.Deployments.Create(ctx, domain.Deployment{
			ID: id, WorkspaceID: ws.ID, Replicas: 1, Shards: 1,
			State: state, CreatedAt: now, UpdatedAt: now,
		})
		if err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}

	n, err := s.Registry.Reconcile(ctx)
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if n != 3 {
		t.Errorf("Reconcile changed %d deployments, want 3", n)
	}

	d := get(t, s, "scaling")
	if d.State != domain.DeploymentStateFailed {
		t.Errorf("State = %q, want %q", d.State, domain.DeploymentStateFailed)
	}
	if !strings.Contains(d.LastError, "restart") {
		t.Errorf("LastError = %q", d.LastError)
	}
	if got := get(t, s, "running").State; got != domain.DeploymentStateRunning {
		t.Errorf("running deployment changed to %q", got)
	}

	d = scale(t, s, "scaling", 2)
	assertTopology(t, d, 2, 1)
}

func TestReconcile_ResumedRunIsSuperseded(t *testing.T) {
	metrics := newRecordingMetrics()
	s := deploydtest.New(t, deploydtest.Options{Metrics: metrics})
	ws := s.Workspace(t)
	ctx := context.Background()
	now := time.Now().UTC()

	err := s.Deployments.Create(ctx, domain.Deployment{
		ID: "d1", WorkspaceID: ws.ID, Replicas: 1, Shards: 1,
		State: domain.DeploymentStateScaling, OperationID: "op-1",
		CreatedAt: now, UpdatedAt: now,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := s.Registry.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	stored, _ := s.Deployments.Get(ctx, "d1")
	if stored.OperationID != "" {
		t.Fatalf("OperationID = %q after Reconcile, want it cleared", stored.OperationID)
	}

	// The run the engine resumes after the restart.
	lease, err := s.Locks.TryLock(ctx, "d1")
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	op := s.Controller.Converge(ctx, lease, domain.ConvergenceInput{
		DeploymentID: "d1",
		OperationID:  "op-1",
		Kind:         domain.ConvergenceScale,
		Target:       3,
	})
	res, err := op.Wait(ctx)
	if !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Wait: got %v, want ErrConflict", err)
	}
	if !res.Superseded {
		t.Errorf("result = %+v, want superseded", res)
	}
	if n := metrics.count(metrics.completed, "scale/superseded"); n != 1 {
		t.Errorf("scale/superseded = %d, want 1", n)
	}

	d := get(t, s, "d1")
	if d.State != domain.DeploymentStateFailed || d.Replicas != 1 || len(d.Slots) != 0 {
		t.Errorf("deployment = %q replicas=%d slots=%d, want the reconciled record untouched", d.State, d.Replicas, len(d.Slots))
	}
	if !strings.Contains(d.LastError, "restart") {
		t.Errorf("LastError = %q, want the restart message kept", d.LastError)
	}
}

func TestGet_ReportsCrashedWorkers(t *testing.T) {
	var launches atomic.Int32
	s := deploydtest.New(t, deploydtest.Options{
		Worker: func(ctx context.Context, _ domain.PodSpec) error {
			if launches.Add(1) <= 2 {
				select {
				case <-time.After(50 * time.Millisecond):
					return errors.New("segmentation fault")
				case <-ctx.Done():
					return nil
				}
			}
			<-ctx.Done()
			return nil
		},
	})
	ws := s.Workspace(t)
	ctx := context.Background()

	d := create(t, s, ws.ID, 2, 1)

	deadline := time.Now().Add(5 * time.Second)
	for d.State != domain.DeploymentStateFailed {
		if time.Now().After(deadline) {
			t.Fatalf("State = %q, want failed once the workers crash", d.State)
		}
		time.Sleep(10 * time.Millisecond)
		d = get(t, s, d.ID)
	}
	if !strings.Contains(d.LastError, "lost") {
		t.Errorf("LastError = %q, want it to report the lost pods", d.LastError)
	}
	for deadline := time.Now().Add(5 * time.Second); d.HealthyReplicas(0) != 0; d = get(t, s, d.ID) {
		if time.Now().After(deadline) {
			t.Fatalf("healthy replicas = %d, want 0", d.HealthyReplicas(0))
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Scaling to the same count replaces the dead slots.
	op, err := s.Registry.ApplyScale(ctx, application.ScaleRequest{DeploymentID: d.ID, Replicas: 2})
	if err != nil {
		t.Fatalf("ApplyScale: %v", err)
	}
	res, err := op.Wait(ctx)
	if err != nil {
		t.Fatalf("ApplyScale Wait: %v", err)
	}
	if res.Stopped != 2 || res.Started != 2 {
		t.Errorf("Stopped/Started = %d/%d, want 2/2", res.Stopped, res.Started)
	}
	d = get(t, s, d.ID)
	assertTopology(t, d, 2, 1)
	if d.LastError != "" {
		t.Errorf("LastError = %q after repair, want empty", d.LastError)
	}
}

func TestWorkspaceService(t *testing.T) {
	s := deploydtest.New(t, deploydtest.Options{})
	ctx := context.Background()

	if _, err := s.WorkspaceSv.Create(ctx, nil); !errors.Is(err, domain.ErrInvalidArgument) {
		t.Errorf("Create(nil): got %v, want ErrInvalidArgument", err)
	}
	if _, err := s.WorkspaceSv.Create(ctx, []string{"missing.yml"}); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Create(missing): got %v, want ErrNotFound", err)
	}

	ws := s.Workspace(t)
	got, err := s.WorkspaceSv.Get(ctx, ws.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(got.Paths) != 1 || got.Paths[0] != ws.Paths[0] {
		t.Errorf("Paths = %v, want %v", got.Paths, ws.Paths)
	}
	list, err := s.WorkspaceSv.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("List returned %d workspaces, want 1", len(list))
	}
}
