package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fleetshift/deployd/internal/domain"
)

// CreateDeploymentInput is the caller-provided input for creating a deployment.
type CreateDeploymentInput struct {
	WorkspaceID domain.WorkspaceID
	Config      domain.WorkerConfig
}

// ScaleRequest asks for a new per-shard replica count. Shards, when
// non-zero, must match the deployment's fixed shard count.
type ScaleRequest struct {
	DeploymentID domain.DeploymentID
	Replicas     int
	Shards       int
}

// Registry is the authoritative store of deployments. Every mutation
// takes the deployment's lock without waiting and keeps it until the
// resulting convergence finishes, so a second mutation fails with
// [domain.ErrConflict] rather than queueing.
//
// When Pods is set, snapshots of settled deployments carry the health the
// pods report at read time.
type Registry struct {
	Workspaces  domain.WorkspaceRepository
	Deployments domain.DeploymentRepository
	Locks       domain.Locker
	Controller  *ScalingController
	Pods        domain.PodManager
	Logger      *slog.Logger
	NewID       func() domain.DeploymentID
	Now         func() time.Time
}

func (r *Registry) newID() domain.DeploymentID {
	if r.NewID != nil {
		return r.NewID()
	}
	return domain.DeploymentID(uuid.NewString())
}

func (r *Registry) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func (r *Registry) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Create records a pending deployment and starts provisioning its
// replicas * shards slots.
func (r *Registry) Create(ctx context.Context, in CreateDeploymentInput) (*Operation, error) {
	if err := in.Config.Validate(); err != nil {
		return nil, err
	}
	if err := r.Controller.ValidateReplicas(in.Config.Replicas); err != nil {
		return nil, err
	}
	if _, err := r.Workspaces.Get(ctx, in.WorkspaceID); err != nil {
		return nil, err
	}

	id := r.newID()
	lease, err := r.Locks.TryLock(ctx, id)
	if err != nil {
		return nil, err
	}

	now := r.now()
	d := domain.Deployment{
		ID:          id,
		WorkspaceID: in.WorkspaceID,
		Replicas:    in.Config.Replicas,
		Shards:      in.Config.Shards,
		Args:        copyArgs(in.Config.Args),
		State:       domain.DeploymentStatePending,
		OperationID: uuid.NewString(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.Deployments.Create(ctx, d); err != nil {
		_ = lease.Release(ctx)
		return nil, err
	}

	r.logger().Info("deployment created", "deployment_id", id, "workspace_id", in.WorkspaceID,
		"replicas", d.Replicas, "shards", d.Shards)
	return r.Controller.Converge(ctx, lease, domain.ConvergenceInput{
		DeploymentID: id,
		OperationID:  d.OperationID,
		Kind:         domain.ConvergenceCreate,
		Target:       d.Replicas,
	}), nil
}

// Get returns a point-in-time snapshot of the deployment. It takes no
// lock and may observe a convergence in progress.
func (r *Registry) Get(ctx context.Context, id domain.DeploymentID) (domain.Deployment, error) {
	d, err := r.Deployments.Get(ctx, id)
	if err != nil {
		return domain.Deployment{}, err
	}
	return r.observe(ctx, d.Clone()), nil
}

// List returns snapshots of all deployments.
func (r *Registry) List(ctx context.Context) ([]domain.Deployment, error) {
	ds, err := r.Deployments.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range ds {
		ds[i] = r.observe(ctx, ds[i])
	}
	return ds, nil
}

// observe overlays the pods' current health on a settled deployment. A
// running deployment that lost pods is reported failed; the next scale
// replaces the lost slots. Nothing is written.
func (r *Registry) observe(ctx context.Context, d domain.Deployment) domain.Deployment {
	if r.Pods == nil || d.State.Busy() {
		return d
	}
	lost := domain.ObserveSlots(ctx, r.Pods, d)
	if len(lost) == 0 {
		return d
	}
	d = d.WithSlots(lost)

	var failed []string
	for _, s := range lost {
		if s.Health == domain.SlotHealthFailed {
			failed = append(failed, fmt.Sprintf("slot %s shard %d", s.ID, s.Shard))
		}
	}
	if len(failed) > 0 && d.State == domain.DeploymentStateRunning {
		d.State = domain.DeploymentStateFailed
		d.LastError = fmt.Sprintf("%d pod(s) lost: %s", len(failed), strings.Join(failed, "; "))
	}
	return d
}

// ApplyScale moves the deployment to Scaling and converges every shard to
// req.Replicas. It is the only entry point that changes the replica count.
func (r *Registry) ApplyScale(ctx context.Context, req ScaleRequest) (*Operation, error) {
	if err := r.Controller.ValidateReplicas(req.Replicas); err != nil {
		return nil, err
	}
	lease, opID, err := r.begin(ctx, req.DeploymentID, domain.ConvergenceScale, domain.DeploymentStateScaling, func(d domain.Deployment) error {
		if req.Shards != 0 && req.Shards != d.Shards {
			return fmt.Errorf("%w: shard count is fixed at %d, got %d", domain.ErrInvalidArgument, d.Shards, req.Shards)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger().Info("scaling deployment", "deployment_id", req.DeploymentID, "replicas", req.Replicas)
	return r.Controller.Converge(ctx, lease, domain.ConvergenceInput{
		DeploymentID: req.DeploymentID,
		OperationID:  opID,
		Kind:         domain.ConvergenceScale,
		Target:       req.Replicas,
	}), nil
}

// Delete moves the deployment to Deleting and tears down all of its slots.
// The record is removed once every slot is confirmed stopped.
func (r *Registry) Delete(ctx context.Context, id domain.DeploymentID) (*Operation, error) {
	lease, opID, err := r.begin(ctx, id, domain.ConvergenceDelete, domain.DeploymentStateDeleting, nil)
	if err != nil {
		return nil, err
	}

	r.logger().Info("deleting deployment", "deployment_id", id)
	return r.Controller.Converge(ctx, lease, domain.ConvergenceInput{
		DeploymentID: id,
		OperationID:  opID,
		Kind:         domain.ConvergenceDelete,
	}), nil
}

// begin locks the deployment, checks that no mutation is in flight and
// records the busy state under a new operation ID. The returned lease is
// held by the caller.
func (r *Registry) begin(ctx context.Context, id domain.DeploymentID, kind domain.ConvergenceKind, state domain.DeploymentState, check func(domain.Deployment) error) (domain.Lease, string, error) {
	lease, err := r.Locks.TryLock(ctx, id)
	if err != nil {
		r.Controller.metrics().OperationRejected(kind, "locked")
		return nil, "", err
	}

	d, err := r.Deployments.Get(ctx, id)
	if err == nil && d.State.Busy() {
		r.Controller.metrics().OperationRejected(kind, "busy")
		err = fmt.Errorf("%w: deployment %s is %s", domain.ErrConflict, id, d.State)
	}
	if err == nil && check != nil {
		err = check(d)
	}
	if err == nil {
		d.State = state
		d.OperationID = uuid.NewString()
		d.UpdatedAt = r.now()
		err = r.Deployments.Update(ctx, d)
	}
	if err != nil {
		_ = lease.Release(ctx)
		return nil, "", err
	}
	return lease, d.OperationID, nil
}

// Reconcile marks deployments left busy by a previous process as failed so
// they can be rescaled or deleted, and clears their operation so a run a
// durable engine resumes afterwards cannot touch them. It must run before
// the engine starts. It returns the number of deployments changed.
func (r *Registry) Reconcile(ctx context.Context) (int, error) {
	deployments, err := r.Deployments.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list deployments: %w", err)
	}
	n := 0
	for _, d := range deployments {
		if !d.State.Busy() {
			continue
		}
		lease, err := r.Locks.TryLock(ctx, d.ID)
		if err != nil {
			continue
		}
		prev := d.State
		d.State = domain.DeploymentStateFailed
		d.LastError = fmt.Sprintf("%s interrupted by daemon restart", prev)
		d.OperationID = ""
		d.UpdatedAt = r.now()
		err = r.Deployments.Update(ctx, d)
		_ = lease.Release(ctx)
		if err != nil {
			return n, fmt.Errorf("reconcile deployment %s: %w", d.ID, err)
		}
		r.logger().Warn("reconciled interrupted deployment", "deployment_id", d.ID, "previous_state", prev)
		n++
	}
	return n, nil
}

func copyArgs(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
