package client

import (
	"context"

	"github.com/fleetshift/deployd/internal/api"
)

// SyncClient blocks each call until the operation has settled: create
// returns once the deployment is running, scale once it is running at the
// new count, and delete once the record is gone.
type SyncClient struct {
	t *transport
}

// NewSyncClient returns a blocking client for the daemon at baseURL.
func NewSyncClient(baseURL string, opts ...Option) *SyncClient {
	return &SyncClient{t: newTransport(baseURL, opts...)}
}

func runSync[T any](ctx context.Context, t *transport, op operation[T]) (T, error) {
	return start(ctx, t, inline, op).Await(ctx)
}

func (c *SyncClient) CreateWorkspace(ctx context.Context, paths []string) (api.Workspace, error) {
	return runSync(ctx, c.t, call(func(ctx context.Context) (api.Workspace, error) {
		return c.t.createWorkspace(ctx, paths)
	}))
}

func (c *SyncClient) GetWorkspace(ctx context.Context, id string) (api.Workspace, error) {
	return runSync(ctx, c.t, call(func(ctx context.Context) (api.Workspace, error) {
		return c.t.getWorkspace(ctx, id)
	}))
}

func (c *SyncClient) ListWorkspaces(ctx context.Context) ([]api.Workspace, error) {
	return runSync(ctx, c.t, call(c.t.listWorkspaces))
}

// CreateDeployment creates a deployment and waits for it to run. A failed
// create returns an error wrapping domain.ErrFailed whose DeploymentID
// names the failed deployment.
func (c *SyncClient) CreateDeployment(ctx context.Context, req api.CreateDeploymentRequest) (api.Deployment, error) {
	return runSync(ctx, c.t, createOp(c.t, req))
}

func (c *SyncClient) GetDeployment(ctx context.Context, id string) (api.Deployment, error) {
	return runSync(ctx, c.t, call(func(ctx context.Context) (api.Deployment, error) {
		return c.t.getDeployment(ctx, id)
	}))
}

func (c *SyncClient) ListDeployments(ctx context.Context) ([]api.Deployment, error) {
	return runSync(ctx, c.t, call(c.t.listDeployments))
}

// Scale sets the per-shard replica count and returns the settled snapshot.
func (c *SyncClient) Scale(ctx context.Context, id string, replicas int) (api.Deployment, error) {
	return runSync(ctx, c.t, scaleOp(c.t, id, replicas))
}

// Delete tears the deployment down. A nil error means every slot was
// stopped and the record removed.
func (c *SyncClient) Delete(ctx context.Context, id string) error {
	_, err := runSync(ctx, c.t, deleteOp(c.t, id))
	return err
}
