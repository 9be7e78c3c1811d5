package client

import (
	"context"

	"github.com/fleetshift/deployd/internal/api"
)

// AsyncClient starts each operation on its own goroutine and returns a
// [Future] that resolves when the operation settles, under the same rules
// as [SyncClient]. ctx bounds the operation, not just the call.
type AsyncClient struct {
	t *transport
}

// NewAsyncClient returns a non-blocking client for the daemon at baseURL.
func NewAsyncClient(baseURL string, opts ...Option) *AsyncClient {
	return &AsyncClient{t: newTransport(baseURL, opts...)}
}

func (c *AsyncClient) CreateWorkspace(ctx context.Context, paths []string) *Future[api.Workspace] {
	return start(ctx, c.t, background, call(func(ctx context.Context) (api.Workspace, error) {
		return c.t.createWorkspace(ctx, paths)
	}))
}

func (c *AsyncClient) GetWorkspace(ctx context.Context, id string) *Future[api.Workspace] {
	return start(ctx, c.t, background, call(func(ctx context.Context) (api.Workspace, error) {
		return c.t.getWorkspace(ctx, id)
	}))
}

func (c *AsyncClient) ListWorkspaces(ctx context.Context) *Future[[]api.Workspace] {
	return start(ctx, c.t, background, call(c.t.listWorkspaces))
}

func (c *AsyncClient) CreateDeployment(ctx context.Context, req api.CreateDeploymentRequest) *Future[api.Deployment] {
	return start(ctx, c.t, background, createOp(c.t, req))
}

func (c *AsyncClient) GetDeployment(ctx context.Context, id string) *Future[api.Deployment] {
	return start(ctx, c.t, background, call(func(ctx context.Context) (api.Deployment, error) {
		return c.t.getDeployment(ctx, id)
	}))
}

func (c *AsyncClient) ListDeployments(ctx context.Context) *Future[[]api.Deployment] {
	return start(ctx, c.t, background, call(c.t.listDeployments))
}

func (c *AsyncClient) Scale(ctx context.Context, id string, replicas int) *Future[api.Deployment] {
	return start(ctx, c.t, background, scaleOp(c.t, id, replicas))
}

func (c *AsyncClient) Delete(ctx context.Context, id string) *Future[struct{}] {
	return start(ctx, c.t, background, deleteOp(c.t, id))
}
