package client_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetshift/deployd/internal/api"
	"github.com/fleetshift/deployd/internal/client"
	"github.com/fleetshift/deployd/internal/deploydtest"
	"github.com/fleetshift/deployd/internal/domain"
)

// facade runs the scenario against either client mode.
type facade struct {
	create func(ctx context.Context, req api.CreateDeploymentRequest) (api.Deployment, error)
	get    func(ctx context.Context, id string) (api.Deployment, error)
	scale  func(ctx context.Context, id string, replicas int) (api.Deployment, error)
	del    func(ctx context.Context, id string) error
}

func syncFacade(c *client.SyncClient) facade {
	return facade{create: c.CreateDeployment, get: c.GetDeployment, scale: c.Scale, del: c.Delete}
}

func asyncFacade(c *client.AsyncClient) facade {
	return facade{
		create: func(ctx context.Context, req api.CreateDeploymentRequest) (api.Deployment, error) {
			return c.CreateDeployment(ctx, req).Await(ctx)
		},
		get: func(ctx context.Context, id string) (api.Deployment, error) {
			return c.GetDeployment(ctx, id).Await(ctx)
		},
		scale: func(ctx context.Context, id string, replicas int) (api.Deployment, error) {
			return c.Scale(ctx, id, replicas).Await(ctx)
		},
		del: func(ctx context.Context, id string) error {
			_, err := c.Delete(ctx, id).Await(ctx)
			return err
		},
	}
}

func pollOpts() []client.Option {
	return []client.Option{client.WithPollInterval(5*time.Millisecond, 50*time.Millisecond)}
}

func assertReplicas(t *testing.T, d api.Deployment, replicas, shards int) {
	t.Helper()
	assert.Equal(t, replicas, d.Replicas)
	assert.Equal(t, shards, d.Shards)
	assert.Equal(t, fmt.Sprint(replicas), d.Arguments["replicas"])
	assert.Equal(t, fmt.Sprint(shards), d.Arguments["shards"])
	for shard := 0; shard < shards; shard++ {
		assert.Len(t, d.SlotsInShard(shard), replicas, "shard %d", shard)
	}
	assert.Len(t, d.Slots, replicas*shards)
}

func TestScaleScenario(t *testing.T) {
	params := []struct {
		replicas, scaleTo, shards int
	}{
		{2, 3, 1},
		{2, 3, 2},
		{3, 1, 1},
		{3, 1, 2},
	}
	modes := map[string]func(url string) facade{
		"sync":  func(url string) facade { return syncFacade(client.NewSyncClient(url, pollOpts()...)) },
		"async": func(url string) facade { return asyncFacade(client.NewAsyncClient(url, pollOpts()...)) },
	}

	for mode, newFacade := range modes {
		for _, p := range params {
			t.Run(fmt.Sprintf("%s/%d-to-%d-shards-%d", mode, p.replicas, p.scaleTo, p.shards), func(t *testing.T) {
				stack := deploydtest.New(t, deploydtest.Options{})
				srv := stack.Server(t)
				ws := stack.Workspace(t)
				c := newFacade(srv.URL)
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()

				d, err := c.create(ctx, api.CreateDeploymentRequest{
					WorkspaceID: string(ws.ID),
					Replicas:    p.replicas,
					Shards:      p.shards,
				})
				require.NoError(t, err)
				assert.Equal(t, string(domain.DeploymentStateRunning), d.State)

				d, err = c.get(ctx, d.ID)
				require.NoError(t, err)
				assertReplicas(t, d, p.replicas, p.shards)

				scaled, err := c.scale(ctx, d.ID, p.scaleTo)
				require.NoError(t, err)
				assert.Equal(t, string(domain.DeploymentStateRunning), scaled.State)

				d, err = c.get(ctx, d.ID)
				require.NoError(t, err)
				assertReplicas(t, d, p.scaleTo, p.shards)

				_, err = c.scale(ctx, d.ID, p.replicas)
				require.NoError(t, err)
				d, err = c.get(ctx, d.ID)
				require.NoError(t, err)
				assertReplicas(t, d, p.replicas, p.shards)

				require.NoError(t, c.del(ctx, d.ID))

				_, err = c.get(ctx, d.ID)
				assert.True(t, errors.Is(err, domain.ErrNotFound), "got %v", err)
			})
		}
	}
}

func TestCreate_FailureSurfacesInBothModes(t *testing.T) {
	stack := deploydtest.New(t, deploydtest.Options{
		Worker: func(context.Context, domain.PodSpec) error { return errors.New("exit status 1") },
	})
	srv := stack.Server(t)
	ws := stack.Workspace(t)
	ctx := context.Background()
	req := api.CreateDeploymentRequest{WorkspaceID: string(ws.ID), Replicas: 1, Shards: 1}

	for name, c := range map[string]facade{
		"sync":  syncFacade(client.NewSyncClient(srv.URL, pollOpts()...)),
		"async": asyncFacade(client.NewAsyncClient(srv.URL, pollOpts()...)),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := c.create(ctx, req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrFailed), "got %v", err)

			var remote *api.RemoteError
			require.True(t, errors.As(err, &remote))
			require.NotEmpty(t, remote.DeploymentID)

			d, err := c.get(ctx, remote.DeploymentID)
			require.NoError(t, err)
			assert.Equal(t, string(domain.DeploymentStateFailed), d.State)

			require.NoError(t, c.del(ctx, remote.DeploymentID))
		})
	}
}

func TestErrors_MapToSentinels(t *testing.T) {
	stack := deploydtest.New(t, deploydtest.Options{})
	srv := stack.Server(t)
	c := client.NewSyncClient(srv.URL, pollOpts()...)
	ctx := context.Background()

	_, err := c.GetDeployment(ctx, "missing")
	assert.True(t, errors.Is(err, domain.ErrNotFound), "got %v", err)

	_, err = c.CreateDeployment(ctx, api.CreateDeploymentRequest{WorkspaceID: "missing", Replicas: 1, Shards: 1})
	assert.True(t, errors.Is(err, domain.ErrNotFound), "got %v", err)

	_, err = c.CreateWorkspace(ctx, []string{"/does/not/exist"})
	assert.True(t, errors.Is(err, domain.ErrNotFound), "got %v", err)

	ws := stack.Workspace(t)
	d, err := c.CreateDeployment(ctx, api.CreateDeploymentRequest{WorkspaceID: string(ws.ID), Replicas: 1, Shards: 1})
	require.NoError(t, err)
	_, err = c.Scale(ctx, d.ID, 0)
	assert.True(t, errors.Is(err, domain.ErrInvalidArgument), "got %v", err)
}

func TestAsync_ReturnsBeforeSettling(t *testing.T) {
	release := make(chan struct{})
	var once sync.Once
	open := func() { once.Do(func() { close(release) }) }
	stack := deploydtest.New(t, deploydtest.Options{
		Launcher: &deploydtest.GatedLauncher{Gate: release},
	})
	t.Cleanup(open)
	srv := stack.Server(t)
	ws := stack.Workspace(t)
	c := client.NewAsyncClient(srv.URL, pollOpts()...)
	ctx := context.Background()

	f := c.CreateDeployment(ctx, api.CreateDeploymentRequest{WorkspaceID: string(ws.ID), Replicas: 1, Shards: 1})
	select {
	case <-f.Done():
		t.Fatal("future resolved while the worker was still gated")
	case <-time.After(100 * time.Millisecond):
	}

	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	_, err := f.Await(short)
	cancel()
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	open()
	d, err := f.Await(ctx)
	require.NoError(t, err)
	assert.Equal(t, string(domain.DeploymentStateRunning), d.State)

	workspaces, err := c.ListWorkspaces(ctx).Await(ctx)
	require.NoError(t, err)
	assert.Len(t, workspaces, 1)
	deployments, err := c.ListDeployments(ctx).Await(ctx)
	require.NoError(t, err)
	assert.Len(t, deployments, 1)
}
