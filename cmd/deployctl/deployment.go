package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fleetshift/deployd/internal/api"
	"github.com/fleetshift/deployd/internal/client"
	"github.com/fleetshift/deployd/internal/domain"
)

func newDeploymentCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "deployment",
		Aliases: []string{"deploy", "d"},
		Short:   "Manage deployments",
	}
	cmd.AddCommand(
		newDeploymentCreateCmd(s),
		newDeploymentGetCmd(s),
		newDeploymentListCmd(s),
		newDeploymentScaleCmd(s),
		newDeploymentDeleteCmd(s),
	)
	return cmd
}

func newDeploymentCreateCmd(s *session) *cobra.Command {
	var req api.CreateDeploymentRequest
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a deployment and wait until it is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := run(cmd.Context(), s, "create deployment",
				func(ctx context.Context, c *client.SyncClient) (api.Deployment, error) {
					return c.CreateDeployment(ctx, req)
				},
				func(ctx context.Context, c *client.AsyncClient) *client.Future[api.Deployment] {
					return c.CreateDeployment(ctx, req)
				})
			if err != nil {
				var remote *api.RemoteError
				if errors.As(err, &remote) && remote.DeploymentID != "" {
					s.ui.Warning("deployment " + remote.DeploymentID + " was recorded but did not start")
				}
				return err
			}
			s.ui.Success("deployment " + d.ID + " is running")
			s.ui.Deployment(d)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&req.WorkspaceID, "workspace", "w", "", "Workspace ID")
	f.IntVarP(&req.Replicas, "replicas", "r", 1, "Replicas per shard")
	f.IntVarP(&req.Shards, "shards", "s", 1, "Number of shards")
	f.StringToStringVar(&req.Args, "arg", nil, "Worker argument as key=value, repeatable")
	cmd.MarkFlagRequired("workspace")
	return cmd
}

func newDeploymentGetCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "get ID",
		Short: "Show a deployment and its replica slots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := run(cmd.Context(), s, "get deployment",
				func(ctx context.Context, c *client.SyncClient) (api.Deployment, error) {
					return c.GetDeployment(ctx, args[0])
				},
				func(ctx context.Context, c *client.AsyncClient) *client.Future[api.Deployment] {
					return c.GetDeployment(ctx, args[0])
				})
			if err != nil {
				return err
			}
			s.ui.Deployment(d)
			return nil
		},
	}
}

func newDeploymentListCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List deployments",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := run(cmd.Context(), s, "list deployments",
				func(ctx context.Context, c *client.SyncClient) ([]api.Deployment, error) {
					return c.ListDeployments(ctx)
				},
				func(ctx context.Context, c *client.AsyncClient) *client.Future[[]api.Deployment] {
					return c.ListDeployments(ctx)
				})
			if err != nil {
				return err
			}
			if len(list) == 0 {
				s.ui.Subtle("no deployments")
				return nil
			}
			s.ui.Deployments(list)
			return nil
		},
	}
}

func newDeploymentScaleCmd(s *session) *cobra.Command {
	var replicas int
	cmd := &cobra.Command{
		Use:   "scale ID",
		Short: "Change the replicas per shard and wait for convergence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := run(cmd.Context(), s, "scale deployment",
				func(ctx context.Context, c *client.SyncClient) (api.Deployment, error) {
					return c.Scale(ctx, args[0], replicas)
				},
				func(ctx context.Context, c *client.AsyncClient) *client.Future[api.Deployment] {
					return c.Scale(ctx, args[0], replicas)
				})
			if err != nil {
				if errors.Is(err, domain.ErrConflict) {
					s.ui.Warning("another operation holds deployment " + args[0] + ", retry once it settles")
				}
				return err
			}
			s.ui.Success(fmt.Sprintf("deployment %s scaled to %d replica(s) per shard", d.ID, d.Replicas))
			s.ui.Deployment(d)
			return nil
		},
	}
	cmd.Flags().IntVarP(&replicas, "replicas", "r", 0, "Target replicas per shard")
	cmd.MarkFlagRequired("replicas")
	return cmd
}

func newDeploymentDeleteCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Tear down a deployment and remove its record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := run(cmd.Context(), s, "delete deployment",
				func(ctx context.Context, c *client.SyncClient) (struct{}, error) {
					return struct{}{}, c.Delete(ctx, args[0])
				},
				func(ctx context.Context, c *client.AsyncClient) *client.Future[struct{}] {
					return c.Delete(ctx, args[0])
				})
			if err != nil {
				return err
			}
			s.ui.Success("deleted deployment " + args[0])
			return nil
		},
	}
}
