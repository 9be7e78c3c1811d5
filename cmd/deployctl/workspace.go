package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/fleetshift/deployd/internal/api"
	"github.com/fleetshift/deployd/internal/client"
)

func newWorkspaceCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "workspace",
		Aliases: []string{"ws"},
		Short:   "Manage workspaces",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create PATH...",
		Short: "Create a workspace from files on the daemon host",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := run(cmd.Context(), s, "create workspace",
				func(ctx context.Context, c *client.SyncClient) (api.Workspace, error) {
					return c.CreateWorkspace(ctx, args)
				},
				func(ctx context.Context, c *client.AsyncClient) *client.Future[api.Workspace] {
					return c.CreateWorkspace(ctx, args)
				})
			if err != nil {
				return err
			}
			s.ui.Success("created workspace " + ws.ID)
			s.ui.Workspace(ws)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "get ID",
		Short: "Show a workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := run(cmd.Context(), s, "get workspace",
				func(ctx context.Context, c *client.SyncClient) (api.Workspace, error) {
					return c.GetWorkspace(ctx, args[0])
				},
				func(ctx context.Context, c *client.AsyncClient) *client.Future[api.Workspace] {
					return c.GetWorkspace(ctx, args[0])
				})
			if err != nil {
				return err
			}
			s.ui.Workspace(ws)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List workspaces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := run(cmd.Context(), s, "list workspaces",
				func(ctx context.Context, c *client.SyncClient) ([]api.Workspace, error) {
					return c.ListWorkspaces(ctx)
				},
				func(ctx context.Context, c *client.AsyncClient) *client.Future[[]api.Workspace] {
					return c.ListWorkspaces(ctx)
				})
			if err != nil {
				return err
			}
			if len(list) == 0 {
				s.ui.Subtle("no workspaces")
				return nil
			}
			rows := make([][]string, 0, len(list))
			for _, ws := range list {
				rows = append(rows, []string{ws.ID, strconv.Itoa(len(ws.Paths)), ws.CreatedAt.Format("2006-01-02 15:04:05")})
			}
			s.ui.Table([]string{"ID", "PATHS", "CREATED"}, rows)
			s.ui.Subtle(fmt.Sprintf("%d workspace(s)", len(list)))
			return nil
		},
	})
	return cmd
}
