package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fleetshift/deployd/internal/client"
)

// session holds the clients and output for one invocation. Exactly one
// of syncc and asyncc is set.
type session struct {
	syncc   *client.SyncClient
	asyncc  *client.AsyncClient
	ui      *ui
	timeout time.Duration
}

func (s *session) context(parent context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, s.timeout)
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	s := &session{}

	root := &cobra.Command{
		Use:   "deployctl",
		Short: "Manage deployd workspaces and deployments",
		Long: `deployctl talks to a deployd daemon. Mutations block until the
deployment settles; with --async they are submitted first and the
command reports progress while waiting.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			s.ui = &ui{out: cmd.OutOrStdout(), err: cmd.ErrOrStderr()}
			s.timeout = v.GetDuration("timeout")
			server := strings.TrimRight(v.GetString("server"), "/")
			if v.GetBool("async") {
				s.asyncc = client.NewAsyncClient(server)
			} else {
				s.syncc = client.NewSyncClient(server)
			}
		},
	}

	pf := root.PersistentFlags()
	pf.String("server", "http://localhost:8080", "deployd base URL")
	pf.Duration("timeout", 5*time.Minute, "Give up waiting after this long, 0 to wait forever")
	pf.Bool("async", false, "Submit mutations and report progress while they settle")
	v.BindPFlag("server", pf.Lookup("server"))
	v.BindPFlag("timeout", pf.Lookup("timeout"))
	v.BindPFlag("async", pf.Lookup("async"))
	v.SetEnvPrefix("DEPLOYCTL")
	v.AutomaticEnv()

	root.AddCommand(newWorkspaceCmd(s), newDeploymentCmd(s))
	return root
}

// run executes one call with the client the session selected. In async
// mode it reports progress until the future settles.
func run[T any](
	ctx context.Context,
	s *session,
	label string,
	syncFn func(context.Context, *client.SyncClient) (T, error),
	asyncFn func(context.Context, *client.AsyncClient) *client.Future[T],
) (T, error) {
	ctx, cancel := s.context(ctx)
	defer cancel()

	var (
		v   T
		err error
	)
	if s.syncc != nil {
		v, err = syncFn(ctx, s.syncc)
	} else {
		f := asyncFn(ctx, s.asyncc)
		s.ui.Subtle(label + " submitted, waiting for it to settle")
		tick := time.NewTicker(2 * time.Second)
		defer tick.Stop()
	wait:
		for {
			select {
			case <-f.Done():
				break wait
			case <-tick.C:
				s.ui.Subtle("still waiting on " + label)
			case <-ctx.Done():
				break wait
			}
		}
		v, err = f.Await(ctx)
	}
	if err != nil {
		return v, fmt.Errorf("%s: %w", label, err)
	}
	return v, nil
}
