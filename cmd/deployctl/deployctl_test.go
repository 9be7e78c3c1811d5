package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetshift/deployd/internal/deploydtest"
)

func execute(t *testing.T, server string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--server", server}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestDeploymentLifecycle(t *testing.T) {
	for _, mode := range []string{"sync", "async"} {
		t.Run(mode, func(t *testing.T) {
			s := deploydtest.New(t, deploydtest.Options{})
			srv := s.Server(t)

			file := filepath.Join(t.TempDir(), "executor.yml")
			require.NoError(t, os.WriteFile(file, []byte("jtype: Worker\n"), 0o644))

			var flags []string
			if mode == "async" {
				flags = []string{"--async"}
			}
			exec := func(args ...string) (string, error) {
				return execute(t, srv.URL, append(flags, args...)...)
			}

			out, err := exec("workspace", "create", file)
			require.NoError(t, err, out)
			assert.Contains(t, out, "created workspace")

			workspaces, err := s.Workspaces.List(context.Background())
			require.NoError(t, err)
			require.Len(t, workspaces, 1)

			out, err = exec("deployment", "create", "--workspace", string(workspaces[0].ID), "--replicas", "2", "--shards", "2", "--arg", "uses=executor.yml")
			require.NoError(t, err, out)
			assert.Contains(t, out, "is running")
			assert.Contains(t, out, "arg uses")

			list, err := s.Registry.List(context.Background())
			require.NoError(t, err)
			require.Len(t, list, 1)
			id := string(list[0].ID)

			out, err = exec("deployment", "scale", id, "--replicas", "3")
			require.NoError(t, err, out)
			assert.Contains(t, out, "scaled to 3 replica(s) per shard")

			out, err = exec("deployment", "list")
			require.NoError(t, err, out)
			assert.Contains(t, out, id)

			out, err = exec("deployment", "delete", id)
			require.NoError(t, err, out)
			assert.Contains(t, out, "deleted deployment")

			out, err = exec("deployment", "get", id)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "not_found")
		})
	}
}

func TestDeploymentCreate_RequiresWorkspace(t *testing.T) {
	_, err := execute(t, "http://127.0.0.1:0", "deployment", "create")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "workspace")
}

func TestWorkspaceList_Empty(t *testing.T) {
	s := deploydtest.New(t, deploydtest.Options{})
	srv := s.Server(t)

	out, err := execute(t, srv.URL, "workspace", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "no workspaces")
}
