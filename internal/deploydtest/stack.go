// Package deploydtest assembles an in-process daemon for tests: SQLite in
// memory, the in-process lock and workflow engine, and goroutine workers.
package deploydtest

import (
	"context"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fleetshift/deployd/internal/application"
	"github.com/fleetshift/deployd/internal/domain"
	"github.com/fleetshift/deployd/internal/infrastructure/httpapi"
	"github.com/fleetshift/deployd/internal/infrastructure/memlock"
	"github.com/fleetshift/deployd/internal/infrastructure/podmgr"
	"github.com/fleetshift/deployd/internal/infrastructure/sqlite"
	"github.com/fleetshift/deployd/internal/infrastructure/staging"
	"github.com/fleetshift/deployd/internal/infrastructure/syncworkflow"
)

// Options tune the stack. The zero value gives healthy workers that park
// until stopped.
type Options struct {
	// Launcher replaces the default in-process launcher.
	Launcher podmgr.Launcher
	// Worker is the in-process worker body when Launcher is nil.
	Worker podmgr.WorkerFunc

	// Engine runs convergences. Nil selects the synchronous engine.
	Engine domain.WorkflowEngine

	Capacity     int
	MaxReplicas  int
	StartupGrace time.Duration
	Metrics      application.OperationMetrics
}

// Stack is a fully wired daemon without a network listener.
type Stack struct {
	Deployments *sqlite.DeploymentRepo
	Workspaces  *sqlite.WorkspaceRepo
	Pods        *podmgr.Manager
	Locks       *memlock.Locker
	Controller  *application.ScalingController
	Registry    *application.Registry
	WorkspaceSv *application.WorkspaceService

	root string
}

// New builds a stack. Background convergences are drained and pods
// stopped when the test finishes.
func New(t *testing.T, opts Options) *Stack {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelWarn}))

	launcher := opts.Launcher
	if launcher == nil {
		launcher = &podmgr.InProcLauncher{Run: opts.Worker}
	}
	grace := opts.StartupGrace
	if grace == 0 {
		grace = 10 * time.Millisecond
	}
	pods := podmgr.NewManager(launcher,
		podmgr.WithCapacity(opts.Capacity),
		podmgr.WithStartupGrace(grace),
		podmgr.WithStopGrace(time.Second),
		podmgr.WithLogger(logger),
	)

	workspaces, deployments := sqlite.OpenTestRepos(t)
	locks := memlock.New()

	engine := opts.Engine
	if engine == nil {
		engine = &syncworkflow.Engine{MaxParallel: 4}
	}
	runner, err := engine.ConvergenceRunner(&domain.ConvergenceWorkflow{
		Deployments: deployments,
		Pods:        pods,
	})
	if err != nil {
		t.Fatalf("ConvergenceRunner: %v", err)
	}

	controller := &application.ScalingController{
		Runner:      runner,
		Deployments: deployments,
		MaxReplicas: opts.MaxReplicas,
		Metrics:     opts.Metrics,
		Logger:      logger,
	}
	root := t.TempDir()

	s := &Stack{
		Deployments: deployments,
		Workspaces:  workspaces,
		Pods:        pods,
		Locks:       locks,
		Controller:  controller,
		Registry: &application.Registry{
			Workspaces:  workspaces,
			Deployments: deployments,
			Locks:       locks,
			Controller:  controller,
			Pods:        pods,
			Logger:      logger,
		},
		WorkspaceSv: &application.WorkspaceService{
			Workspaces: workspaces,
			Stager:     &staging.PathStager{Root: root},
		},
		root: root,
	}

	t.Cleanup(func() {
		controller.Wait()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := pods.Shutdown(ctx); err != nil {
			t.Errorf("pod shutdown: %v", err)
		}
	})
	return s
}

// Workspace stages a single file under the stack's root and records a
// workspace for it.
func (s *Stack) Workspace(t *testing.T) domain.Workspace {
	t.Helper()
	name := filepath.Join(s.root, "executor.yml")
	if err := os.WriteFile(name, []byte("jtype: Worker\n"), 0o644); err != nil {
		t.Fatalf("write workspace file: %v", err)
	}
	ws, err := s.WorkspaceSv.Create(context.Background(), []string{name})
	if err != nil {
		t.Fatalf("create workspace: %v", err)
	}
	return ws
}

// Server returns an httptest server for the gateway over this stack.
func (s *Stack) Server(t *testing.T) *httptest.Server {
	t.Helper()
	gw := httpapi.NewServer(httpapi.Config{
		Registry:   s.Registry,
		Workspaces: s.WorkspaceSv,
	})
	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)
	return srv
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}
