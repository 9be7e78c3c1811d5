package dbosworkflows_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dbos-inc/dbos-transact-golang/dbos"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/fleetshift/deployd/internal/application"
	"github.com/fleetshift/deployd/internal/deploydtest"
	"github.com/fleetshift/deployd/internal/domain"
	"github.com/fleetshift/deployd/internal/infrastructure/dbosworkflows"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}

	// Ryuk (the reaper) requires a Docker bridge network that does not
	// exist on Podman. We handle cleanup via t.Cleanup instead.
	t.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()

	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("dbos_test"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	testcontainers.CleanupContainer(t, ctr)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}

	connStr, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get postgres connection string: %v", err)
	}
	return connStr
}

func TestConvergence_DBOS(t *testing.T) {
	connStr := startPostgres(t)
	ctx := context.Background()

	dbosCtx, err := dbos.NewDBOSContext(ctx, dbos.Config{
		AppName:     "deployd-dbos-test",
		DatabaseURL: connStr,
	})
	if err != nil {
		t.Fatalf("NewDBOSContext: %v", err)
	}
	t.Cleanup(func() { dbos.Shutdown(dbosCtx, 5*time.Second) })

	s := deploydtest.New(t, deploydtest.Options{Engine: &dbosworkflows.Engine{DBOSCtx: dbosCtx}})
	if err := dbos.Launch(dbosCtx); err != nil {
		t.Fatalf("dbos.Launch: %v", err)
	}
	ws := s.Workspace(t)

	op, err := s.Registry.Create(ctx, application.CreateDeploymentInput{
		WorkspaceID: ws.ID,
		Config:      domain.WorkerConfig{Replicas: 2, Shards: 1},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := op.Wait(ctx); err != nil {
		t.Fatalf("Create Wait: %v", err)
	}

	op, err = s.Registry.ApplyScale(ctx, application.ScaleRequest{DeploymentID: op.DeploymentID, Replicas: 3})
	if err != nil {
		t.Fatalf("ApplyScale: %v", err)
	}
	result, err := op.Wait(ctx)
	if err != nil {
		t.Fatalf("ApplyScale Wait: %v", err)
	}
	if result.Started != 1 || result.State != domain.DeploymentStateRunning {
		t.Errorf("scale result = %+v, want one started slot and running", result)
	}

	d, err := s.Registry.Get(ctx, op.DeploymentID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if d.HealthyReplicas(0) != 3 {
		t.Errorf("healthy replicas = %d, want 3", d.HealthyReplicas(0))
	}

	op, err = s.Registry.Delete(ctx, d.ID)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := op.Wait(ctx); err != nil {
		t.Fatalf("Delete Wait: %v", err)
	}
	if _, err := s.Registry.Get(ctx, d.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Get after delete: got %v, want ErrNotFound", err)
	}
}
