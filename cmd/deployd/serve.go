package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"

	"github.com/fleetshift/deployd/internal/application"
	"github.com/fleetshift/deployd/internal/domain"
	"github.com/fleetshift/deployd/internal/infrastructure/httpapi"
	"github.com/fleetshift/deployd/internal/infrastructure/metrics"
	"github.com/fleetshift/deployd/internal/infrastructure/sqlite"
	"github.com/fleetshift/deployd/internal/infrastructure/staging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the daemon and serve the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, cfg)
	},
}

func init() {
	f := serveCmd.Flags()
	f.String("listen", ":8080", "HTTP listen address")
	f.String("engine", "sync", "Workflow engine (sync, goworkflows, dbos)")
	f.String("runtime", "inproc", "Pod runtime (inproc, exec, kubernetes)")
	f.String("worker-cmd", "", "Worker executable for the exec runtime")
	f.Int("capacity", 0, "Maximum concurrent pods, 0 for unlimited")
	f.Int("max-replicas", application.DefaultMaxReplicas, "Per-shard replica ceiling")
	f.String("locks", "memory", "Lock backend (memory, redis)")
	f.String("redis-addr", "localhost:6379", "Redis address for the redis lock backend")
	f.String("workspace-root", "", "Directory relative workspace paths resolve under")
	f.Bool("tracing", false, "Export traces to stdout")

	viper.BindPFlag("server.listen", f.Lookup("listen"))
	viper.BindPFlag("workflow.engine", f.Lookup("engine"))
	viper.BindPFlag("pods.runtime", f.Lookup("runtime"))
	viper.BindPFlag("pods.command", f.Lookup("worker-cmd"))
	viper.BindPFlag("pods.capacity", f.Lookup("capacity"))
	viper.BindPFlag("scaling.max_replicas", f.Lookup("max-replicas"))
	viper.BindPFlag("locks.backend", f.Lookup("locks"))
	viper.BindPFlag("locks.redis_addr", f.Lookup("redis-addr"))
	viper.BindPFlag("storage.workspace_root", f.Lookup("workspace-root"))
	viper.BindPFlag("tracing.enabled", f.Lookup("tracing"))
}

func runServe(ctx context.Context, cfg Config) error {
	logger, err := newLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	db, err := sqlite.Open(cfg.DSN)
	if err != nil {
		return err
	}
	defer db.Close()
	deployments := &sqlite.DeploymentRepo{DB: db}
	workspaces := &sqlite.WorkspaceRepo{DB: db}

	pods, err := buildPods(cfg, logger)
	if err != nil {
		return err
	}
	locks, closeLocks, err := buildLocks(ctx, cfg, logger)
	if err != nil {
		return err
	}
	engine, err := buildEngine(ctx, cfg)
	if err != nil {
		closeLocks(context.Background())
		return err
	}
	closeTracing, err := buildTracing(cfg)
	if err != nil {
		closeLocks(context.Background())
		return err
	}

	runner, err := engine.Engine.ConvergenceRunner(&domain.ConvergenceWorkflow{
		Deployments: deployments,
		Pods:        pods.Pods,
	})
	if err != nil {
		return fmt.Errorf("register convergence workflow: %w", err)
	}
	ops := metrics.NewOperationCollector(metricsNamespace)
	controller := &application.ScalingController{
		Runner:      runner,
		Deployments: deployments,
		MaxReplicas: cfg.MaxReplicas,
		Metrics:     ops,
		Logger:      logger.With("component", "controller"),
		Tracer:      otel.Tracer("github.com/fleetshift/deployd"),
	}
	registry := &application.Registry{
		Workspaces:  workspaces,
		Deployments: deployments,
		Locks:       locks,
		Controller:  controller,
		Pods:        pods.Pods,
		Logger:      logger.With("component", "registry"),
	}
	wsService := &application.WorkspaceService{
		Workspaces: workspaces,
		Stager:     &staging.PathStager{Root: cfg.WorkspaceRoot},
	}

	// Interrupted deployments are fenced off before the engine resumes
	// their runs.
	n, err := registry.Reconcile(ctx)
	if err != nil {
		return fmt.Errorf("reconcile deployments: %w", err)
	}
	if n > 0 {
		logger.Warn("marked interrupted deployments failed", "count", n)
	}
	if err := engine.Start(); err != nil {
		return fmt.Errorf("start %s engine: %w", cfg.Engine, err)
	}

	gatherers := prometheus.Gatherers{ops.Registry()}
	if pods.Gatherer != nil {
		gatherers = append(gatherers, pods.Gatherer)
	}
	gw := httpapi.NewServer(httpapi.Config{
		Addr:       cfg.Listen,
		Registry:   registry,
		Workspaces: wsService,
		Gatherer:   gatherers,
		Logger:     logger.With("component", "gateway"),
	})

	logger.Info("deployd starting",
		"listen", cfg.Listen,
		"engine", cfg.Engine,
		"runtime", cfg.Runtime,
		"locks", cfg.LockBackend,
		"max_replicas", cfg.MaxReplicas,
	)

	serveErr := make(chan error, 1)
	go func() { serveErr <- gw.ListenAndServe() }()

	select {
	case err = <-serveErr:
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	errs := []error{err, gw.Shutdown(shutdownCtx)}
	controller.Wait()
	errs = append(errs,
		pods.Close(shutdownCtx),
		engine.Close(shutdownCtx),
		closeLocks(shutdownCtx),
		closeTracing(shutdownCtx),
	)
	return errors.Join(errs...)
}
