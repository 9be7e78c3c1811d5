package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	wfsqlite "github.com/cschleiden/go-workflows/backend/sqlite"
	wfclient "github.com/cschleiden/go-workflows/client"
	"github.com/cschleiden/go-workflows/worker"
	"github.com/dbos-inc/dbos-transact-golang/dbos"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/fleetshift/deployd/internal/domain"
	"github.com/fleetshift/deployd/internal/infrastructure/dbosworkflows"
	"github.com/fleetshift/deployd/internal/infrastructure/goworkflows"
	"github.com/fleetshift/deployd/internal/infrastructure/kubepods"
	"github.com/fleetshift/deployd/internal/infrastructure/memlock"
	"github.com/fleetshift/deployd/internal/infrastructure/podmgr"
	"github.com/fleetshift/deployd/internal/infrastructure/redislocks"
	"github.com/fleetshift/deployd/internal/infrastructure/syncworkflow"
)

const metricsNamespace = "deployd"

// closer releases a component during shutdown.
type closer func(ctx context.Context) error

// podRuntime is the selected pod backend plus the collectors it exports.
type podRuntime struct {
	Pods     domain.PodManager
	Gatherer prometheus.Gatherer
	Close    closer
}

func buildPods(cfg Config, logger *slog.Logger) (podRuntime, error) {
	if cfg.Runtime == "kubernetes" {
		cs, err := kubepods.NewClient(cfg.Kubeconfig)
		if err != nil {
			return podRuntime{}, err
		}
		var command []string
		if cfg.WorkerCmd != "" {
			command = append([]string{cfg.WorkerCmd}, cfg.WorkerArgs...)
		}
		rt := &kubepods.Runtime{
			Client:    cs,
			Namespace: cfg.Namespace,
			Image:     cfg.Image,
			Command:   command,
			StopGrace: cfg.StopGrace,
			Logger:    logger.With("component", "kubepods"),
		}
		return podRuntime{Pods: rt, Close: func(context.Context) error { return nil }}, nil
	}

	var launcher podmgr.Launcher
	switch cfg.Runtime {
	case "exec":
		launcher = &podmgr.ExecLauncher{
			Command: cfg.WorkerCmd,
			Args:    cfg.WorkerArgs,
			Env:     os.Environ(),
			Stdout:  os.Stdout,
			Stderr:  os.Stderr,
		}
	default:
		launcher = &podmgr.InProcLauncher{}
	}

	collector := podmgr.NewPrometheusMetricsCollector(metricsNamespace)
	mgr := podmgr.NewManager(launcher,
		podmgr.WithCapacity(cfg.Capacity),
		podmgr.WithStartupGrace(cfg.StartupGrace),
		podmgr.WithStopGrace(cfg.StopGrace),
		podmgr.WithMetricsCollector(collector),
		podmgr.WithLogger(logger.With("component", "podmgr")),
	)
	return podRuntime{Pods: mgr, Gatherer: collector.Registry(), Close: mgr.Shutdown}, nil
}

func buildLocks(ctx context.Context, cfg Config, logger *slog.Logger) (domain.Locker, closer, error) {
	if cfg.LockBackend != "redis" {
		return memlock.New(), func(context.Context) error { return nil }, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	locker := redislocks.New(rdb, "deployd:lock:", cfg.LockTTL,
		redislocks.WithLogger(logger.With("component", "redislocks")))
	return locker, func(context.Context) error { return rdb.Close() }, nil
}

// workflowEngine bundles an engine with its lifecycle hooks. Start runs
// after every runner has been registered.
type workflowEngine struct {
	Engine domain.WorkflowEngine
	Start  func() error
	Close  closer
}

// buildEngine detaches the engine from ctx cancellation; only Close stops it.
func buildEngine(ctx context.Context, cfg Config) (workflowEngine, error) {
	ctx = context.WithoutCancel(ctx)
	noop := func() error { return nil }
	switch cfg.Engine {
	case "goworkflows":
		b := wfsqlite.NewSqliteBackend(cfg.WorkflowDSN)
		w := worker.New(b, nil)
		wctx, cancel := context.WithCancel(ctx)
		engine := &goworkflows.Engine{Worker: w, Client: wfclient.New(b), Timeout: cfg.WorkflowTimeout}
		return workflowEngine{
			Engine: engine,
			Start:  func() error { return w.Start(wctx) },
			Close: func(context.Context) error {
				cancel()
				return w.WaitForCompletion()
			},
		}, nil

	case "dbos":
		dbosCtx, err := dbos.NewDBOSContext(ctx, dbos.Config{
			AppName:     "deployd",
			DatabaseURL: cfg.DBOSURL,
		})
		if err != nil {
			return workflowEngine{}, fmt.Errorf("create dbos context: %w", err)
		}
		return workflowEngine{
			Engine: &dbosworkflows.Engine{DBOSCtx: dbosCtx},
			Start:  func() error { return dbos.Launch(dbosCtx) },
			Close: func(context.Context) error {
				dbos.Shutdown(dbosCtx, 5*time.Second)
				return nil
			},
		}, nil

	default:
		return workflowEngine{
			Engine: &syncworkflow.Engine{MaxParallel: cfg.MaxParallel},
			Start:  noop,
			Close:  func(context.Context) error { return nil },
		}, nil
	}
}

// buildTracing installs a stdout span exporter as the global tracer
// provider when tracing is enabled.
func buildTracing(cfg Config) (closer, error) {
	if !cfg.Tracing {
		return func(context.Context) error { return nil }, nil
	}
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create stdout exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
