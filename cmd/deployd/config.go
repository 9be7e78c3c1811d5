package main

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config is the resolved daemon configuration.
type Config struct {
	Listen string

	DSN           string
	WorkspaceRoot string

	Engine          string // sync, goworkflows or dbos
	MaxParallel     int
	WorkflowDSN     string // go-workflows SQLite backend
	DBOSURL         string
	WorkflowTimeout time.Duration

	Runtime      string // inproc, exec or kubernetes
	WorkerCmd    string
	WorkerArgs   []string
	Capacity     int
	StartupGrace time.Duration
	StopGrace    time.Duration
	Namespace    string
	Image        string
	Kubeconfig   string

	MaxReplicas int

	LockBackend string // memory or redis
	RedisAddr   string
	LockTTL     time.Duration

	LogLevel  string
	LogFormat string
	Tracing   bool
}

func setDefaults() {
	viper.SetDefault("server.listen", ":8080")
	viper.SetDefault("storage.dsn", "deployd.db")
	viper.SetDefault("workflow.engine", "sync")
	viper.SetDefault("workflow.max_parallel", 8)
	viper.SetDefault("workflow.goworkflows_dsn", "deployd-workflows.db")
	viper.SetDefault("workflow.timeout", 10*time.Minute)
	viper.SetDefault("pods.runtime", "inproc")
	viper.SetDefault("pods.startup_grace", time.Second)
	viper.SetDefault("pods.stop_grace", 5*time.Second)
	viper.SetDefault("pods.namespace", "default")
	viper.SetDefault("scaling.max_replicas", 64)
	viper.SetDefault("locks.backend", "memory")
	viper.SetDefault("locks.redis_addr", "localhost:6379")
	viper.SetDefault("locks.ttl", 30*time.Second)
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
}

// LoadConfig reads the configuration from viper and validates the
// backend selections.
func LoadConfig() (Config, error) {
	setDefaults()
	cfg := Config{
		Listen:          viper.GetString("server.listen"),
		DSN:             viper.GetString("storage.dsn"),
		WorkspaceRoot:   viper.GetString("storage.workspace_root"),
		Engine:          viper.GetString("workflow.engine"),
		MaxParallel:     viper.GetInt("workflow.max_parallel"),
		WorkflowDSN:     viper.GetString("workflow.goworkflows_dsn"),
		DBOSURL:         viper.GetString("workflow.dbos_url"),
		WorkflowTimeout: viper.GetDuration("workflow.timeout"),
		Runtime:         viper.GetString("pods.runtime"),
		WorkerCmd:       viper.GetString("pods.command"),
		WorkerArgs:      viper.GetStringSlice("pods.args"),
		Capacity:        viper.GetInt("pods.capacity"),
		StartupGrace:    viper.GetDuration("pods.startup_grace"),
		StopGrace:       viper.GetDuration("pods.stop_grace"),
		Namespace:       viper.GetString("pods.namespace"),
		Image:           viper.GetString("pods.image"),
		Kubeconfig:      viper.GetString("pods.kubeconfig"),
		MaxReplicas:     viper.GetInt("scaling.max_replicas"),
		LockBackend:     viper.GetString("locks.backend"),
		RedisAddr:       viper.GetString("locks.redis_addr"),
		LockTTL:         viper.GetDuration("locks.ttl"),
		LogLevel:        viper.GetString("logging.level"),
		LogFormat:       viper.GetString("logging.format"),
		Tracing:         viper.GetBool("tracing.enabled"),
	}
	return cfg, cfg.Validate()
}

// Validate checks enumerated settings and the settings each backend
// requires.
func (c Config) Validate() error {
	switch c.Engine {
	case "sync", "goworkflows":
	case "dbos":
		if c.DBOSURL == "" {
			return fmt.Errorf("workflow.dbos_url is required for the dbos engine")
		}
	default:
		return fmt.Errorf("unknown workflow engine %q (want sync, goworkflows or dbos)", c.Engine)
	}

	switch c.Runtime {
	case "inproc":
	case "exec":
		if c.WorkerCmd == "" {
			return fmt.Errorf("pods.command is required for the exec runtime")
		}
	case "kubernetes":
		if c.Image == "" {
			return fmt.Errorf("pods.image is required for the kubernetes runtime")
		}
	default:
		return fmt.Errorf("unknown pod runtime %q (want inproc, exec or kubernetes)", c.Runtime)
	}

	switch c.LockBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown lock backend %q (want memory or redis)", c.LockBackend)
	}

	if c.MaxReplicas < 1 {
		return fmt.Errorf("scaling.max_replicas must be at least 1")
	}
	return nil
}
