package main

import (
	"bytes"
	"strings"
	"testing"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Listen != ":8080" || cfg.Engine != "sync" || cfg.Runtime != "inproc" || cfg.LockBackend != "memory" {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.MaxReplicas != 64 {
		t.Errorf("MaxReplicas = %d, want 64", cfg.MaxReplicas)
	}
}

func TestConfigValidate(t *testing.T) {
	base := Config{Engine: "sync", Runtime: "inproc", LockBackend: "memory", MaxReplicas: 8}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"unknown engine", func(c *Config) { c.Engine = "temporal" }, "unknown workflow engine"},
		{"dbos without url", func(c *Config) { c.Engine = "dbos" }, "dbos_url"},
		{"exec without command", func(c *Config) { c.Runtime = "exec" }, "pods.command"},
		{"kubernetes without image", func(c *Config) { c.Runtime = "kubernetes" }, "pods.image"},
		{"unknown lock backend", func(c *Config) { c.LockBackend = "etcd" }, "unknown lock backend"},
		{"zero ceiling", func(c *Config) { c.MaxReplicas = 0 }, "max_replicas"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, "warn", "json")
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	logger.Info("dropped")
	logger.Warn("kept", "deployment_id", "d1")
	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Errorf("info record written at warn level: %s", out)
	}
	if !strings.Contains(out, `"deployment_id":"d1"`) {
		t.Errorf("missing json attribute: %s", out)
	}

	if _, err := newLogger(&buf, "loud", "text"); err == nil {
		t.Error("expected an error for an unknown level")
	}
	if _, err := newLogger(&buf, "info", "xml"); err == nil {
		t.Error("expected an error for an unknown format")
	}
}
