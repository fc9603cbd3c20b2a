package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	p := cfg.Pipeline
	if p.WatcherPollInterval != 5*time.Second || p.DispatcherPollInterval != 500*time.Millisecond {
		t.Errorf("poll intervals = %s/%s", p.WatcherPollInterval, p.DispatcherPollInterval)
	}
	if p.IdleTimeout != 30*time.Second || p.PNGWorkers != 20 || p.TagWorkers != 20 || p.GridSize != 16 {
		t.Errorf("pipeline defaults = %+v", p)
	}
	if cfg.Database.Driver != "sqlite" || cfg.Queue.Type != "memory" {
		t.Errorf("driver/queue = %s/%s", cfg.Database.Driver, cfg.Queue.Type)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate defaults: %v", err)
	}
}

func TestLoadEnvironment(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("PIPELINE_WATCHER_POLL_INTERVAL", "250")
	t.Setenv("PIPELINE_IDLE_TIMEOUT", "2s")
	t.Setenv("PIPELINE_PNG_WORKERS", "4")
	t.Setenv("PIPELINE_DUMP_ARGS", "+P, 0010,0010")
	t.Setenv("DB_DRIVER", "Postgres")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pipeline.WatcherPollInterval != 250*time.Millisecond {
		t.Errorf("watcher poll = %s", cfg.Pipeline.WatcherPollInterval)
	}
	if cfg.Pipeline.IdleTimeout != 2*time.Second {
		t.Errorf("idle timeout = %s", cfg.Pipeline.IdleTimeout)
	}
	if cfg.Pipeline.PNGWorkers != 4 {
		t.Errorf("png workers = %d", cfg.Pipeline.PNGWorkers)
	}
	if strings.Join(cfg.Pipeline.DumpArgs, "|") != "+P|0010,0010" {
		t.Errorf("dump args = %q", cfg.Pipeline.DumpArgs)
	}
	if cfg.Database.Driver != "postgres" {
		t.Errorf("driver = %s", cfg.Database.Driver)
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("PIPELINE_GRID_SIZE=9\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Unsetenv("PIPELINE_GRID_SIZE") })

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pipeline.GridSize != 9 {
		t.Errorf("grid size = %d, want 9", cfg.Pipeline.GridSize)
	}
}

func TestPipelineFileOverlay(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "pipeline.toml")
	content := `
watcher_poll_interval_ms = 1000
grid_size = 25
tags = false
dump_binary = "/usr/bin/dcmdump"
dump_args = ["-M", "+L"]
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PIPELINE_CONFIG_FILE", path)
	t.Setenv("PIPELINE_TAG_WORKERS", "7")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	p := cfg.Pipeline
	if p.WatcherPollInterval != time.Second || p.GridSize != 25 || p.Tags {
		t.Errorf("overlay not applied: %+v", p)
	}
	if p.DumpBinary != "/usr/bin/dcmdump" || len(p.DumpArgs) != 2 {
		t.Errorf("dump settings = %s %v", p.DumpBinary, p.DumpArgs)
	}
	if p.TagWorkers != 7 || p.DispatcherPollInterval != 500*time.Millisecond {
		t.Errorf("unset keys overwritten: %+v", p)
	}
}

func TestPipelineFileRejectsUnknownKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("grid_sise = 4\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	var p PipelineConfig
	if err := p.ApplyFile(path); err == nil {
		t.Error("ApplyFile accepted an unknown key")
	}
}

func TestValidate(t *testing.T) {
	t.Chdir(t.TempDir())
	base, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "oracle" }},
		{"unknown queue", func(c *Config) { c.Queue.Type = "kafka" }},
		{"no output root", func(c *Config) { c.Pipeline.OutputRoot = "" }},
		{"no workers", func(c *Config) { c.Pipeline.PNGWorkers = 0 }},
		{"zero grid", func(c *Config) { c.Pipeline.GridSize = 0 }},
		{"zero idle", func(c *Config) { c.Pipeline.IdleTimeout = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := *base
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() = nil, want error")
			}
		})
	}
}
