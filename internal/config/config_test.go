package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
logging:
  level: debug
  console: true
storage:
  busy_timeout: 5s
scheduler:
  tick_interval: 10s
  workers: 4
scrape:
  command: "scrapetool run {config} --format {format} --output {output}"
  configs_dir: /etc/scrapes
job_defaults:
  max_retries: 2
  retry_delay: 30s
`)
	cfg, err := NewManager(path).Parse()
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Scheduler.TickInterval != "10s" || cfg.Scheduler.Workers != 4 {
		t.Fatalf("scheduler = %+v", cfg.Scheduler)
	}
	if cfg.Scrape.ConfigsDir != "/etc/scrapes" {
		t.Fatalf("scrape = %+v", cfg.Scrape)
	}
	if cfg.JobDefaults.MaxRetries != 2 || cfg.JobDefaults.RetryDelay != "30s" {
		t.Fatalf("job_defaults = %+v", cfg.JobDefaults)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
logging:
  level: info
  verbosity: high
scrape:
  command: "x {config}"
`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestParseRejectsTrailingJSON(t *testing.T) {
	path := writeConfig(t, "config.json", `{"scrape":{"command":"x {config}"}}{"extra":1}`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestParseRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
scheduler:
  tick_interval: "sometimes"
scrape:
  command: "x {config}"
`)
	if _, err := NewManager(path).Parse(); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	t.Setenv(EnvDataDir, t.TempDir())
	m := NewManager(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "info" || !cfg.Logging.Console {
		t.Fatalf("defaults = %+v", cfg.Logging)
	}
	if cfg.Scrape.Command == "" {
		t.Fatal("default scrape command missing")
	}
	if m.Get() != cfg {
		t.Fatal("Load did not commit")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	dataDir := t.TempDir()
	t.Setenv(EnvDataDir, dataDir)
	t.Setenv(EnvLogLevel, "debug")
	t.Setenv(EnvDefaultRetries, "7")

	cfg := Default()
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Logging.Level != "debug" {
		t.Fatalf("level = %s", cfg.Logging.Level)
	}
	if cfg.JobDefaults.MaxRetries != 7 {
		t.Fatalf("max retries = %d", cfg.JobDefaults.MaxRetries)
	}
	if !strings.HasPrefix(cfg.Storage.Path, dataDir) {
		t.Fatalf("storage path %q not under %q", cfg.Storage.Path, dataDir)
	}
}

func TestApplyEnvRejectsBadRetries(t *testing.T) {
	t.Setenv(EnvDefaultRetries, "-1")
	cfg := Default()
	if err := cfg.ApplyEnv(); err == nil {
		t.Fatal("expected error for negative retries")
	}
	t.Setenv(EnvDefaultRetries, "lots")
	if err := cfg.ApplyEnv(); err == nil {
		t.Fatal("expected error for non-numeric retries")
	}
}

func TestExplicitStoragePathWins(t *testing.T) {
	t.Setenv(EnvDataDir, t.TempDir())
	cfg := Default()
	cfg.Storage.Path = "/var/lib/scrapesched/jobs.db"
	if err := cfg.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Storage.Path != "/var/lib/scrapesched/jobs.db" {
		t.Fatalf("explicit path overridden: %s", cfg.Storage.Path)
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	oldCfg := Default()
	newCfg := Default()
	newCfg.Logging.Level = "debug"
	newCfg.Scheduler.Workers = 8

	sections, _ := SummarizeChange(oldCfg, newCfg)
	if len(sections) != 2 || sections[0] != "logging" || sections[1] != "scheduler" {
		t.Fatalf("sections = %v", sections)
	}

	sections, _ = SummarizeChange(newCfg, newCfg)
	if len(sections) != 0 {
		t.Fatalf("no-op diff reported %v", sections)
	}
}
