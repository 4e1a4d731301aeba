package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Config is the daemon's file configuration. All durations are Go duration
// strings (e.g. "500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Storage   StorageConfig   `json:"storage"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Executor  ExecutorConfig  `json:"executor,omitempty"`
	Scrape    ScrapeConfig    `json:"scrape"`

	// JobDefaults seed new jobs created without explicit flags.
	JobDefaults JobDefaultsConfig `json:"job_defaults,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the sqlite persistence layer. Path defaults to
// <data_dir>/jobs.db.
type StorageConfig struct {
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// SchedulerConfig controls the control loop.
//
// Defaults (when fields are omitted/zero):
//   - tick_interval: "5s"
//   - workers: 2
//   - queue_size: 64
//   - stop_timeout: "10s"
//   - store_retry_max: 2
type SchedulerConfig struct {
	TickInterval  string `json:"tick_interval,omitempty"`
	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	StopTimeout   string `json:"stop_timeout,omitempty"`
	StoreRetryMax int    `json:"store_retry_max,omitempty"`
}

type ExecutorConfig struct {
	// AttemptTimeout bounds a single run attempt. "0s" disables the ceiling.
	AttemptTimeout string `json:"attempt_timeout,omitempty"`
}

// ScrapeConfig describes how to invoke the external scraper.
//
// Command is a shell line with {config}, {format} and {output} placeholders.
// ConfigsDir is where named scraping configurations live; when set, job
// creation verifies the configuration file exists.
type ScrapeConfig struct {
	Command    string `json:"command"`
	ConfigsDir string `json:"configs_dir,omitempty"`
}

type JobDefaultsConfig struct {
	MaxRetries int    `json:"max_retries,omitempty"`
	RetryDelay string `json:"retry_delay,omitempty"`
}

// Environment overrides, applied after file parse so operators can steer a
// packaged install without editing the config file.
const (
	EnvDataDir        = "SCRAPESCHED_DATA_DIR"
	EnvDefaultRetries = "SCRAPESCHED_DEFAULT_RETRIES"
	EnvLogLevel       = "SCRAPESCHED_LOG_LEVEL"
)

// DefaultDataDir is used when neither storage.path nor SCRAPESCHED_DATA_DIR
// is set.
func DefaultDataDir() string {
	if home, err := os.UserHomeDir(); err == nil && home != "" {
		return filepath.Join(home, ".scrapesched")
	}
	return ".scrapesched"
}

// ApplyEnv layers environment overrides onto cfg and resolves the storage
// path default. Called by the manager after every successful parse.
func (c *Config) ApplyEnv() error {
	if lvl := strings.TrimSpace(os.Getenv(EnvLogLevel)); lvl != "" {
		c.Logging.Level = lvl
	}
	if raw := strings.TrimSpace(os.Getenv(EnvDefaultRetries)); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return fmt.Errorf("%s: invalid retry count %q", EnvDefaultRetries, raw)
		}
		c.JobDefaults.MaxRetries = n
	}

	dataDir := strings.TrimSpace(os.Getenv(EnvDataDir))
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		c.Storage.Path = filepath.Join(dataDir, "jobs.db")
	}
	if c.Logging.File.Enabled && strings.TrimSpace(c.Logging.File.Path) == "" {
		c.Logging.File.Path = filepath.Join(dataDir, "scrapesched.log")
	}
	return nil
}

// Validate checks everything checkable without touching components.
func (c *Config) Validate() error {
	for _, d := range []struct{ path, raw string }{
		{"storage.busy_timeout", c.Storage.BusyTimeout},
		{"scheduler.tick_interval", c.Scheduler.TickInterval},
		{"scheduler.stop_timeout", c.Scheduler.StopTimeout},
		{"executor.attempt_timeout", c.Executor.AttemptTimeout},
		{"job_defaults.retry_delay", c.JobDefaults.RetryDelay},
	} {
		if _, err := ParseDurationField(d.path, d.raw); err != nil {
			return err
		}
	}
	if c.Scheduler.Workers < 0 {
		return fmt.Errorf("scheduler.workers must be >= 0")
	}
	if c.Scheduler.QueueSize < 0 {
		return fmt.Errorf("scheduler.queue_size must be >= 0")
	}
	if c.JobDefaults.MaxRetries < 0 {
		return fmt.Errorf("job_defaults.max_retries must be >= 0")
	}
	return nil
}

// Default returns the built-in configuration used when no config file exists.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
		Scrape: ScrapeConfig{
			Command: "scrapetool run {config} --format {format} --output {output}",
		},
	}
}
