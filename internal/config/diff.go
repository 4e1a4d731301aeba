package config

import (
	"reflect"
	"sort"
	"strings"

	logx "scrapesched/pkg/logx"
)

// SummarizeChange returns a compact list of changed sections plus safe
// structured attrs for logging. Used by the hot-reload loop to log what a
// reload actually touched.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 12)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
			logx.String("storage.busy_timeout", strings.TrimSpace(newCfg.Storage.BusyTimeout)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.tick_interval", strings.TrimSpace(newCfg.Scheduler.TickInterval)),
			logx.Int("scheduler.workers", newCfg.Scheduler.Workers),
			logx.Int("scheduler.queue_size", newCfg.Scheduler.QueueSize),
		)
	}

	if !reflect.DeepEqual(oldCfg.Executor, newCfg.Executor) {
		changed = append(changed, "executor")
		attrs = append(attrs,
			logx.String("executor.attempt_timeout", strings.TrimSpace(newCfg.Executor.AttemptTimeout)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scrape, newCfg.Scrape) {
		changed = append(changed, "scrape")
		attrs = append(attrs,
			logx.Bool("scrape.command_set", strings.TrimSpace(newCfg.Scrape.Command) != ""),
			logx.Bool("scrape.configs_dir_set", strings.TrimSpace(newCfg.Scrape.ConfigsDir) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.JobDefaults, newCfg.JobDefaults) {
		changed = append(changed, "job_defaults")
		attrs = append(attrs,
			logx.Int("job_defaults.max_retries", newCfg.JobDefaults.MaxRetries),
			logx.String("job_defaults.retry_delay", strings.TrimSpace(newCfg.JobDefaults.RetryDelay)),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
