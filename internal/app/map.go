package app

import (
	"time"

	"scrapesched/internal/config"
	"scrapesched/internal/executor"
	"scrapesched/internal/scheduler"
	"scrapesched/internal/store"
)

func mapStoreConfig(cfg *config.Config) (store.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return store.Config{}, err
	}
	return store.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	tick, err := config.ParseDurationField("scheduler.tick_interval", cfg.Scheduler.TickInterval)
	if err != nil {
		return scheduler.Config{}, err
	}
	stop, err := config.ParseDurationField("scheduler.stop_timeout", cfg.Scheduler.StopTimeout)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{
		TickInterval:  tick,
		Workers:       cfg.Scheduler.Workers,
		QueueSize:     cfg.Scheduler.QueueSize,
		StopTimeout:   stop,
		StoreRetryMax: cfg.Scheduler.StoreRetryMax,
	}, nil
}

func mapExecutorConfig(cfg *config.Config) (executor.Config, error) {
	timeout, err := config.ParseDurationField("executor.attempt_timeout", cfg.Executor.AttemptTimeout)
	if err != nil {
		return executor.Config{}, err
	}
	return executor.Config{AttemptTimeout: timeout}, nil
}

// JobDefaults materializes the retry defaults applied to jobs created
// without explicit flags.
func JobDefaults(cfg *config.Config) (maxRetries int, retryDelay time.Duration, err error) {
	retryDelay, err = config.ParseDurationField("job_defaults.retry_delay", cfg.JobDefaults.RetryDelay)
	if err != nil {
		return 0, 0, err
	}
	return cfg.JobDefaults.MaxRetries, retryDelay, nil
}
