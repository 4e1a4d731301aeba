package cli

import (
	"fmt"

	"scrapesched/internal/config"
	"scrapesched/internal/executor"
	"scrapesched/internal/scrape"
	"scrapesched/internal/store"
	logx "scrapesched/pkg/logx"
)

// env is the shared environment for one-shot commands: parsed config, a
// console logger, an open store and the scrape runner. Commands must call
// close when done.
type env struct {
	cfg    *config.Config
	log    logx.Logger
	store  store.Store
	runner *scrape.CommandRunner
}

func openEnv() (*env, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	// One-shot commands log warnings and errors only; structured daemon
	// logging belongs to `scheduler start`.
	log := logx.NewConsole("WARN")

	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(store.Config{Path: cfg.Storage.Path, BusyTimeout: busy}, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	runner, err := scrape.NewCommandRunner(scrape.Config{
		Command:    cfg.Scrape.Command,
		ConfigsDir: cfg.Scrape.ConfigsDir,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return &env{cfg: cfg, log: log, store: st, runner: runner}, nil
}

func (e *env) close() {
	_ = e.store.Close()
}

func (e *env) executor() *executor.Executor {
	timeout, _ := config.ParseDurationField("executor.attempt_timeout", e.cfg.Executor.AttemptTimeout)
	return executor.New(executor.Config{AttemptTimeout: timeout}, e.runner, e.store, e.log)
}
