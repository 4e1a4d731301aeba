// Package app wires the components into a runnable daemon: logging, config,
// store, runner, executor, scheduler, and the hot-reload plumbing between
// them.
package app

import (
	"context"
	"strings"

	"scrapesched/internal/config"
	"scrapesched/internal/eventbus"
	"scrapesched/internal/executor"
	"scrapesched/internal/runtime/supervisor"
	"scrapesched/internal/scheduler"
	"scrapesched/internal/scrape"
	"scrapesched/internal/store"
	logx "scrapesched/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store store.Store

	runner *scrape.CommandRunner
	exec   *executor.Executor
	sched  *scheduler.Service
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	storeCfg, err := mapStoreConfig(cfg)
	if err != nil {
		return nil, err
	}
	st, err := store.Open(storeCfg, log.With(logx.String("comp", "store")))
	if err != nil {
		return nil, err
	}

	runner, err := scrape.NewCommandRunner(scrape.Config{
		Command:    cfg.Scrape.Command,
		ConfigsDir: cfg.Scrape.ConfigsDir,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	execCfg, err := mapExecutorConfig(cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	exec := executor.New(execCfg, runner, st, log.With(logx.String("comp", "executor")))

	schedCfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	sched := scheduler.New(schedCfg, st, exec, bus, log.With(logx.String("comp", "scheduler")))

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   st,
		runner:  runner,
		exec:    exec,
		sched:   sched,
	}, nil
}

func (a *App) Config() *config.Config        { return a.cfgm.Get() }
func (a *App) Store() store.Store            { return a.store }
func (a *App) Scheduler() *scheduler.Service { return a.sched }
func (a *App) Runner() *scrape.CommandRunner { return a.runner }
func (a *App) Logger() logx.Logger           { return a.log }

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return cfg.Validate()
	})

	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}

	a.sup.GoRestart("config.watch", func(ctx context.Context) error {
		return a.cfgm.Watch(ctx)
	})

	// hot reload fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go("config.reload", func(ctx context.Context) error {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-ctx.Done():
				return nil
			case newCfg, ok := <-sub:
				if !ok {
					return nil
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				sections, attrs := config.SummarizeChange(lastApplied, newCfg)
				lastApplied = newCfg
				if len(sections) == 0 {
					a.log.Debug("config reload received, but no effective changes detected")
					continue
				}
				fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
				a.log.Info("config change summary", fields...)

				for _, s := range sections {
					switch s {
					case "logging":
						a.logs.Apply(logx.Config{
							Level:   newCfg.Logging.Level,
							Console: newCfg.Logging.Console,
							File: logx.FileConfig{
								Enabled: newCfg.Logging.File.Enabled,
								Path:    newCfg.Logging.File.Path,
							},
						})
					case "storage", "scheduler", "scrape", "executor":
						a.log.Warn("config section changed; restart required for changes to take effect",
							logx.String("section", s))
					}
				}
			}
		}
	})

	// Event tail for observability; components subscribe themselves if they
	// need more than a debug line.
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go("eventbus.log", func(ctx context.Context) error {
		defer unsub()
		for {
			select {
			case <-ctx.Done():
				return nil
			case e, ok := <-events:
				if !ok {
					return nil
				}
				a.log.Debug("event",
					logx.String("type", e.Type),
					logx.String("job", e.JobID),
					logx.Time("time", e.Time))
			}
		}
	})

	a.log.Info("app started", logx.String("config", a.cfgPath))
	return nil
}

// Stop performs an orderly shutdown. force propagates cancellation into
// in-flight job executions instead of waiting them out.
func (a *App) Stop(ctx context.Context, force bool) error {
	var firstErr error
	if a.sched.IsRunning() {
		if err := a.sched.Stop(ctx, force); err != nil {
			firstErr = err
		}
	}
	if a.sup != nil {
		if err := a.sup.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := a.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	a.log.Info("app stopped")
	_ = a.logs.Close()
	return firstErr
}
