package executor

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"scrapesched/internal/job"
	"scrapesched/internal/scrape"
	"scrapesched/internal/store"
	logx "scrapesched/pkg/logx"
)

// Config controls per-attempt execution.
type Config struct {
	// AttemptTimeout bounds a single run attempt. 0 disables the ceiling.
	AttemptTimeout time.Duration
}

// Result is the final outcome of Execute after all retries.
type Result struct {
	Outcome    job.Outcome
	Attempts   int
	StartedAt  time.Time
	FinishedAt time.Time
	Err        error
}

// Executor runs one job occurrence: it resolves output overrides, invokes the
// external run operation, applies the retry policy, appends one history entry
// per attempt, and fires the observational success/failure callback.
//
// It does not touch job status; state transitions belong to the scheduler.
type Executor struct {
	cfg    Config
	runner scrape.Runner
	store  store.Store
	log    logx.Logger
}

func New(cfg Config, runner scrape.Runner, st store.Store, log logx.Logger) *Executor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Executor{cfg: cfg, runner: runner, store: st, log: log}
}

// Execute performs up to maxRetries+1 attempts. Every error from the run
// operation counts as a failed attempt and is retryable; the retry delay
// suspends only this job's execution path and honors ctx cancellation.
func (e *Executor) Execute(ctx context.Context, j *job.Job) Result {
	start := time.Now()
	outputPath := ResolveOutputPath(j.OutputPath, start)
	req := scrape.Request{
		ConfigName:   j.ConfigName,
		OutputFormat: j.OutputFormat,
		OutputPath:   outputPath,
	}

	maxAttempts := 1 + j.MaxRetries
	attempts := 0
	var lastErr error

attemptLoop:
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		attempts = attempt
		attemptStart := time.Now()
		lastErr = e.runAttempt(ctx, req)
		attemptEnd := time.Now()

		entry := job.RunHistoryEntry{
			JobID:      j.ID,
			StartedAt:  attemptStart,
			FinishedAt: attemptEnd,
			Outcome:    job.OutcomeSuccess,
			Attempt:    attempt,
		}
		if lastErr != nil {
			entry.Outcome = job.OutcomeFailure
			entry.Error = lastErr.Error()
		}
		if err := e.store.AppendHistory(ctx, entry); err != nil {
			e.log.Error("history append failed", logx.String("job", j.ID), logx.Err(err))
		}

		if lastErr == nil {
			e.log.Debug("attempt succeeded", logx.String("job", j.ID), logx.Int("attempt", attempt))
			break
		}
		e.log.Warn("attempt failed",
			logx.String("job", j.ID),
			logx.String("config", j.ConfigName),
			logx.Int("attempt", attempt),
			logx.Int("max_attempts", maxAttempts),
			logx.Err(lastErr))

		if attempt >= maxAttempts {
			break
		}
		if j.RetryDelay > 0 {
			tmr := time.NewTimer(j.RetryDelay)
			select {
			case <-ctx.Done():
				if !tmr.Stop() {
					<-tmr.C
				}
				lastErr = ctx.Err()
				break attemptLoop
			case <-tmr.C:
			}
		}
	}

	res := Result{
		Attempts:   attempts,
		StartedAt:  start,
		FinishedAt: time.Now(),
		Err:        lastErr,
	}
	if lastErr == nil {
		res.Outcome = job.OutcomeSuccess
	} else {
		res.Outcome = job.OutcomeFailure
	}

	e.fireCallback(j, res)
	return res
}

func (e *Executor) runAttempt(ctx context.Context, req scrape.Request) (err error) {
	runCtx := ctx
	var cancel func()
	if e.cfg.AttemptTimeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.AttemptTimeout)
		defer cancel()
	}
	// Guard against runner panics: one bad run must not take down a worker.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			e.log.Error("run panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	return e.runner.RunConfiguration(runCtx, req)
}

// ResolveOutputPath substitutes the {date} placeholder with the run's start
// date (ISO YYYY-MM-DD).
func ResolveOutputPath(path string, start time.Time) string {
	if path == "" {
		return ""
	}
	return strings.ReplaceAll(path, "{date}", start.Format("2006-01-02"))
}
