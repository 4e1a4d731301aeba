// Package scheduler hosts the control loop: every tick it queries due jobs,
// gates overlap per job, and hands dispatches to a bounded worker pool. It is
// the sole owner of job status transitions.
package scheduler

import (
	"context"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"scrapesched/internal/eventbus"
	"scrapesched/internal/executor"
	"scrapesched/internal/job"
	"scrapesched/internal/runtime/supervisor"
	"scrapesched/internal/store"
	logx "scrapesched/pkg/logx"
)

type dispatch struct {
	job   *job.Job
	state *runState
}

// Service is the scheduler. Zero value is not usable; construct with New.
type Service struct {
	cfg  Config
	st   store.Store
	exec *executor.Executor
	bus  eventbus.Bus
	log  logx.Logger

	mu      sync.Mutex
	running bool
	sup     *supervisor.Supervisor
	queue   chan dispatch
	stopped chan struct{}

	statesMu sync.Mutex
	states   map[string]*runState

	active     atomic.Int64
	dispatched atomic.Uint64
	skipped    atomic.Uint64
	lastTick   atomic.Value // time.Time
	startedAt  atomic.Value // time.Time

	// Throttles queue-full / store-error warnings so a wedged pool doesn't
	// flood the log at tick cadence.
	warnLimit *rate.Limiter
}

func New(cfg Config, st store.Store, exec *executor.Executor, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.New()
	}
	return &Service{
		cfg:       cfg.withDefaults(),
		st:        st,
		exec:      exec,
		bus:       bus,
		log:       log,
		states:    map[string]*runState{},
		warnLimit: rate.NewLimiter(rate.Every(5*time.Second), 2),
	}
}

// Start brings the scheduler up: a recovery pass over jobs stranded by a
// previous crash, then the tick loop and worker pool. Idempotent in the sense
// that a second Start while running returns ErrAlreadyRunning.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}

	if err := s.recoverOrphans(ctx); err != nil {
		return err
	}

	sup := supervisor.New(ctx, supervisor.WithLogger(s.log))
	queue := make(chan dispatch, s.cfg.QueueSize)
	stopped := make(chan struct{})

	// Drop overlap gates left acquired by dispatches that were queued but
	// never ran when a previous Stop abandoned the queue.
	s.statesMu.Lock()
	s.states = map[string]*runState{}
	s.statesMu.Unlock()

	s.sup = sup
	s.queue = queue
	s.stopped = stopped
	s.running = true

	startedAt := time.Now()
	s.startedAt.Store(startedAt)
	if err := s.st.PutSchedulerState(ctx, store.SchedulerState{
		PID:        os.Getpid(),
		StartedAt:  startedAt,
		LastTickAt: startedAt,
	}); err != nil {
		s.log.Warn("scheduler state write failed", logx.Err(err))
	}

	for i := 0; i < s.cfg.Workers; i++ {
		i := i
		sup.GoRestart(workerName(i), func(ctx context.Context) error {
			return s.workerLoop(ctx, queue, stopped)
		})
	}
	sup.GoRestart("scheduler.tick", func(ctx context.Context) error {
		return s.tickLoop(ctx, stopped)
	})

	s.log.Info("scheduler started",
		logx.Duration("tick_interval", s.cfg.TickInterval),
		logx.Int("workers", s.cfg.Workers),
		logx.Int("queue_size", s.cfg.QueueSize))
	return nil
}

// Stop shuts the scheduler down. Graceful stop closes intake and waits for
// in-flight executions; force additionally cancels their contexts. Both waits
// are bounded by StopTimeout (and by ctx).
func (s *Service) Stop(ctx context.Context, force bool) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	sup := s.sup
	stopped := s.stopped
	s.running = false
	s.mu.Unlock()

	close(stopped)
	if force {
		sup.Cancel()
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.StopTimeout)
	defer cancel()
	err := sup.Wait(waitCtx)
	if err != nil {
		// Deadline hit with runs still in flight: cancel and give them a
		// moment to unwind before giving up for real.
		sup.Cancel()
		finalCtx, cancelFinal := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancelFinal()
		err = sup.Wait(finalCtx)
	}

	if clearErr := s.st.ClearSchedulerState(context.Background()); clearErr != nil {
		s.log.Warn("scheduler state clear failed", logx.Err(clearErr))
	}
	s.log.Info("scheduler stopped", logx.Bool("force", force))
	return err
}

func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Status returns a point-in-time snapshot for operator inspection.
func (s *Service) Status() Snapshot {
	snap := Snapshot{
		Running:    s.IsRunning(),
		ActiveJobs: int(s.active.Load()),
		Dispatched: s.dispatched.Load(),
		Skipped:    s.skipped.Load(),
	}
	if v := s.lastTick.Load(); v != nil {
		snap.LastTickAt = v.(time.Time)
	}
	return snap
}

func (s *Service) tickLoop(ctx context.Context, stopped <-chan struct{}) error {
	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	// First tick fires immediately so jobs already past due (including ones
	// that became due while the scheduler was down) don't wait a full interval.
	s.tick(ctx, time.Now())

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-stopped:
			return nil
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

// tick runs one pass: heartbeat, due query, dispatch. Storage trouble is
// logged and the pass abandoned; the next tick starts fresh.
func (s *Service) tick(ctx context.Context, now time.Time) {
	s.lastTick.Store(now)
	started, _ := s.startedAt.Load().(time.Time)
	if err := s.st.PutSchedulerState(ctx, store.SchedulerState{
		PID:        os.Getpid(),
		StartedAt:  started,
		LastTickAt: now,
	}); err != nil && s.warnLimit.Allow() {
		s.log.Warn("heartbeat write failed", logx.Err(err))
	}

	due, err := s.dueWithRetry(ctx, now)
	if err != nil {
		if s.warnLimit.Allow() {
			s.log.Error("due query failed, skipping tick", logx.Err(err))
		}
		return
	}

	for _, j := range due {
		st := s.stateFor(j.ID)
		if !st.tryAcquire() {
			// Previous occurrence still in flight; this one is skipped, not
			// queued behind it.
			s.skipped.Add(1)
			s.bus.Publish(eventbus.Event{Type: eventbus.TypeSkipped, JobID: j.ID})
			s.log.Debug("overlap skip", logx.String("job", j.ID), logx.String("config", j.ConfigName))
			continue
		}
		select {
		case s.queue <- dispatch{job: j, state: st}:
			s.dispatched.Add(1)
		default:
			st.release()
			s.skipped.Add(1)
			s.bus.Publish(eventbus.Event{Type: eventbus.TypeSkipped, JobID: j.ID, Error: ErrQueueFull.Error()})
			if s.warnLimit.Allow() {
				s.log.Warn("dispatch queue full, job deferred to next tick",
					logx.String("job", j.ID),
					logx.Int("queue_size", s.cfg.QueueSize))
			}
		}
	}

	s.refreshDisabled(ctx, now)
}

// refreshDisabled keeps nextRun current on disabled recurring jobs so that
// re-enabling resumes from the proper upcoming occurrence instead of firing
// immediately for every missed one.
func (s *Service) refreshDisabled(ctx context.Context, now time.Time) {
	jobs, err := s.st.List(ctx)
	if err != nil {
		if s.warnLimit.Allow() {
			s.log.Warn("disabled refresh list failed", logx.Err(err))
		}
		return
	}
	for _, j := range jobs {
		if j.Enabled || j.Schedule.Kind == job.KindOnce {
			continue
		}
		if j.NextRun != nil && j.NextRun.After(now) {
			continue
		}
		j.RecomputeNextRun(now)
		j.Touch(now)
		if err := s.st.Update(ctx, j); err != nil && s.warnLimit.Allow() {
			s.log.Warn("disabled refresh update failed", logx.String("job", j.ID), logx.Err(err))
		}
	}
}

func (s *Service) stateFor(id string) *runState {
	s.statesMu.Lock()
	defer s.statesMu.Unlock()
	st, ok := s.states[id]
	if !ok {
		st = &runState{}
		s.states[id] = st
	}
	return st
}

// dueWithRetry retries the due query a bounded number of times within a tick.
func (s *Service) dueWithRetry(ctx context.Context, now time.Time) ([]*job.Job, error) {
	var (
		due []*job.Job
		err error
	)
	for attempt := 0; attempt <= s.cfg.StoreRetryMax; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(100 * time.Millisecond):
			}
		}
		due, err = s.st.Due(ctx, now)
		if err == nil {
			return due, nil
		}
	}
	return nil, err
}

// updateWithRetry applies a status transition with bounded retries. A job
// whose transition cannot be persisted is not executed.
func (s *Service) updateWithRetry(ctx context.Context, j *job.Job) error {
	var err error
	for attempt := 0; attempt <= s.cfg.StoreRetryMax; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(100 * time.Millisecond):
			}
		}
		if err = s.st.Update(ctx, j); err == nil {
			return nil
		}
	}
	return err
}

func workerName(i int) string {
	return "scheduler.worker." + strconv.Itoa(i)
}
