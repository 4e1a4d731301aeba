package scheduler

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrAlreadyRunning = errors.New("scheduler already running")
	ErrNotRunning     = errors.New("scheduler not running")
	ErrQueueFull      = errors.New("dispatch queue full")
)

// Config controls the scheduler control loop.
type Config struct {
	// TickInterval is the polling cadence of the control loop.
	TickInterval time.Duration

	// Workers bounds concurrent job executions.
	Workers   int
	QueueSize int

	// StopTimeout bounds how long Stop(force=true) waits for in-flight runs
	// to observe cancellation.
	StopTimeout time.Duration

	// StoreRetryMax bounds retries of a failed store operation within one
	// tick before the job is skipped until the next tick.
	StoreRetryMax int
}

func (c Config) withDefaults() Config {
	if c.TickInterval <= 0 {
		c.TickInterval = 5 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 10 * time.Second
	}
	if c.StoreRetryMax <= 0 {
		c.StoreRetryMax = 2
	}
	return c
}

// Snapshot is a point-in-time view for `scheduler status`.
type Snapshot struct {
	Running    bool
	ActiveJobs int
	LastTickAt time.Time
	Dispatched uint64
	Skipped    uint64
}

// runState gates overlap per job id: at most one execution in flight,
// counting queued-but-not-started dispatches so a fast tick cadence cannot
// blow up the queue with duplicates.
type runState struct {
	mu       sync.Mutex
	inflight bool
}

func (s *runState) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight {
		return false
	}
	s.inflight = true
	return true
}

func (s *runState) release() {
	s.mu.Lock()
	s.inflight = false
	s.mu.Unlock()
}
