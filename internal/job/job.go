package job

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the job state machine's state. Transitions:
//
//	pending -> running    (dispatch: due, enabled, not already running)
//	running -> completed  (attempt succeeded)
//	running -> failed     (all retries exhausted)
//
// completed/failed are resting states only for once jobs; recurring jobs flip
// back to pending with a freshly computed next run immediately after the
// outcome is recorded. There is no path into completed/failed that does not
// pass through running.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Outcome of a single execution attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// RunHistoryEntry is an append-only record of one execution attempt.
// Entries are never mutated after creation.
type RunHistoryEntry struct {
	JobID      string    `json:"job_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Outcome    Outcome   `json:"outcome"`
	Attempt    int       `json:"attempt"`
	Error      string    `json:"error,omitempty"`
}

// Job is the persistent scheduling entity. The store is the sole writer of
// durable state; scheduler and executor mutate only status, timestamps and
// history, and only through store.Update / store.AppendHistory.
type Job struct {
	ID          string       `json:"id"`
	ConfigName  string       `json:"config_name"`
	Schedule    ScheduleSpec `json:"schedule"`
	Description string       `json:"description,omitempty"`

	// Optional export overrides passed through to the run operation.
	// OutputPath may contain a {date} placeholder resolved at execution time.
	OutputFormat string `json:"output_format,omitempty"`
	OutputPath   string `json:"output_path,omitempty"`

	MaxRetries int           `json:"max_retries"`
	RetryDelay time.Duration `json:"retry_delay"`

	// External commands fired after the final outcome. Observational only:
	// their exit codes never change the job's own outcome.
	OnSuccess string `json:"on_success,omitempty"`
	OnFailure string `json:"on_failure,omitempty"`

	Enabled bool   `json:"enabled"`
	Status  Status `json:"status"`

	LastRun *time.Time `json:"last_run,omitempty"`
	NextRun *time.Time `json:"next_run,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// New builds a pending, enabled job with a fresh id and an initial next run
// computed from now. The spec is validated eagerly (InvalidScheduleError).
func New(configName string, spec ScheduleSpec, now time.Time) (*Job, error) {
	j := &Job{
		ID:         uuid.NewString(),
		ConfigName: configName,
		Schedule:   spec,
		Enabled:    true,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := j.Validate(); err != nil {
		return nil, err
	}
	j.RecomputeNextRun(now)
	return j, nil
}

// Validate checks invariants enforced at create/update time.
func (j *Job) Validate() error {
	if strings.TrimSpace(j.ID) == "" {
		return errors.New("job id is required")
	}
	if strings.TrimSpace(j.ConfigName) == "" {
		return errors.New("config name is required")
	}
	if j.MaxRetries < 0 {
		return fmt.Errorf("max retries must be >= 0, got %d", j.MaxRetries)
	}
	if j.RetryDelay < 0 {
		return fmt.Errorf("retry delay must be >= 0, got %s", j.RetryDelay)
	}
	if !j.Status.Valid() {
		return fmt.Errorf("unknown status %q", j.Status)
	}
	return j.Schedule.Validate()
}

// Due reports whether the scheduler's dispatch predicate holds at now.
func (j *Job) Due(now time.Time) bool {
	return j.Enabled && j.Status != StatusRunning && j.NextRun != nil && !j.NextRun.After(now)
}

// RecomputeNextRun refreshes NextRun from the schedule. A once schedule whose
// instant has passed yields a nil NextRun (nothing further to fire).
func (j *Job) RecomputeNextRun(from time.Time) {
	if next, ok := j.Schedule.NextRun(from); ok {
		j.NextRun = &next
		return
	}
	j.NextRun = nil
}

// Touch bumps UpdatedAt, keeping it monotonically non-decreasing even if the
// wall clock stepped backwards.
func (j *Job) Touch(now time.Time) {
	if now.After(j.UpdatedAt) {
		j.UpdatedAt = now
	}
}

// Recurring reports whether the schedule can produce further occurrences
// after the given instant.
func (j *Job) Recurring(after time.Time) bool {
	_, ok := j.Schedule.NextRun(after)
	return ok
}

// Clone returns a deep copy so callers can mutate without aliasing the
// store's view of the record.
func (j *Job) Clone() *Job {
	cp := *j
	if j.LastRun != nil {
		t := *j.LastRun
		cp.LastRun = &t
	}
	if j.NextRun != nil {
		t := *j.NextRun
		cp.NextRun = &t
	}
	return &cp
}
