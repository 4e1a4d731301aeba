package store

import (
	"context"
	"errors"
	"time"

	"scrapesched/internal/job"
	logx "scrapesched/pkg/logx"
)

var (
	ErrNotFound  = errors.New("job not found")
	ErrDuplicate = errors.New("job id already exists")
)

// Config configures the persistence layer.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	Status     job.Status
	ConfigName string
}

// RepairReport summarizes a corruption-repair scan.
type RepairReport struct {
	Scanned     int
	Healthy     int
	Quarantined int
}

// SchedulerState is the single-scheduler heartbeat row. It lets CLI
// invocations observe (and signal) a daemonized scheduler without an RPC
// surface.
type SchedulerState struct {
	PID        int
	StartedAt  time.Time
	LastTickAt time.Time
}

// Store is durable keyed storage for job records and their run histories.
//
// Update is the only mutation path for status/history fields and must be
// atomic per record: concurrent updates to the same job may race on
// last-writer-wins but never interleave into a corrupted row.
type Store interface {
	Create(ctx context.Context, j *job.Job) error
	Get(ctx context.Context, id string) (*job.Job, error)
	Update(ctx context.Context, j *job.Job) error
	Delete(ctx context.Context, id string) (bool, error)
	List(ctx context.Context) ([]*job.Job, error)
	Filter(ctx context.Context, f Filter) ([]*job.Job, error)

	// Due returns enabled, non-running jobs whose next run is at or before now.
	Due(ctx context.Context, now time.Time) ([]*job.Job, error)

	AppendHistory(ctx context.Context, e job.RunHistoryEntry) error
	History(ctx context.Context, jobID string, limit int) ([]job.RunHistoryEntry, error)

	// Repair scans all stored records and quarantines unparsable ones.
	// Disaster recovery, not normal operation.
	Repair(ctx context.Context) (RepairReport, error)

	PutSchedulerState(ctx context.Context, st SchedulerState) error
	GetSchedulerState(ctx context.Context) (SchedulerState, bool, error)
	ClearSchedulerState(ctx context.Context) error

	Close() error
}

// Open initializes the sqlite-backed store at cfg.Path.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	return openSQLite(cfg, log)
}
