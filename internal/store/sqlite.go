package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"scrapesched/internal/job"
	logx "scrapesched/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("store path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers. A single connection
	// also serializes Update calls for the same job id (no lost updates).
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const jobColumns = `id, config_name, schedule, description, output_format, output_path,
	max_retries, retry_delay_seconds, on_success, on_failure, enabled, status,
	last_run, next_run, created_at, updated_at`

func (s *sqliteStore) Create(ctx context.Context, j *job.Job) error {
	if err := j.Validate(); err != nil {
		return err
	}
	sched, err := json.Marshal(j.Schedule)
	if err != nil {
		return fmt.Errorf("encode schedule: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs(`+jobColumns+`)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		j.ID, j.ConfigName, string(sched), nullStr(j.Description),
		nullStr(j.OutputFormat), nullStr(j.OutputPath),
		j.MaxRetries, int64(j.RetryDelay/time.Second),
		nullStr(j.OnSuccess), nullStr(j.OnFailure),
		boolInt(j.Enabled), string(j.Status),
		nullTime(j.LastRun), nullTime(j.NextRun),
		j.CreatedAt.UnixNano(), j.UpdatedAt.UnixNano(),
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint") {
		return fmt.Errorf("%w: %s", ErrDuplicate, j.ID)
	}
	return err
}

func (s *sqliteStore) Get(ctx context.Context, id string) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return j, err
}

func (s *sqliteStore) Update(ctx context.Context, j *job.Job) error {
	if err := j.Validate(); err != nil {
		return err
	}
	sched, err := json.Marshal(j.Schedule)
	if err != nil {
		return fmt.Errorf("encode schedule: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET config_name=?, schedule=?, description=?, output_format=?,
		 output_path=?, max_retries=?, retry_delay_seconds=?, on_success=?,
		 on_failure=?, enabled=?, status=?, last_run=?, next_run=?, updated_at=?
		 WHERE id=?`,
		j.ConfigName, string(sched), nullStr(j.Description),
		nullStr(j.OutputFormat), nullStr(j.OutputPath),
		j.MaxRetries, int64(j.RetryDelay/time.Second),
		nullStr(j.OnSuccess), nullStr(j.OnFailure),
		boolInt(j.Enabled), string(j.Status),
		nullTime(j.LastRun), nullTime(j.NextRun),
		j.UpdatedAt.UnixNano(),
		j.ID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, j.ID)
	}
	return nil
}

func (s *sqliteStore) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		// History is owned by the job; drop it with the record.
		_, _ = s.db.ExecContext(ctx, `DELETE FROM job_history WHERE job_id = ?`, id)
	}
	return n > 0, nil
}

func (s *sqliteStore) List(ctx context.Context) ([]*job.Job, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at`)
}

func (s *sqliteStore) Filter(ctx context.Context, f Filter) ([]*job.Job, error) {
	q := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	args := []any{}
	if f.Status != "" {
		q += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.ConfigName != "" {
		q += ` AND config_name = ?`
		args = append(args, f.ConfigName)
	}
	q += ` ORDER BY created_at`
	return s.queryJobs(ctx, q, args...)
}

func (s *sqliteStore) Due(ctx context.Context, now time.Time) ([]*job.Job, error) {
	return s.queryJobs(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE enabled = 1 AND status != ? AND next_run IS NOT NULL AND next_run <= ?
		 ORDER BY next_run`,
		string(job.StatusRunning), now.UnixNano(),
	)
}

func (s *sqliteStore) queryJobs(ctx context.Context, q string, args ...any) ([]*job.Job, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			// A single unparsable row must not hide the rest; surface it in
			// logs and let Repair() deal with it.
			s.log.Warn("skipping unreadable job row", logx.Err(err))
			continue
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendHistory(ctx context.Context, e job.RunHistoryEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_history(job_id, started_at, finished_at, outcome, attempt, error)
		 VALUES(?,?,?,?,?,?)`,
		e.JobID, e.StartedAt.UnixNano(), e.FinishedAt.UnixNano(),
		string(e.Outcome), e.Attempt, nullStr(e.Error),
	)
	return err
}

func (s *sqliteStore) History(ctx context.Context, jobID string, limit int) ([]job.RunHistoryEntry, error) {
	q := `SELECT job_id, started_at, finished_at, outcome, attempt, error
	      FROM job_history WHERE job_id = ? ORDER BY seq`
	args := []any{jobID}
	if limit > 0 {
		// Most recent entries, still returned oldest-first.
		q = `SELECT job_id, started_at, finished_at, outcome, attempt, error FROM (
		       SELECT seq, job_id, started_at, finished_at, outcome, attempt, error
		       FROM job_history WHERE job_id = ? ORDER BY seq DESC LIMIT ?
		     ) ORDER BY seq`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []job.RunHistoryEntry
	for rows.Next() {
		var (
			e          job.RunHistoryEntry
			started    int64
			finished   int64
			outcome    string
			errSummary sql.NullString
		)
		if err := rows.Scan(&e.JobID, &started, &finished, &outcome, &e.Attempt, &errSummary); err != nil {
			return nil, err
		}
		e.StartedAt = time.Unix(0, started)
		e.FinishedAt = time.Unix(0, finished)
		e.Outcome = job.Outcome(outcome)
		e.Error = errSummary.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) PutSchedulerState(ctx context.Context, st SchedulerState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduler_state(k, pid, started_at, last_tick_at) VALUES(1,?,?,?)
		 ON CONFLICT(k) DO UPDATE SET pid=excluded.pid, started_at=excluded.started_at,
		 last_tick_at=excluded.last_tick_at`,
		st.PID, st.StartedAt.UnixNano(), nullTime(&st.LastTickAt),
	)
	return err
}

func (s *sqliteStore) GetSchedulerState(ctx context.Context) (SchedulerState, bool, error) {
	var (
		st       SchedulerState
		started  int64
		lastTick sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT pid, started_at, last_tick_at FROM scheduler_state WHERE k = 1`,
	).Scan(&st.PID, &started, &lastTick)
	if errors.Is(err, sql.ErrNoRows) {
		return SchedulerState{}, false, nil
	}
	if err != nil {
		return SchedulerState{}, false, err
	}
	st.StartedAt = time.Unix(0, started)
	if lastTick.Valid {
		st.LastTickAt = time.Unix(0, lastTick.Int64)
	}
	return st, true, nil
}

func (s *sqliteStore) ClearSchedulerState(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM scheduler_state WHERE k = 1`)
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*job.Job, error) {
	var (
		j           job.Job
		sched       string
		description sql.NullString
		outFormat   sql.NullString
		outPath     sql.NullString
		retrySecs   int64
		onSuccess   sql.NullString
		onFailure   sql.NullString
		enabled     int
		status      string
		lastRun     sql.NullInt64
		nextRun     sql.NullInt64
		createdAt   int64
		updatedAt   int64
	)
	err := row.Scan(&j.ID, &j.ConfigName, &sched, &description, &outFormat, &outPath,
		&j.MaxRetries, &retrySecs, &onSuccess, &onFailure, &enabled, &status,
		&lastRun, &nextRun, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(sched), &j.Schedule); err != nil {
		return nil, fmt.Errorf("job %s: decode schedule: %w", j.ID, err)
	}
	j.Description = description.String
	j.OutputFormat = outFormat.String
	j.OutputPath = outPath.String
	j.RetryDelay = time.Duration(retrySecs) * time.Second
	j.OnSuccess = onSuccess.String
	j.OnFailure = onFailure.String
	j.Enabled = enabled != 0
	j.Status = job.Status(status)
	if lastRun.Valid {
		t := time.Unix(0, lastRun.Int64)
		j.LastRun = &t
	}
	if nextRun.Valid {
		t := time.Unix(0, nextRun.Int64)
		j.NextRun = &t
	}
	j.CreatedAt = time.Unix(0, createdAt)
	j.UpdatedAt = time.Unix(0, updatedAt)
	return &j, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func nullTime(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.UnixNano()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
