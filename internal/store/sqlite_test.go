package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"scrapesched/internal/job"
	logx "scrapesched/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Path: filepath.Join(t.TempDir(), "jobs.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func testJob(t *testing.T, configName string) *job.Job {
	t.Helper()
	j, err := job.New(configName, job.Daily("09:00"), time.Now())
	if err != nil {
		t.Fatalf("job.New: %v", err)
	}
	return j
}

func TestCreateGetRoundTrip(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	now := time.Now()
	last := now.Add(-time.Hour)
	j, err := job.New("news", job.Weekly(0, "10:30"), now)
	if err != nil {
		t.Fatalf("job.New: %v", err)
	}
	j.Description = "weekly news pull"
	j.OutputFormat = "csv"
	j.OutputPath = "/data/news-{date}.csv"
	j.MaxRetries = 3
	j.RetryDelay = 45 * time.Second
	j.OnSuccess = "notify-send ok"
	j.OnFailure = "notify-send fail"
	j.LastRun = &last

	if err := st.Create(ctx, j); err != nil {
		t.Fatalf("Create: %v", err)
	}
	got, err := st.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if got.ID != j.ID || got.ConfigName != j.ConfigName || got.Description != j.Description ||
		got.OutputFormat != j.OutputFormat || got.OutputPath != j.OutputPath ||
		got.MaxRetries != j.MaxRetries || got.RetryDelay != j.RetryDelay ||
		got.OnSuccess != j.OnSuccess || got.OnFailure != j.OnFailure ||
		got.Enabled != j.Enabled || got.Status != j.Status {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, j)
	}
	if got.Schedule != j.Schedule {
		t.Fatalf("schedule mismatch: %+v vs %+v", got.Schedule, j.Schedule)
	}
	if got.LastRun == nil || !got.LastRun.Equal(last) {
		t.Fatalf("LastRun = %v, want %v", got.LastRun, last)
	}
	if got.NextRun == nil || !got.NextRun.Equal(*j.NextRun) {
		t.Fatalf("NextRun = %v, want %v", got.NextRun, j.NextRun)
	}
	if !got.CreatedAt.Equal(j.CreatedAt) || !got.UpdatedAt.Equal(j.UpdatedAt) {
		t.Fatalf("timestamps mismatch: %v/%v vs %v/%v", got.CreatedAt, got.UpdatedAt, j.CreatedAt, j.UpdatedAt)
	}
}

func TestCreateDuplicate(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	j := testJob(t, "dup")
	if err := st.Create(ctx, j); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := st.Create(ctx, j); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("want ErrDuplicate, got %v", err)
	}
}

func TestGetNotFound(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	if _, err := st.Get(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestUpdate(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	j := testJob(t, "upd")
	if err := st.Create(ctx, j); err != nil {
		t.Fatalf("Create: %v", err)
	}

	j.Status = job.StatusRunning
	j.Description = "now running"
	j.Touch(time.Now().Add(time.Second))
	if err := st.Update(ctx, j); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, err := st.Get(ctx, j.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != job.StatusRunning || got.Description != "now running" {
		t.Fatalf("update not applied: %+v", got)
	}

	ghost := testJob(t, "ghost")
	if err := st.Update(ctx, ghost); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestDeleteRemovesHistory(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	j := testJob(t, "del")
	if err := st.Create(ctx, j); err != nil {
		t.Fatalf("Create: %v", err)
	}
	now := time.Now()
	if err := st.AppendHistory(ctx, job.RunHistoryEntry{
		JobID: j.ID, StartedAt: now, FinishedAt: now, Outcome: job.OutcomeSuccess, Attempt: 1,
	}); err != nil {
		t.Fatalf("AppendHistory: %v", err)
	}

	deleted, err := st.Delete(ctx, j.ID)
	if err != nil || !deleted {
		t.Fatalf("Delete = %v, %v", deleted, err)
	}
	entries, err := st.History(ctx, j.ID, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("history not deleted with job: %d entries", len(entries))
	}

	deleted, err = st.Delete(ctx, j.ID)
	if err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if deleted {
		t.Fatal("second delete reported a deletion")
	}
}

func TestFilter(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	a := testJob(t, "alpha")
	b := testJob(t, "beta")
	b.Status = job.StatusFailed
	for _, j := range []*job.Job{a, b} {
		if err := st.Create(ctx, j); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	got, err := st.Filter(ctx, Filter{Status: job.StatusFailed})
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if len(got) != 1 || got[0].ID != b.ID {
		t.Fatalf("status filter: got %d jobs", len(got))
	}

	got, err = st.Filter(ctx, Filter{ConfigName: "alpha"})
	if err != nil {
		t.Fatalf("Filter: %v", err)
	}
	if len(got) != 1 || got[0].ID != a.ID {
		t.Fatalf("config filter: got %d jobs", len(got))
	}
}

func TestDue(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	due := testJob(t, "due")
	due.NextRun = &past

	notYet := testJob(t, "notyet")
	notYet.NextRun = &future

	disabled := testJob(t, "disabled")
	disabled.NextRun = &past
	disabled.Enabled = false

	running := testJob(t, "running")
	running.NextRun = &past
	running.Status = job.StatusRunning

	for _, j := range []*job.Job{due, notYet, disabled, running} {
		if err := st.Create(ctx, j); err != nil {
			t.Fatalf("Create %s: %v", j.ConfigName, err)
		}
	}

	got, err := st.Due(ctx, now)
	if err != nil {
		t.Fatalf("Due: %v", err)
	}
	if len(got) != 1 || got[0].ID != due.ID {
		ids := make([]string, 0, len(got))
		for _, j := range got {
			ids = append(ids, j.ConfigName)
		}
		t.Fatalf("Due returned %v, want just [due]", ids)
	}
}

func TestHistoryLimitAndOrder(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	j := testJob(t, "hist")
	if err := st.Create(ctx, j); err != nil {
		t.Fatalf("Create: %v", err)
	}
	base := time.Now()
	for i := 1; i <= 5; i++ {
		entry := job.RunHistoryEntry{
			JobID:      j.ID,
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
			FinishedAt: base.Add(time.Duration(i)*time.Minute + time.Second),
			Outcome:    job.OutcomeFailure,
			Attempt:    i,
			Error:      fmt.Sprintf("boom %d", i),
		}
		if err := st.AppendHistory(ctx, entry); err != nil {
			t.Fatalf("AppendHistory %d: %v", i, err)
		}
	}

	got, err := st.History(ctx, j.ID, 3)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	// Most recent three, oldest-first.
	for i, want := range []int{3, 4, 5} {
		if got[i].Attempt != want {
			t.Fatalf("entry %d attempt = %d, want %d", i, got[i].Attempt, want)
		}
	}
	if got[0].Error != "boom 3" {
		t.Fatalf("error summary = %q", got[0].Error)
	}
}

func TestSchedulerState(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	if _, ok, err := st.GetSchedulerState(ctx); err != nil || ok {
		t.Fatalf("empty state: ok=%v err=%v", ok, err)
	}

	want := SchedulerState{PID: 4242, StartedAt: time.Now(), LastTickAt: time.Now().Add(time.Second)}
	if err := st.PutSchedulerState(ctx, want); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok, err := st.GetSchedulerState(ctx)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.PID != want.PID || !got.StartedAt.Equal(want.StartedAt) || !got.LastTickAt.Equal(want.LastTickAt) {
		t.Fatalf("state mismatch: %+v vs %+v", got, want)
	}

	// Upsert overwrites the singleton row.
	want.PID = 5151
	if err := st.PutSchedulerState(ctx, want); err != nil {
		t.Fatalf("Put again: %v", err)
	}
	got, _, _ = st.GetSchedulerState(ctx)
	if got.PID != 5151 {
		t.Fatalf("PID = %d after upsert", got.PID)
	}

	if err := st.ClearSchedulerState(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, ok, _ := st.GetSchedulerState(ctx); ok {
		t.Fatal("state survived Clear")
	}
}

func TestRepairQuarantinesBadRows(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	ctx := context.Background()

	healthy := testJob(t, "healthy")
	if err := st.Create(ctx, healthy); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Corrupt rows written behind the API's back.
	raw := st.(*sqliteStore)
	now := time.Now().UnixNano()
	if _, err := raw.db.Exec(
		`INSERT INTO jobs(id, config_name, schedule, max_retries, retry_delay_seconds, enabled, status, created_at, updated_at)
		 VALUES('bad-json', 'x', '{not json', 0, 0, 1, 'pending', ?, ?)`, now, now); err != nil {
		t.Fatalf("insert bad-json: %v", err)
	}
	if _, err := raw.db.Exec(
		`INSERT INTO jobs(id, config_name, schedule, max_retries, retry_delay_seconds, enabled, status, created_at, updated_at)
		 VALUES('bad-status', 'x', '{"kind":"daily","time":"09:00"}', 0, 0, 1, 'exploded', ?, ?)`, now, now); err != nil {
		t.Fatalf("insert bad-status: %v", err)
	}

	rep, err := st.Repair(ctx)
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if rep.Scanned != 3 || rep.Healthy != 1 || rep.Quarantined != 2 {
		t.Fatalf("report = %+v", rep)
	}

	// Healthy record untouched, bad ones gone from the main table.
	if _, err := st.Get(ctx, healthy.ID); err != nil {
		t.Fatalf("healthy job lost: %v", err)
	}
	if _, err := st.Get(ctx, "bad-json"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("bad-json still present: %v", err)
	}

	var n int
	if err := raw.db.QueryRow(`SELECT COUNT(*) FROM jobs_quarantine`).Scan(&n); err != nil {
		t.Fatalf("count quarantine: %v", err)
	}
	if n != 2 {
		t.Fatalf("quarantine rows = %d, want 2", n)
	}
}
