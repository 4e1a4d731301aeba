package executor

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"scrapesched/internal/job"
	"scrapesched/internal/scrape"
	"scrapesched/internal/store"
	logx "scrapesched/pkg/logx"
)

func openTestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "jobs.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newTestJob(t *testing.T, maxRetries int, retryDelay time.Duration) *job.Job {
	t.Helper()
	j, err := job.New("cfg", job.Daily("09:00"), time.Now())
	if err != nil {
		t.Fatalf("job.New: %v", err)
	}
	j.MaxRetries = maxRetries
	j.RetryDelay = retryDelay
	return j
}

func TestExecuteSuccessFirstAttempt(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	var calls atomic.Int32
	runner := scrape.RunnerFunc(func(ctx context.Context, req scrape.Request) error {
		calls.Add(1)
		return nil
	})
	e := New(Config{}, runner, st, logx.Nop())

	j := newTestJob(t, 3, 0)
	res := e.Execute(context.Background(), j)

	if res.Outcome != job.OutcomeSuccess || res.Attempts != 1 {
		t.Fatalf("res = %+v", res)
	}
	if calls.Load() != 1 {
		t.Fatalf("runner called %d times", calls.Load())
	}
	entries, err := st.History(context.Background(), j.ID, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(entries) != 1 || entries[0].Outcome != job.OutcomeSuccess || entries[0].Attempt != 1 {
		t.Fatalf("history = %+v", entries)
	}
}

func TestExecuteRetriesExhausted(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	boom := errors.New("scrape blew up")
	var calls atomic.Int32
	runner := scrape.RunnerFunc(func(ctx context.Context, req scrape.Request) error {
		calls.Add(1)
		return boom
	})
	e := New(Config{}, runner, st, logx.Nop())

	// maxRetries=2 means one initial attempt plus two retries.
	j := newTestJob(t, 2, 0)
	res := e.Execute(context.Background(), j)

	if res.Outcome != job.OutcomeFailure {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if res.Attempts != 3 || calls.Load() != 3 {
		t.Fatalf("attempts = %d, calls = %d, want 3", res.Attempts, calls.Load())
	}
	if !errors.Is(res.Err, boom) {
		t.Fatalf("err = %v", res.Err)
	}

	entries, err := st.History(context.Background(), j.ID, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("history entries = %d, want 3", len(entries))
	}
	for i, entry := range entries {
		if entry.Outcome != job.OutcomeFailure || entry.Attempt != i+1 || entry.Error == "" {
			t.Fatalf("entry %d = %+v", i, entry)
		}
	}
}

func TestExecuteSucceedsAfterRetries(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	var calls atomic.Int32
	runner := scrape.RunnerFunc(func(ctx context.Context, req scrape.Request) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	})
	e := New(Config{}, runner, st, logx.Nop())

	j := newTestJob(t, 5, 0)
	res := e.Execute(context.Background(), j)

	if res.Outcome != job.OutcomeSuccess || res.Attempts != 3 {
		t.Fatalf("res = %+v", res)
	}
	entries, _ := st.History(context.Background(), j.ID, 0)
	if len(entries) != 3 || entries[2].Outcome != job.OutcomeSuccess {
		t.Fatalf("history = %+v", entries)
	}
}

func TestExecuteRetryDelayHonorsCancellation(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	runner := scrape.RunnerFunc(func(ctx context.Context, req scrape.Request) error {
		return errors.New("always fails")
	})
	e := New(Config{}, runner, st, logx.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	j := newTestJob(t, 5, time.Hour)
	start := time.Now()
	res := e.Execute(ctx, j)

	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("cancellation not honored, took %s", elapsed)
	}
	if res.Outcome != job.OutcomeFailure || res.Attempts != 1 {
		t.Fatalf("res = %+v", res)
	}
}

func TestExecuteRecoversRunnerPanic(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	runner := scrape.RunnerFunc(func(ctx context.Context, req scrape.Request) error {
		panic("scraper lost its mind")
	})
	e := New(Config{}, runner, st, logx.Nop())

	j := newTestJob(t, 0, 0)
	res := e.Execute(context.Background(), j)
	if res.Outcome != job.OutcomeFailure || res.Err == nil {
		t.Fatalf("res = %+v", res)
	}
}

func TestExecutePassesOutputOverrides(t *testing.T) {
	t.Parallel()
	st := openTestStore(t)
	var got scrape.Request
	runner := scrape.RunnerFunc(func(ctx context.Context, req scrape.Request) error {
		got = req
		return nil
	})
	e := New(Config{}, runner, st, logx.Nop())

	j := newTestJob(t, 0, 0)
	j.OutputFormat = "json"
	j.OutputPath = "/data/out-{date}.json"
	e.Execute(context.Background(), j)

	if got.ConfigName != "cfg" || got.OutputFormat != "json" {
		t.Fatalf("request = %+v", got)
	}
	want := "/data/out-" + time.Now().Format("2006-01-02") + ".json"
	if got.OutputPath != want {
		t.Fatalf("OutputPath = %q, want %q", got.OutputPath, want)
	}
}

func TestResolveOutputPath(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		in   string
		want string
	}{
		{in: "", want: ""},
		{in: "/data/out.csv", want: "/data/out.csv"},
		{in: "/data/{date}.csv", want: "/data/2026-03-10.csv"},
		{in: "{date}/{date}.csv", want: "2026-03-10/2026-03-10.csv"},
	}
	for _, tt := range tests {
		if got := ResolveOutputPath(tt.in, at); got != tt.want {
			t.Fatalf("ResolveOutputPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
