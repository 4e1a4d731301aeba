package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestGoCapturesPanic(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	s.Go("boom", func(ctx context.Context) error {
		panic("kaput")
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := s.Wait(ctx)
	if err == nil {
		t.Fatal("panic not surfaced as error")
	}
}

func TestGoReportsFirstError(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	first := errors.New("first failure")
	s.Go("fails", func(ctx context.Context) error { return first })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Wait(ctx); !errors.Is(err, first) {
		t.Fatalf("err = %v, want %v", err, first)
	}
}

func TestStopCancelsContext(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	started := make(chan struct{})
	s.Go("loop", func(ctx context.Context) error {
		close(started)
		<-ctx.Done()
		return nil
	})
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestGoRestartRestartsOnError(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	runs := make(chan struct{}, 8)
	s.GoRestart("flaky", func(ctx context.Context) error {
		runs <- struct{}{}
		return errors.New("transient")
	})

	for i := 0; i < 2; i++ {
		select {
		case <-runs:
		case <-time.After(10 * time.Second):
			t.Fatalf("run %d never happened", i+1)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.Stop(ctx)
}

func TestGoRestartExitsCleanOnCancel(t *testing.T) {
	t.Parallel()
	s := New(context.Background())
	s.GoRestart("loop", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop after cancel: %v", err)
	}
}
