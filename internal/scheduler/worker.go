package scheduler

import (
	"context"
	"time"

	"scrapesched/internal/eventbus"
	"scrapesched/internal/executor"
	"scrapesched/internal/job"
	logx "scrapesched/pkg/logx"
)

func (s *Service) workerLoop(ctx context.Context, queue <-chan dispatch, stopped <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-stopped:
			// Graceful stop: drain nothing further, leave queued dispatches
			// behind. Their runState stays acquired until release below never
			// happens, but the whole Service is being torn down with them.
			return nil
		case d := <-queue:
			s.runJob(ctx, d)
		}
	}
}

// runJob owns a single occurrence end to end: the pending->running
// transition, execution with retries, and the terminal transition back out.
func (s *Service) runJob(ctx context.Context, d dispatch) {
	defer d.state.release()

	s.active.Add(1)
	defer s.active.Add(-1)

	j := d.job
	now := time.Now()
	j.Status = job.StatusRunning
	j.Touch(now)
	if err := s.updateWithRetry(ctx, j); err != nil {
		// Can't record the transition, so don't run: the durable record is
		// the source of truth and must never lag reality in this direction.
		s.log.Error("running transition failed, execution skipped",
			logx.String("job", j.ID), logx.Err(err))
		return
	}

	s.bus.Publish(eventbus.Event{Type: eventbus.TypeDispatched, JobID: j.ID})
	s.log.Info("job dispatched",
		logx.String("job", j.ID),
		logx.String("config", j.ConfigName),
		logx.String("schedule", string(j.Schedule.Kind)))

	res := s.exec.Execute(ctx, j)
	s.finalize(ctx, j, res)
}

// finalize records the outcome and, for recurring schedules, flips the job
// back to pending with a freshly computed next run. Once jobs rest in their
// terminal state with next run cleared.
func (s *Service) finalize(ctx context.Context, j *job.Job, res executor.Result) {
	now := res.FinishedAt
	start := res.StartedAt
	j.LastRun = &start
	j.NextRun = nil
	if res.Outcome == job.OutcomeSuccess {
		j.Status = job.StatusCompleted
	} else {
		j.Status = job.StatusFailed
	}
	j.Touch(now)
	if err := s.updateWithRetry(ctx, j); err != nil {
		s.log.Error("outcome transition failed", logx.String("job", j.ID), logx.Err(err))
		return
	}

	if res.Outcome == job.OutcomeSuccess {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeCompleted, JobID: j.ID, Attempts: res.Attempts})
		s.log.Info("job completed",
			logx.String("job", j.ID),
			logx.Int("attempts", res.Attempts),
			logx.Duration("took", res.FinishedAt.Sub(res.StartedAt)))
	} else {
		s.bus.Publish(eventbus.Event{
			Type:     eventbus.TypeFailed,
			JobID:    j.ID,
			Attempts: res.Attempts,
			Error:    errString(res.Err),
		})
		s.log.Error("job failed",
			logx.String("job", j.ID),
			logx.Int("attempts", res.Attempts),
			logx.Err(res.Err))
	}

	// Failure does not stop a recurring schedule: the next occurrence is
	// computed from the finish instant either way.
	if next, ok := j.Schedule.NextRun(now); ok {
		j.Status = job.StatusPending
		j.NextRun = &next
		j.Touch(now)
		if err := s.updateWithRetry(ctx, j); err != nil {
			s.log.Error("reschedule failed", logx.String("job", j.ID), logx.Err(err))
			return
		}
		s.log.Debug("job rescheduled", logx.String("job", j.ID), logx.Time("next_run", next))
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
