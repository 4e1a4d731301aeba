package scheduler

import (
	"context"
	"fmt"
	"time"

	"scrapesched/internal/eventbus"
	"scrapesched/internal/job"
	logx "scrapesched/pkg/logx"
)

// recoverOrphans handles jobs stranded in running by a crash: the process
// that owned them is gone, so each gets a synthetic failed history entry and
// goes back to pending. A next run already in the past is deliberately left
// alone so the first tick dispatches it once.
func (s *Service) recoverOrphans(ctx context.Context) error {
	jobs, err := s.st.List(ctx)
	if err != nil {
		return fmt.Errorf("recovery scan: %w", err)
	}

	now := time.Now()
	recovered := 0
	for _, j := range jobs {
		if j.Status != job.StatusRunning {
			continue
		}

		startedAt := now
		if j.LastRun != nil {
			startedAt = *j.LastRun
		}
		entry := job.RunHistoryEntry{
			JobID:      j.ID,
			StartedAt:  startedAt,
			FinishedAt: now,
			Outcome:    job.OutcomeFailure,
			Attempt:    1,
			Error:      "interrupted: scheduler terminated mid-run",
		}
		if err := s.st.AppendHistory(ctx, entry); err != nil {
			s.log.Error("recovery history append failed", logx.String("job", j.ID), logx.Err(err))
		}

		j.Status = job.StatusPending
		if j.NextRun == nil {
			j.RecomputeNextRun(now)
		}
		j.Touch(now)
		if err := s.st.Update(ctx, j); err != nil {
			return fmt.Errorf("recovery update %s: %w", j.ID, err)
		}

		recovered++
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeRecovered, JobID: j.ID})
		s.log.Warn("recovered orphaned job",
			logx.String("job", j.ID),
			logx.String("config", j.ConfigName))
	}

	if recovered > 0 {
		s.log.Info("crash recovery complete", logx.Int("recovered", recovered))
	}
	return nil
}
