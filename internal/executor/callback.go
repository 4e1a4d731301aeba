package executor

import (
	"os"
	"os/exec"
	"strings"

	"scrapesched/internal/job"
	logx "scrapesched/pkg/logx"
)

// fireCallback spawns the configured onSuccess/onFailure command for the
// final outcome. Callbacks are strictly observational: they run detached from
// the job's context, and a non-zero exit is logged but never changes the
// job's own outcome.
func (e *Executor) fireCallback(j *job.Job, res Result) {
	var line string
	if res.Outcome == job.OutcomeSuccess {
		line = j.OnSuccess
	} else {
		line = j.OnFailure
	}
	if strings.TrimSpace(line) == "" {
		return
	}

	cmd := exec.Command("/bin/sh", "-c", line)
	cmd.Env = append(os.Environ(),
		"SCRAPESCHED_JOB_ID="+j.ID,
		"SCRAPESCHED_JOB_CONFIG="+j.ConfigName,
		"SCRAPESCHED_JOB_OUTCOME="+string(res.Outcome),
		"SCRAPESCHED_JOB_ERROR="+errSummary(res.Err),
	)
	if err := cmd.Start(); err != nil {
		e.log.Warn("callback spawn failed", logx.String("job", j.ID), logx.Err(err))
		return
	}
	e.log.Debug("callback spawned", logx.String("job", j.ID), logx.String("outcome", string(res.Outcome)))

	go func() {
		if err := cmd.Wait(); err != nil {
			e.log.Warn("callback exited non-zero", logx.String("job", j.ID), logx.Err(err))
		}
	}()
}

func errSummary(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
