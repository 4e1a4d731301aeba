package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"scrapesched/internal/app"
	"scrapesched/internal/job"
	"scrapesched/internal/store"
)

func jobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Manage scraping jobs",
	}
	cmd.AddCommand(jobCreateCmd())
	cmd.AddCommand(jobListCmd())
	cmd.AddCommand(jobShowCmd())
	cmd.AddCommand(jobUpdateCmd())
	cmd.AddCommand(jobDeleteCmd())
	cmd.AddCommand(jobRunCmd())
	cmd.AddCommand(jobHistoryCmd())
	return cmd
}

// scheduleFlags are shared between create and update.
type scheduleFlags struct {
	scheduleType string
	at           string
	minute       int
	timeOfDay    string
	weekday      int
	day          int
	cronExpr     string
}

func (f *scheduleFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.scheduleType, "schedule-type", "", "schedule type: once|hourly|daily|weekly|monthly")
	cmd.Flags().StringVar(&f.at, "at", "", `fire time for once schedules (RFC3339 or "2006-01-02 15:04" local)`)
	cmd.Flags().IntVar(&f.minute, "minute", 0, "minute of the hour for hourly schedules (0-59)")
	cmd.Flags().StringVar(&f.timeOfDay, "time", "", "time of day HH:MM for daily/weekly/monthly schedules")
	cmd.Flags().IntVar(&f.weekday, "weekday", 0, "weekday for weekly schedules (0=Monday .. 6=Sunday)")
	cmd.Flags().IntVar(&f.day, "day", 1, "day of month for monthly schedules (1-31, clamped to month length)")
	cmd.Flags().StringVar(&f.cronExpr, "cron", "", "5-field cron expression (mutually exclusive with --schedule-type)")
}

func (f *scheduleFlags) provided(cmd *cobra.Command) bool {
	for _, name := range []string{"schedule-type", "at", "minute", "time", "weekday", "day", "cron"} {
		if cmd.Flags().Changed(name) {
			return true
		}
	}
	return false
}

func (f *scheduleFlags) build(cmd *cobra.Command) (job.ScheduleSpec, error) {
	hasType := strings.TrimSpace(f.scheduleType) != ""
	hasCron := strings.TrimSpace(f.cronExpr) != ""
	if hasType == hasCron {
		return job.ScheduleSpec{}, errors.New("exactly one of --schedule-type or --cron is required")
	}
	if hasCron {
		return job.Cron(f.cronExpr), nil
	}

	switch strings.ToLower(strings.TrimSpace(f.scheduleType)) {
	case "once":
		at, err := parseWhen(f.at)
		if err != nil {
			return job.ScheduleSpec{}, err
		}
		return job.Once(at), nil
	case "hourly":
		return job.Hourly(f.minute), nil
	case "daily":
		return job.Daily(f.timeOfDay), nil
	case "weekly":
		return job.Weekly(f.weekday, f.timeOfDay), nil
	case "monthly":
		return job.Monthly(f.day, f.timeOfDay), nil
	default:
		return job.ScheduleSpec{}, fmt.Errorf("unknown schedule type %q", f.scheduleType)
	}
}

func parseWhen(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("--at is required for once schedules")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02 15:04", s, time.Local); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf(`invalid time %q, expected RFC3339 or "2006-01-02 15:04"`, s)
}

func jobCreateCmd() *cobra.Command {
	var (
		sched       scheduleFlags
		description string
		format      string
		output      string
		maxRetries  int
		retryDelay  time.Duration
		onSuccess   string
		onFailure   string
		disabled    bool
		force       bool
	)
	cmd := &cobra.Command{
		Use:   "create <config-name>",
		Short: "Create a scheduled job for a named scraping configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()

			configName := args[0]
			if !force && !e.runner.ConfigExists(configName) {
				return fmt.Errorf("scraping configuration %q not found in %s (use --force to create anyway)",
					configName, e.cfg.Scrape.ConfigsDir)
			}

			spec, err := sched.build(cmd)
			if err != nil {
				return err
			}

			j, err := job.New(configName, spec, time.Now())
			if err != nil {
				return err
			}
			j.Description = description
			j.OutputFormat = format
			j.OutputPath = output
			j.OnSuccess = onSuccess
			j.OnFailure = onFailure
			j.Enabled = !disabled

			defRetries, defDelay, err := app.JobDefaults(e.cfg)
			if err != nil {
				return err
			}
			j.MaxRetries = defRetries
			if cmd.Flags().Changed("max-retries") {
				j.MaxRetries = maxRetries
			}
			j.RetryDelay = defDelay
			if cmd.Flags().Changed("retry-delay") {
				j.RetryDelay = retryDelay
			}
			if err := j.Validate(); err != nil {
				return err
			}

			if err := e.store.Create(cmd.Context(), j); err != nil {
				return err
			}
			fmt.Printf("created job %s (%s)\n", j.ID, configName)
			if j.NextRun != nil {
				fmt.Printf("next run: %s\n", j.NextRun.Format(time.RFC3339))
			}
			return nil
		},
	}
	sched.register(cmd)
	cmd.Flags().StringVar(&description, "description", "", "human-readable description")
	cmd.Flags().StringVar(&format, "format", "", "output format override (e.g. csv, json)")
	cmd.Flags().StringVar(&output, "output", "", "output path override; {date} expands to the run date")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "retries after a failed attempt")
	cmd.Flags().DurationVar(&retryDelay, "retry-delay", 0, "delay between retry attempts (e.g. 30s, 5m)")
	cmd.Flags().StringVar(&onSuccess, "on-success", "", "shell command fired after a successful run")
	cmd.Flags().StringVar(&onFailure, "on-failure", "", "shell command fired after a failed run")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "create the job disabled")
	cmd.Flags().BoolVar(&force, "force", false, "skip the scraping configuration existence check")
	return cmd
}

func jobListCmd() *cobra.Command {
	var (
		statusFilter string
		configFilter string
		asJSON       bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()

			f := store.Filter{ConfigName: configFilter}
			if statusFilter != "" {
				f.Status = job.Status(statusFilter)
				if !f.Status.Valid() {
					return fmt.Errorf("unknown status %q", statusFilter)
				}
			}
			jobs, err := e.store.Filter(cmd.Context(), f)
			if err != nil {
				return err
			}
			if asJSON {
				b, err := json.MarshalIndent(jobs, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(b))
				return nil
			}
			if len(jobs) == 0 {
				fmt.Println("no jobs")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCONFIG\tSCHEDULE\tENABLED\tSTATUS\tNEXT RUN\tLAST RUN")
			for _, j := range jobs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\t%s\t%s\n",
					shortID(j.ID), j.ConfigName, describeSchedule(j.Schedule),
					j.Enabled, j.Status, fmtTimePtr(j.NextRun), fmtTimePtr(j.LastRun))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&statusFilter, "status", "", "filter by status: pending|running|completed|failed")
	cmd.Flags().StringVar(&configFilter, "config-name", "", "filter by scraping configuration name")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print raw job records as JSON")
	return cmd
}

func jobShowCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show a job's full record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()

			j, err := resolveJob(cmd.Context(), e, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				b, err := json.MarshalIndent(j, "", "  ")
				if err != nil {
					return err
				}
				fmt.Println(string(b))
				return nil
			}

			fmt.Printf("ID:          %s\n", j.ID)
			fmt.Printf("Config:      %s\n", j.ConfigName)
			fmt.Printf("Schedule:    %s\n", describeSchedule(j.Schedule))
			if j.Description != "" {
				fmt.Printf("Description: %s\n", j.Description)
			}
			fmt.Printf("Enabled:     %v\n", j.Enabled)
			fmt.Printf("Status:      %s\n", j.Status)
			fmt.Printf("Retries:     %d (delay %s)\n", j.MaxRetries, j.RetryDelay)
			if j.OutputFormat != "" {
				fmt.Printf("Format:      %s\n", j.OutputFormat)
			}
			if j.OutputPath != "" {
				fmt.Printf("Output:      %s\n", j.OutputPath)
			}
			if j.OnSuccess != "" {
				fmt.Printf("On success:  %s\n", j.OnSuccess)
			}
			if j.OnFailure != "" {
				fmt.Printf("On failure:  %s\n", j.OnFailure)
			}
			fmt.Printf("Next run:    %s\n", fmtTimePtr(j.NextRun))
			fmt.Printf("Last run:    %s\n", fmtTimePtr(j.LastRun))
			fmt.Printf("Created:     %s\n", j.CreatedAt.Format(time.RFC3339))
			fmt.Printf("Updated:     %s\n", j.UpdatedAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw job record as JSON")
	return cmd
}

func jobUpdateCmd() *cobra.Command {
	var (
		sched       scheduleFlags
		description string
		format      string
		output      string
		maxRetries  int
		retryDelay  time.Duration
		onSuccess   string
		onFailure   string
		enable      bool
		disable     bool
	)
	cmd := &cobra.Command{
		Use:   "update <job-id>",
		Short: "Update a job's schedule, retry policy or metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if enable && disable {
				return errors.New("--enable and --disable are mutually exclusive")
			}
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()

			j, err := resolveJob(cmd.Context(), e, args[0])
			if err != nil {
				return err
			}

			now := time.Now()
			if sched.provided(cmd) {
				spec, err := sched.build(cmd)
				if err != nil {
					return err
				}
				j.Schedule = spec
				j.RecomputeNextRun(now)
				if j.Status != job.StatusRunning {
					j.Status = job.StatusPending
				}
			}
			if cmd.Flags().Changed("description") {
				j.Description = description
			}
			if cmd.Flags().Changed("format") {
				j.OutputFormat = format
			}
			if cmd.Flags().Changed("output") {
				j.OutputPath = output
			}
			if cmd.Flags().Changed("max-retries") {
				j.MaxRetries = maxRetries
			}
			if cmd.Flags().Changed("retry-delay") {
				j.RetryDelay = retryDelay
			}
			if cmd.Flags().Changed("on-success") {
				j.OnSuccess = onSuccess
			}
			if cmd.Flags().Changed("on-failure") {
				j.OnFailure = onFailure
			}
			if disable {
				j.Enabled = false
			}
			if enable {
				j.Enabled = true
				// A stale next run would fire every missed occurrence at once;
				// resume from the next proper occurrence instead. Once jobs
				// keep their original fire time.
				if j.Schedule.Kind != job.KindOnce &&
					(j.NextRun == nil || !j.NextRun.After(now)) {
					j.RecomputeNextRun(now)
				}
			}

			if err := j.Validate(); err != nil {
				return err
			}
			j.Touch(now)
			if err := e.store.Update(cmd.Context(), j); err != nil {
				return err
			}
			fmt.Printf("updated job %s\n", j.ID)
			if j.NextRun != nil {
				fmt.Printf("next run: %s\n", j.NextRun.Format(time.RFC3339))
			}
			return nil
		},
	}
	sched.register(cmd)
	cmd.Flags().StringVar(&description, "description", "", "human-readable description")
	cmd.Flags().StringVar(&format, "format", "", "output format override")
	cmd.Flags().StringVar(&output, "output", "", "output path override")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "retries after a failed attempt")
	cmd.Flags().DurationVar(&retryDelay, "retry-delay", 0, "delay between retry attempts")
	cmd.Flags().StringVar(&onSuccess, "on-success", "", "shell command fired after a successful run")
	cmd.Flags().StringVar(&onFailure, "on-failure", "", "shell command fired after a failed run")
	cmd.Flags().BoolVar(&enable, "enable", false, "enable the job")
	cmd.Flags().BoolVar(&disable, "disable", false, "disable the job")
	return cmd
}

func jobDeleteCmd() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete <job-id>",
		Short: "Delete a job and its run history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()

			j, err := resolveJob(cmd.Context(), e, args[0])
			if err != nil {
				return err
			}
			if !yes {
				fmt.Printf("delete job %s (%s)? [y/N] ", shortID(j.ID), j.ConfigName)
				line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
				switch strings.ToLower(strings.TrimSpace(line)) {
				case "y", "yes":
				default:
					fmt.Println("aborted")
					return nil
				}
			}

			deleted, err := e.store.Delete(cmd.Context(), j.ID)
			if err != nil {
				return err
			}
			if !deleted {
				return store.ErrNotFound
			}
			fmt.Printf("deleted job %s\n", j.ID)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

func jobRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <job-id>",
		Short: "Run a job immediately, outside its schedule",
		Long: `Run a job now, with the job's own retry policy and callbacks. The run is
recorded in history like a scheduled one; the job's next scheduled run is
unaffected unless the job was pending past-due.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()

			j, err := resolveJob(cmd.Context(), e, args[0])
			if err != nil {
				return err
			}
			if j.Status == job.StatusRunning {
				return fmt.Errorf("job %s is already running", shortID(j.ID))
			}
			if st, ok, _ := e.store.GetSchedulerState(cmd.Context()); ok && processAlive(st.PID) {
				fmt.Fprintf(os.Stderr, "note: scheduler daemon is running (pid %d); status may briefly conflict\n", st.PID)
			}

			ctx := cmd.Context()
			now := time.Now()
			j.Status = job.StatusRunning
			j.Touch(now)
			if err := e.store.Update(ctx, j); err != nil {
				return err
			}

			fmt.Printf("running %s (%s)...\n", shortID(j.ID), j.ConfigName)
			res := e.executor().Execute(ctx, j)

			start := res.StartedAt
			j.LastRun = &start
			j.NextRun = nil
			if res.Outcome == job.OutcomeSuccess {
				j.Status = job.StatusCompleted
			} else {
				j.Status = job.StatusFailed
			}
			if next, ok := j.Schedule.NextRun(res.FinishedAt); ok {
				j.Status = job.StatusPending
				j.NextRun = &next
			}
			j.Touch(res.FinishedAt)
			if err := e.store.Update(ctx, j); err != nil {
				return err
			}

			if res.Outcome == job.OutcomeSuccess {
				fmt.Printf("completed in %s (%d attempt(s))\n",
					res.FinishedAt.Sub(res.StartedAt).Round(time.Millisecond), res.Attempts)
				return nil
			}
			return fmt.Errorf("failed after %d attempt(s): %v", res.Attempts, res.Err)
		},
	}
	return cmd
}

func jobHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:     "history <job-id>",
		Aliases: []string{"logs"},
		Short:   "Show a job's run history",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()

			j, err := resolveJob(cmd.Context(), e, args[0])
			if err != nil {
				return err
			}
			entries, err := e.store.History(cmd.Context(), j.ID, limit)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("no run history")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tDURATION\tATTEMPT\tOUTCOME\tERROR")
			for _, entry := range entries {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
					entry.StartedAt.Format(time.RFC3339),
					entry.FinishedAt.Sub(entry.StartedAt).Round(time.Millisecond),
					entry.Attempt, entry.Outcome, entry.Error)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of entries (most recent)")
	return cmd
}

// resolveJob accepts a full job id or an unambiguous prefix.
func resolveJob(ctx context.Context, e *env, idOrPrefix string) (*job.Job, error) {
	j, err := e.store.Get(ctx, idOrPrefix)
	if err == nil {
		return j, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	jobs, err := e.store.List(ctx)
	if err != nil {
		return nil, err
	}
	var match *job.Job
	for _, cand := range jobs {
		if strings.HasPrefix(cand.ID, idOrPrefix) {
			if match != nil {
				return nil, fmt.Errorf("job id prefix %q is ambiguous", idOrPrefix)
			}
			match = cand
		}
	}
	if match == nil {
		return nil, store.ErrNotFound
	}
	return match, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func fmtTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format("2006-01-02 15:04:05")
}

func describeSchedule(s job.ScheduleSpec) string {
	switch s.Kind {
	case job.KindOnce:
		return "once " + s.At.Format("2006-01-02 15:04")
	case job.KindHourly:
		return fmt.Sprintf("hourly :%02d", s.Minute)
	case job.KindDaily:
		return "daily " + s.TimeOfDay
	case job.KindWeekly:
		days := [...]string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}
		name := "?"
		if s.Weekday >= 0 && s.Weekday < len(days) {
			name = days[s.Weekday]
		}
		return fmt.Sprintf("weekly %s %s", name, s.TimeOfDay)
	case job.KindMonthly:
		return fmt.Sprintf("monthly %d %s", s.Day, s.TimeOfDay)
	case job.KindCustom:
		return "cron " + s.Expr
	}
	return string(s.Kind)
}
