package cli

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"scrapesched/internal/app"
	"scrapesched/internal/job"
)

func schedulerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Control the scheduler daemon",
	}
	cmd.AddCommand(schedulerStartCmd())
	cmd.AddCommand(schedulerStopCmd())
	cmd.AddCommand(schedulerStatusCmd())
	cmd.AddCommand(schedulerRestartCmd())
	return cmd
}

func schedulerStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the scheduler daemon in the foreground",
		Long: `Start the scheduler daemon.

The daemon recovers jobs stranded by a previous crash, then polls for due
jobs and runs them through the worker pool until interrupted. Run it under
systemd (or another supervisor) for background operation; sd_notify readiness
and watchdog pings are supported.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Refuse a second daemon against the same store.
			if e, err := openEnv(); err == nil {
				st, ok, stateErr := e.store.GetSchedulerState(cmd.Context())
				e.close()
				if stateErr == nil && ok && processAlive(st.PID) && st.PID != os.Getpid() {
					return fmt.Errorf("scheduler already running (pid %d, started %s)",
						st.PID, st.StartedAt.Format(time.RFC3339))
				}
			}

			a, err := app.New(cfgPath)
			if err != nil {
				return err
			}
			return a.Run(cmd.Context())
		},
	}
	return cmd
}

func schedulerStopCmd() *cobra.Command {
	var (
		force   bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop a running scheduler daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()

			st, ok, err := e.store.GetSchedulerState(cmd.Context())
			if err != nil {
				return err
			}
			if !ok || !processAlive(st.PID) {
				if ok {
					// Stale heartbeat from a crashed daemon; clean it up.
					_ = e.store.ClearSchedulerState(cmd.Context())
				}
				return errors.New("scheduler is not running")
			}

			fmt.Printf("stopping scheduler (pid %d)...\n", st.PID)
			if err := syscall.Kill(st.PID, syscall.SIGTERM); err != nil {
				return fmt.Errorf("signal pid %d: %w", st.PID, err)
			}
			if force {
				// Second signal escalates the daemon to forced cancellation.
				time.Sleep(500 * time.Millisecond)
				_ = syscall.Kill(st.PID, syscall.SIGTERM)
			}

			deadline := time.Now().Add(timeout)
			for time.Now().Before(deadline) {
				if !processAlive(st.PID) {
					fmt.Println("scheduler stopped")
					return nil
				}
				time.Sleep(200 * time.Millisecond)
			}
			return fmt.Errorf("scheduler (pid %d) did not exit within %s", st.PID, timeout)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "cancel in-flight runs instead of waiting them out")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "how long to wait for the daemon to exit")
	return cmd
}

func schedulerStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show scheduler and job status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			defer e.close()

			ctx := cmd.Context()
			st, ok, err := e.store.GetSchedulerState(ctx)
			if err != nil {
				return err
			}
			switch {
			case ok && processAlive(st.PID):
				fmt.Printf("scheduler: running (pid %d)\n", st.PID)
				fmt.Printf("  started:   %s\n", st.StartedAt.Format(time.RFC3339))
				fmt.Printf("  last tick: %s (%s ago)\n",
					st.LastTickAt.Format(time.RFC3339),
					time.Since(st.LastTickAt).Round(time.Second))
			case ok:
				fmt.Printf("scheduler: not running (stale heartbeat from pid %d)\n", st.PID)
			default:
				fmt.Println("scheduler: not running")
			}

			jobs, err := e.store.List(ctx)
			if err != nil {
				return err
			}
			counts := map[job.Status]int{}
			enabled := 0
			for _, j := range jobs {
				counts[j.Status]++
				if j.Enabled {
					enabled++
				}
			}
			fmt.Printf("jobs: %d total, %d enabled\n", len(jobs), enabled)
			for _, s := range []job.Status{job.StatusPending, job.StatusRunning, job.StatusCompleted, job.StatusFailed} {
				if counts[s] > 0 {
					fmt.Printf("  %s: %d\n", s, counts[s])
				}
			}
			return nil
		},
	}
	return cmd
}

func schedulerRestartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Stop any running daemon, then start in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEnv()
			if err != nil {
				return err
			}
			st, ok, stateErr := e.store.GetSchedulerState(cmd.Context())
			e.close()
			if stateErr == nil && ok && processAlive(st.PID) {
				fmt.Printf("stopping scheduler (pid %d)...\n", st.PID)
				if err := syscall.Kill(st.PID, syscall.SIGTERM); err != nil {
					return fmt.Errorf("signal pid %d: %w", st.PID, err)
				}
				deadline := time.Now().Add(30 * time.Second)
				for processAlive(st.PID) {
					if !time.Now().Before(deadline) {
						return fmt.Errorf("scheduler (pid %d) did not exit", st.PID)
					}
					time.Sleep(200 * time.Millisecond)
				}
			}

			a, err := app.New(cfgPath)
			if err != nil {
				return err
			}
			return a.Run(cmd.Context())
		},
	}
	return cmd
}

// processAlive reports whether a pid refers to a live process we can signal.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || errors.Is(err, syscall.EPERM)
}
