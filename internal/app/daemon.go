package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	sd "github.com/coreos/go-systemd/v22/daemon"

	logx "scrapesched/pkg/logx"
)

// Run starts the app and blocks until a termination signal or a fatal
// supervisor error. The first SIGINT/SIGTERM triggers a graceful stop; a
// second one within the stop window forces cancellation of in-flight runs.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	if sent, err := sd.SdNotify(false, sd.SdNotifyReady); err != nil {
		a.log.Warn("sd_notify failed", logx.Err(err))
	} else if sent {
		a.log.Debug("sd_notify READY sent")
	}

	// systemd watchdog keepalive, when enabled by the unit.
	watchdogDone := make(chan struct{})
	defer close(watchdogDone)
	if interval, err := sd.SdWatchdogEnabled(false); err == nil && interval > 0 {
		go a.watchdogLoop(interval, watchdogDone)
	}

	force := false
	for {
		select {
		case <-ctx.Done():
			return a.shutdown(false)
		case <-a.Done():
			err := a.Err()
			if stopErr := a.shutdown(false); err == nil {
				err = stopErr
			}
			return err
		case sig := <-sigCh:
			if !force {
				force = true
				a.log.Info("signal received, shutting down", logx.String("signal", sig.String()))
				go func() {
					// Second signal escalates to forced stop.
					select {
					case <-sigCh:
						a.log.Warn("second signal received, canceling in-flight runs")
						a.sup.Cancel()
					case <-watchdogDone:
					}
				}()
				return a.shutdown(false)
			}
		}
	}
}

func (a *App) shutdown(force bool) error {
	_, _ = sd.SdNotify(false, sd.SdNotifyStopping)
	stopCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return a.Stop(stopCtx, force)
}

func (a *App) watchdogLoop(interval time.Duration, done <-chan struct{}) {
	// Ping at half the configured interval, per sd_watchdog(3) guidance.
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	for {
		select {
		case <-done:
			return
		case <-t.C:
			_, _ = sd.SdNotify(false, sd.SdNotifyWatchdog)
		}
	}
}
