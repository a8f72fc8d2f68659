package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/naligeo/geo"
)

// NewWatchCmd creates the "watch" subcommand.
func NewWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Probe nali availability on a cron schedule and log transitions",
		Args:  cobra.NoArgs,
		RunE:  runWatch,
	}

	cmd.Flags().String("schedule", "", "Cron schedule, 5 fields in UTC (default from config)")
	cmd.Flags().Bool("once", false, "Probe once and exit; exit code 3 when unavailable")

	return cmd
}

func runWatch(cmd *cobra.Command, _ []string) error {
	schedule, _ := cmd.Flags().GetString("schedule")
	once, _ := cmd.Flags().GetBool("once")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if schedule == "" {
		schedule = cfg.Watch.Schedule
	}

	comps, err := buildComponents(cmd.Context(), cmd, cfg, false)
	if err != nil {
		return exitError(exitRuntime, "%v", err)
	}
	defer func() {
		_ = comps.Close(context.Background())
	}()

	logger := comps.logger
	monitor, err := geo.NewMonitor(geo.MonitorConfig{
		Checker:  comps.checker,
		Schedule: schedule,
		OnEvent: func(event geo.HealthEvent) {
			attrs := []any{"available", event.Available, "checked_at", event.CheckedAt.Format(time.RFC3339)}
			if event.Err != nil {
				attrs = append(attrs, "reason", geo.Reason(event.Err), "error", event.Err)
			}
			switch {
			case !event.Changed():
				logger.Debug("nali availability unchanged", attrs...)
			case event.Available:
				logger.Info("nali is available", attrs...)
			default:
				logger.Warn("nali is unavailable", attrs...)
			}
		},
	})
	if err != nil {
		return exitError(exitConfig, "invalid schedule: %v", err)
	}

	if once {
		event := monitor.RunOnce(cmd.Context())
		if !event.Available {
			return exitError(exitToolUnavailable, "nali is not available: %v", event.Err)
		}
		return nil
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := monitor.Start(ctx); err != nil {
		return exitError(exitRuntime, "starting monitor: %v", err)
	}
	logger.Info("watching nali availability", "schedule", schedule)

	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := monitor.Stop(stopCtx); err != nil {
		return exitError(exitRuntime, "stopping monitor: %v", err)
	}
	return nil
}
