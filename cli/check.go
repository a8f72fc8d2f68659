package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// NewCheckCmd creates the "check" subcommand.
func NewCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check that the nali program is installed and runnable",
		Args:  cobra.NoArgs,
		RunE:  runCheck,
	}
}

func runCheck(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	comps, err := buildComponents(ctx, cmd, cfg, false)
	if err != nil {
		return exitError(exitRuntime, "%v", err)
	}
	defer func() {
		_ = comps.Close(context.Background())
	}()

	if err := comps.service.Ready(ctx); err != nil {
		comps.logger.Error("nali is not available", "command", cfg.Tool.Command, "error", err)
		return exitError(exitToolUnavailable, "nali is not available: %v", err)
	}

	quiet, _ := cmd.Flags().GetBool("quiet")
	if !quiet {
		fmt.Fprintf(cmd.OutOrStdout(), "nali is available (%s)\n", cfg.Tool.Command)
	}
	return nil
}
