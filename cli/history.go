package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/petal-labs/naligeo/history"
)

// NewHistoryCmd creates the "history" subcommand.
func NewHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent lookups from the history store",
		Args:  cobra.NoArgs,
		RunE:  runHistory,
	}

	cmd.Flags().Int("limit", 20, "Maximum number of entries")
	cmd.Flags().String("ip", "", "Only show lookups for this IP")
	cmd.Flags().Bool("json", false, "Print entries as JSON")

	return cmd
}

func runHistory(cmd *cobra.Command, _ []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	ip, _ := cmd.Flags().GetString("ip")
	asJSON, _ := cmd.Flags().GetBool("json")
	if limit <= 0 {
		return exitError(exitConfig, "--limit must be positive")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.History.Path == "" {
		return exitError(exitConfig, "history is not configured (set history.path or NALIGEO_HISTORY_PATH)")
	}

	store, err := history.NewSQLiteStore(history.SQLiteStoreConfig{DSN: cfg.History.Path})
	if err != nil {
		return exitError(exitRuntime, "opening history store: %v", err)
	}
	defer func() {
		_ = store.Close()
	}()

	entries, err := store.List(cmd.Context(), history.ListFilter{IP: ip, Limit: limit})
	if err != nil {
		return exitError(exitRuntime, "listing history: %v", err)
	}

	out := cmd.OutOrStdout()
	if asJSON {
		if entries == nil {
			entries = []history.Entry{}
		}
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tIP\tCITY\tRESULT\tELAPSED")
	for _, entry := range entries {
		result := "ok"
		if entry.Failed() {
			result = entry.ErrorCode
			if entry.Reason != "" && entry.Reason != entry.ErrorCode {
				result += " (" + entry.Reason + ")"
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			entry.Time.Format(time.RFC3339),
			entry.IP,
			entry.City,
			result,
			entry.Elapsed.Round(time.Millisecond),
		)
	}
	return tw.Flush()
}
