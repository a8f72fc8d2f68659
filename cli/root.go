// Package cli implements the naligeo command tree.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the naligeo root command with all subcommands.
func NewRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "naligeo",
		Short: "IP geolocation through the nali program",
		Long:  "naligeo resolves IP addresses to locations by running the external nali tool.",
		// SilenceUsage prevents printing usage on every error
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "Path to naligeo.yaml")
	root.PersistentFlags().BoolP("verbose", "", false, "Enable verbose/debug logging")
	root.PersistentFlags().BoolP("quiet", "", false, "Suppress all output except errors")

	if version != "" {
		root.Version = version
		root.SetVersionTemplate(fmt.Sprintf("naligeo version %s\n", version))
	}

	root.AddCommand(NewCheckCmd())
	root.AddCommand(NewResolveCmd())
	root.AddCommand(NewHistoryCmd())
	root.AddCommand(NewWatchCmd())
	root.AddCommand(NewServeCmd())
	return root
}
