package main

import (
	"github.com/spf13/cobra"

	"github.com/pteroca-com/pluginhost/internal/domain/plugin"
)

// Version information set by build flags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, _ []string) {
		w := cmd.OutOrStdout()
		printf(w, "pluginctl %s\n", version)
		printf(w, "  commit: %s\n", commit)
		printf(w, "  built:  %s\n", date)
		printf(w, "  default host version: %s\n", plugin.DefaultHostVersion)
	},
}
