package main

import (
	"context"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pteroca-com/pluginhost/internal/domain/plugin"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check every registered plugin",
	Long: `Check each registered plugin's directory, manifest, host compatibility
and dependencies. Exits 1 when any plugin is unhealthy.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			return runHealth(cmd.Context(), cmd.OutOrStdout(), a)
		})
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

func runHealth(ctx context.Context, w io.Writer, a *app) error {
	reports, err := a.manager.HealthCheck(ctx)
	if err != nil {
		return err
	}

	if err := render(w, reports, func(w io.Writer) error {
		if len(reports) == 0 {
			printf(w, "No plugins registered.\n")
			return nil
		}
		tw := newTabWriter(w)
		printf(tw, "PLUGIN\tVERSION\tSTATE\tSTATUS\tPROBLEMS\n")
		for _, r := range reports {
			printf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Plugin, r.Version, r.State, r.Status, strings.Join(r.Problems, "; "))
		}
		return tw.Flush()
	}); err != nil {
		return err
	}

	for _, r := range reports {
		if r.Status == plugin.HealthUnhealthy {
			return &exitError{code: 1}
		}
	}
	return nil
}
