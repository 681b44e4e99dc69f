package main

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/pteroca-com/pluginhost/internal/domain/plugin"
	"github.com/pteroca-com/pluginhost/internal/ports"
)

var cronCmd = &cobra.Command{
	Use:   "cron",
	Short: "Inspect scheduled tasks contributed by plugins",
}

var cronListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cron tasks of enabled plugins",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			return runCronList(cmd.Context(), cmd.OutOrStdout(), a)
		})
	},
}

func init() {
	rootCmd.AddCommand(cronCmd)
	cronCmd.AddCommand(cronListCmd)
}

type cronTaskView struct {
	Plugin string `json:"plugin" yaml:"plugin"`
	Task   string `json:"task" yaml:"task"`
}

// runCronList boots the enabled plugins into the extension registry and
// lists the cron-task entries it holds. A plugin that fails to boot is
// faulted and left out.
func runCronList(ctx context.Context, w io.Writer, a *app) error {
	if _, err := a.manager.Boot(ctx); err != nil {
		a.logger.Warn(ctx, "some plugins failed to boot", ports.F("error", err.Error()))
	}

	entries := a.manager.Extensions().Entries(plugin.EntryPointCronTask)
	views := make([]cronTaskView, 0, len(entries))
	for _, e := range entries {
		views = append(views, cronTaskView{Plugin: e.Plugin, Task: e.Identifier})
	}

	return render(w, views, func(w io.Writer) error {
		if len(views) == 0 {
			printf(w, "No cron tasks registered by enabled plugins.\n")
			return nil
		}
		tw := newTabWriter(w)
		printf(tw, "PLUGIN\tTASK\n")
		for _, v := range views {
			printf(tw, "%s\t%s\n", v.Plugin, v.Task)
		}
		return tw.Flush()
	})
}
