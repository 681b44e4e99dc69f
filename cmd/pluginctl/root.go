package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pteroca-com/pluginhost/internal/domain/plugin"
	"github.com/pteroca-com/pluginhost/internal/domain/upload"
)

var (
	// Global flags
	cfgFile      string
	verbose      bool
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:   "pluginctl",
	Short: "Manage PteroCA panel plugins",
	Long: `pluginctl discovers, validates, installs and toggles panel plugins.

Plugins live one per directory under the plugins root, each described by a
plugin.json manifest. Every lifecycle change is persisted and goes through
the plugin state machine:
  discovered → registered → enabled ⇄ disabled`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		switch outputFormat {
		case "text", "json", "yaml":
			return nil
		default:
			return fmt.Errorf("unknown output format %q (use text, json or yaml)", outputFormat)
		}
	},
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command
// context so long-running commands such as watch stop cleanly.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: defaults plus PLUGINHOST_* environment)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "output format (text, json, yaml)")

	_ = rootCmd.RegisterFlagCompletionFunc("config", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"yaml", "yml"}, cobra.ShellCompDirectiveFilterFileExt
	})
	_ = rootCmd.RegisterFlagCompletionFunc("output", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"text", "json", "yaml"}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(versionCmd)
}

// exitError carries a specific process exit code. A nil err means the
// command already reported the problem.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return 1
}

// formatError renders lifecycle errors with their details. With verbose the
// wrapped cause chain is shown as well.
func formatError(err error) string {
	var ee *exitError
	if errors.As(err, &ee) && ee.err == nil {
		return ""
	}

	var b strings.Builder
	b.WriteString(err.Error())

	var cycleErr *plugin.CyclicDependencyError
	if errors.As(err, &cycleErr) {
		b.WriteString("\n\nBreak the cycle by removing one of the requirements above.")
	}

	var upErr *upload.Error
	if errors.As(err, &upErr) && verbose && upErr.Err != nil {
		fmt.Fprintf(&b, "\n\nTechnical details: %+v", upErr.Err)
	}

	return b.String()
}

func printError(err error) {
	printErrorTo(os.Stderr, err)
}

func printErrorTo(w io.Writer, err error) {
	msg := formatError(err)
	if msg == "" {
		return
	}
	_, _ = fmt.Fprintf(w, "Error: %s\n", msg)
}
