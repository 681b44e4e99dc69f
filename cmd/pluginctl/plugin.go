package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pteroca-com/pluginhost/internal/adapters/watcher"
	"github.com/pteroca-com/pluginhost/internal/domain/plugin"
	"github.com/pteroca-com/pluginhost/internal/domain/upload"
	"github.com/pteroca-com/pluginhost/internal/ports"
)

var pluginCmd = &cobra.Command{
	Use:   "plugin",
	Short: "Manage panel plugins",
	Long:  `Discover, install, enable and disable plugins under the plugins root.`,
}

var pluginListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered plugins",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			return runPluginList(cmd.Context(), cmd.OutOrStdout(), a)
		})
	},
}

var pluginScanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Discover and register plugins",
	Long: `Scan the plugins root, register new plugins and record version changes
of known ones. Directories that fail validation are reported and skipped.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			return runPluginScan(cmd.Context(), cmd.OutOrStdout(), a)
		})
	},
}

var pluginEnableCmd = &cobra.Command{
	Use:   "enable <name>",
	Short: "Enable a plugin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			return runPluginEnable(cmd.Context(), cmd.OutOrStdout(), a, args[0])
		})
	},
}

var pluginDisableCmd = &cobra.Command{
	Use:   "disable <name>",
	Short: "Disable a plugin",
	Long:  `Disable a plugin. Refused while enabled plugins still require it.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			return runPluginDisable(cmd.Context(), cmd.OutOrStdout(), a, args[0])
		})
	},
}

var pluginInfoCmd = &cobra.Command{
	Use:   "info <name>",
	Short: "Show plugin details",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			return runPluginInfo(cmd.Context(), cmd.OutOrStdout(), a, args[0])
		})
	},
}

var pluginUploadCmd = &cobra.Command{
	Use:   "upload <archive.zip>",
	Short: "Install a plugin from a zip archive",
	Long: `Validate a plugin archive, scan its sources and install it under the
plugins root. The plugin is registered immediately.

Examples:
  pluginctl plugin upload hello-1.2.0.zip
  pluginctl plugin upload hello-1.2.0.zip --enable`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			return runPluginUpload(cmd.Context(), cmd.OutOrStdout(), a, args[0], uploadEnable)
		})
	},
}

var pluginWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Rescan the plugins root whenever it changes",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			return runPluginWatch(cmd.Context(), cmd.OutOrStdout(), a, watchDebounce)
		})
	},
}

var pluginInstallDepsCmd = &cobra.Command{
	Use:   "install-deps <name>",
	Short: "Install a plugin's composer dependencies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			if err := a.manager.InstallDependencies(cmd.Context(), args[0]); err != nil {
				return err
			}
			printf(cmd.OutOrStdout(), "✓ Dependencies installed for %s\n", args[0])
			return nil
		})
	},
}

var (
	uploadEnable  bool
	watchDebounce time.Duration
)

func init() {
	rootCmd.AddCommand(pluginCmd)
	pluginCmd.AddCommand(pluginListCmd)
	pluginCmd.AddCommand(pluginScanCmd)
	pluginCmd.AddCommand(pluginEnableCmd)
	pluginCmd.AddCommand(pluginDisableCmd)
	pluginCmd.AddCommand(pluginInfoCmd)
	pluginCmd.AddCommand(pluginUploadCmd)
	pluginCmd.AddCommand(pluginWatchCmd)
	pluginCmd.AddCommand(pluginInstallDepsCmd)

	pluginUploadCmd.Flags().BoolVar(&uploadEnable, "enable", false, "enable the plugin after installing it")
	pluginWatchCmd.Flags().DurationVar(&watchDebounce, "debounce", watcher.DefaultDebounce, "quiet period before rescanning")
}

func runPluginList(ctx context.Context, w io.Writer, a *app) error {
	plugins, err := a.manager.List(ctx)
	if err != nil {
		return fmt.Errorf("listing plugins: %w", err)
	}

	return render(w, newPluginViews(plugins), func(w io.Writer) error {
		if len(plugins) == 0 {
			printf(w, "No plugins registered.\n\nRun 'pluginctl plugin scan' to discover plugins under %s.\n", a.cfg.PluginsDir)
			return nil
		}

		tw := newTabWriter(w)
		printf(tw, "NAME\tVERSION\tSTATE\tDESCRIPTION\n")
		printf(tw, "────\t───────\t─────\t───────────\n")
		for _, p := range plugins {
			printf(tw, "%s\t%s\t%s\t%s\n", p.Name, p.Version, p.State, truncate(p.Description, 50))
		}
		return tw.Flush()
	})
}

type scanView struct {
	Registered []pluginView  `json:"registered" yaml:"registered"`
	Faulted    []pluginView  `json:"faulted" yaml:"faulted"`
	Updated    []pluginView  `json:"updated" yaml:"updated"`
	Unchanged  []string      `json:"unchanged" yaml:"unchanged"`
	Failures   []failureView `json:"failures" yaml:"failures"`
}

type failureView struct {
	Dir    string   `json:"dir" yaml:"dir"`
	Name   string   `json:"name,omitempty" yaml:"name,omitempty"`
	Errors []string `json:"errors" yaml:"errors"`
}

func runPluginScan(ctx context.Context, w io.Writer, a *app) error {
	report, err := a.manager.DiscoverAndRegister(ctx)
	if err != nil {
		return err
	}

	view := scanView{
		Registered: newPluginViews(report.Registered),
		Faulted:    newPluginViews(report.Faulted),
		Updated:    newPluginViews(report.Updated),
		Unchanged:  append([]string{}, report.Unchanged...),
		Failures:   make([]failureView, 0, len(report.Failures)),
	}
	for _, f := range report.Failures {
		view.Failures = append(view.Failures, failureView{Dir: f.Dir, Name: f.Name, Errors: f.Errors})
	}

	if err := render(w, view, func(w io.Writer) error {
		printScanReport(w, report)
		return nil
	}); err != nil {
		return err
	}

	if report.HasErrors() {
		return &exitError{code: 1}
	}
	return nil
}

func printScanReport(w io.Writer, report *plugin.DiscoveryReport) {
	for _, p := range report.Registered {
		printf(w, "✓ Registered %s@%s\n", p.Name, p.Version)
	}
	for _, p := range report.Updated {
		printf(w, "↑ Updated %s to %s (%s)\n", p.Name, p.Version, p.State)
	}
	for _, p := range report.Faulted {
		printf(w, "✗ Faulted %s@%s: %s\n", p.Name, p.Version, p.FaultReason)
	}
	for _, f := range report.Failures {
		printf(w, "✗ Skipped %s\n", f.Dir)
		for _, e := range f.Errors {
			printf(w, "    %s\n", e)
		}
	}
	printf(w, "\n%d registered, %d updated, %d unchanged, %d faulted, %d failed\n",
		len(report.Registered), len(report.Updated), len(report.Unchanged), len(report.Faulted), len(report.Failures))
}

func runPluginEnable(ctx context.Context, w io.Writer, a *app, name string) error {
	p, err := a.manager.EnablePlugin(ctx, name)
	if err != nil {
		return err
	}
	return render(w, newPluginView(p), func(w io.Writer) error {
		printf(w, "✓ Plugin %s@%s is enabled\n", p.Name, p.Version)
		return nil
	})
}

func runPluginDisable(ctx context.Context, w io.Writer, a *app, name string) error {
	p, err := a.manager.DisablePlugin(ctx, name)
	if err != nil {
		return err
	}
	return render(w, newPluginView(p), func(w io.Writer) error {
		printf(w, "✓ Plugin %s@%s is disabled\n", p.Name, p.Version)
		return nil
	})
}

type infoView struct {
	pluginView  `yaml:",inline"`
	EntryPoints plugin.EntryPoints `json:"entrypoints" yaml:"entrypoints"`
	Dependents  []string           `json:"dependents" yaml:"dependents"`
}

func runPluginInfo(ctx context.Context, w io.Writer, a *app, name string) error {
	p, err := a.manager.Get(ctx, name)
	if err != nil {
		return err
	}
	graph, err := a.manager.Graph(ctx)
	if err != nil {
		return err
	}

	view := infoView{pluginView: newPluginView(p), EntryPoints: p.EntryPoints(), Dependents: []string{}}
	for _, d := range graph.Dependents(p) {
		view.Dependents = append(view.Dependents, d.Name)
	}

	return render(w, view, func(w io.Writer) error {
		printf(w, "Name:        %s\n", p.Name)
		printf(w, "Title:       %s\n", p.DisplayName)
		printf(w, "Version:     %s\n", p.Version)
		printf(w, "State:       %s\n", p.State)
		if p.Author != "" {
			printf(w, "Author:      %s\n", p.Author)
		}
		if p.License != "" {
			printf(w, "License:     %s\n", p.License)
		}
		printf(w, "Path:        %s\n", p.Path)
		printf(w, "Host:        >= %s", p.HostMin)
		if p.HostMax != "" {
			printf(w, ", <= %s", p.HostMax)
		}
		printf(w, "\n")
		if p.FaultReason != "" {
			printf(w, "Fault:       %s\n", p.FaultReason)
		}
		if p.Description != "" {
			printf(w, "\n%s\n", p.Description)
		}

		if req := p.Requires(); len(req) > 0 {
			printf(w, "\nRequires:\n")
			for _, dep := range p.RequiredNames() {
				printf(w, "  - %s %s\n", dep, req[dep])
			}
		}
		if len(view.Dependents) > 0 {
			printf(w, "\nRequired by: %s\n", strings.Join(view.Dependents, ", "))
		}

		entries := view.EntryPoints
		if !entries.IsEmpty() {
			printf(w, "\nEntry points:\n")
			for _, kind := range plugin.AllEntryPointKinds() {
				for _, id := range entries.ByKind(kind) {
					printf(w, "  %-17s %s\n", kind, id)
				}
			}
		}
		return nil
	})
}

type uploadView struct {
	Plugin pluginView `json:"plugin" yaml:"plugin"`
	Path   string     `json:"path" yaml:"path"`
	Issues int        `json:"issues" yaml:"issues"`
}

func runPluginUpload(ctx context.Context, w io.Writer, a *app, archive string, enable bool) error {
	result, err := a.uploads.Upload(ctx, upload.File{Path: archive, Name: filepath.Base(archive)})
	if err != nil {
		return err
	}

	p, err := a.manager.RegisterPlugin(ctx, plugin.ScannedPlugin{Dir: result.Path, Manifest: result.Manifest})
	if err != nil {
		return fmt.Errorf("registering uploaded plugin: %w", err)
	}
	if enable && p.State != plugin.StateFaulted {
		if p, err = a.manager.EnablePlugin(ctx, p.Name); err != nil {
			return err
		}
	}

	view := uploadView{Plugin: newPluginView(p), Path: result.Path, Issues: len(result.Issues)}
	return render(w, view, func(w io.Writer) error {
		printf(w, "✓ Installed %s@%s into %s (%s)\n", p.Name, p.Version, result.Path, p.State)
		if p.State == plugin.StateFaulted {
			printf(w, "  %s\n", p.FaultReason)
		}
		if len(result.Issues) > 0 {
			printf(w, "\n%d security finding(s); run 'pluginctl security scan %s' for details.\n", len(result.Issues), p.Name)
		}
		return nil
	})
}

func runPluginWatch(ctx context.Context, w io.Writer, a *app, debounce time.Duration) error {
	wt, err := watcher.New(a.cfg.PluginsDir, watcher.WithDebounce(debounce), watcher.WithLogger(a.logger))
	if err != nil {
		return err
	}
	defer func() { _ = wt.Close() }()

	rescan := func(ctx context.Context) error {
		report, err := a.manager.DiscoverAndRegister(ctx)
		if err != nil {
			return err
		}
		printf(w, "[%s] ", time.Now().Format("15:04:05"))
		printScanReport(w, report)
		a.finish(ctx)
		return nil
	}

	if err := rescan(ctx); err != nil {
		return err
	}
	a.logger.Info(ctx, "watching plugins root", ports.F("dir", a.cfg.PluginsDir))

	err = wt.Run(ctx, rescan)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
