package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/pteroca-com/pluginhost/internal/domain/plugin"
	"github.com/pteroca-com/pluginhost/internal/domain/security"
)

var securityCmd = &cobra.Command{
	Use:   "security",
	Short: "Inspect plugin sources for risky code",
}

var securityScanCmd = &cobra.Command{
	Use:   "scan <name|path>",
	Short: "Scan a plugin for dangerous code",
	Long: `Statically scan a registered plugin, or any directory, for dangerous
function calls, path traversal, SQL injection, XSS and loose file
permissions.

Exit codes:
  0 - No findings at or above --fail-on
  1 - Findings at or above --fail-on
  2 - The scan could not run

Examples:
  pluginctl security scan hello
  pluginctl security scan ./plugins/hello --severity high
  pluginctl security scan hello --fail-on critical --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			return runSecurityScan(cmd.Context(), cmd.OutOrStdout(), a, args[0])
		})
	},
}

var (
	securitySeverity string
	securityFailOn   string
	securityJSON     bool
)

func init() {
	rootCmd.AddCommand(securityCmd)
	securityCmd.AddCommand(securityScanCmd)

	securityScanCmd.Flags().StringVar(&securitySeverity, "severity", "low", "minimum severity to report (critical, high, medium, low)")
	securityScanCmd.Flags().StringVar(&securityFailOn, "fail-on", "critical", "fail if findings of this severity or higher are found")
	securityScanCmd.Flags().BoolVar(&securityJSON, "json", false, "output results as JSON")
}

var severityStyles = map[security.Severity]lipgloss.Style{
	security.SeverityCritical: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.AdaptiveColor{Light: "#d20f39", Dark: "#f38ba8"}),
	security.SeverityHigh:     lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#fe640b", Dark: "#fab387"}),
	security.SeverityMedium:   lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#df8e1d", Dark: "#f9e2af"}),
	security.SeverityLow:      lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#6c6f85", Dark: "#6c7086"}),
}

func severityLabel(s security.Severity) string {
	label := fmt.Sprintf("%-8s", strings.ToUpper(s.String()))
	if style, ok := severityStyles[s]; ok {
		return style.Render(label)
	}
	return label
}

type securityReport struct {
	Target  string          `json:"target" yaml:"target"`
	Issues  security.Issues `json:"issues" yaml:"issues"`
	Summary map[string]int  `json:"summary" yaml:"summary"`
	Failed  bool            `json:"failed" yaml:"failed"`
}

// resolveScanTarget maps a registered plugin name to its directory; any
// other argument is used as a path.
func resolveScanTarget(ctx context.Context, a *app, arg string) (string, error) {
	p, err := a.manager.Get(ctx, arg)
	if err == nil {
		return p.Path, nil
	}
	if !errors.Is(err, plugin.ErrPluginNotFound) {
		return "", err
	}
	if info, statErr := os.Stat(arg); statErr == nil && info.IsDir() {
		return arg, nil
	}
	return "", fmt.Errorf("%q is neither a registered plugin nor a directory", arg)
}

func runSecurityScan(ctx context.Context, w io.Writer, a *app, arg string) error {
	minSeverity, err := security.ParseSeverity(securitySeverity)
	if err != nil {
		return &exitError{code: 2, err: err}
	}
	failOn, err := security.ParseSeverity(securityFailOn)
	if err != nil {
		return &exitError{code: 2, err: err}
	}

	target, err := resolveScanTarget(ctx, a, arg)
	if err != nil {
		return &exitError{code: 2, err: err}
	}

	issues, err := a.security.Validate(ctx, target)
	if err != nil {
		return &exitError{code: 2, err: fmt.Errorf("scan failed: %w", err)}
	}

	report := securityReport{
		Target:  target,
		Issues:  issues.AtLeast(minSeverity),
		Summary: map[string]int{},
		Failed:  len(issues.AtLeast(failOn)) > 0,
	}
	if report.Issues == nil {
		report.Issues = security.Issues{}
	}
	for sev, n := range report.Issues.CountBySeverity() {
		report.Summary[sev.String()] = n
	}

	if securityJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		err = enc.Encode(report)
	} else {
		err = render(w, report, func(w io.Writer) error {
			printSecurityText(w, report, failOn)
			return nil
		})
	}
	if err != nil {
		return err
	}

	if report.Failed {
		return &exitError{code: 1}
	}
	return nil
}

func printSecurityText(w io.Writer, report securityReport, failOn security.Severity) {
	printf(w, "Security Scan Results (%s)\n", report.Target)
	printf(w, "%s\n", strings.Repeat("─", 50))

	if len(report.Issues) == 0 {
		printf(w, "✓ No findings\n")
		return
	}

	for _, issue := range report.Issues {
		printf(w, "%s %-18s %s\n", severityLabel(issue.Severity), issue.Category, issue.Location())
		printf(w, "         %s\n", issue.Message)
		if issue.Snippet != "" {
			printf(w, "         > %s\n", issue.Snippet)
		}
		if issue.Suggestion != "" {
			printf(w, "         Suggestion: %s\n", issue.Suggestion)
		}
	}

	printf(w, "\nSummary: ")
	var parts []string
	for _, sev := range security.AllSeverities() {
		if n := report.Summary[sev.String()]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, sev))
		}
	}
	printf(w, "%s\n", strings.Join(parts, ", "))

	if report.Failed {
		printf(w, "✗ Findings at or above %s\n", failOn)
	}
}
