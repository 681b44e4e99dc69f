package security

import (
	"bufio"
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pteroca-com/pluginhost/internal/ports"
)

// Category groups findings by the check that produced them.
type Category string

// Check categories.
const (
	CategoryDangerousFunction Category = "dangerous_function"
	CategoryPathTraversal     Category = "path_traversal"
	CategorySQLInjection      Category = "sql_injection"
	CategoryXSS               Category = "xss"
	CategoryFilePermissions   Category = "file_permissions"
)

// Issue is a single finding. Line is zero for file-level findings.
type Issue struct {
	Category   Category `json:"category" yaml:"category"`
	Severity   Severity `json:"severity" yaml:"severity"`
	File       string   `json:"file" yaml:"file"`
	Line       int      `json:"line,omitempty" yaml:"line,omitempty"`
	Message    string   `json:"message" yaml:"message"`
	Snippet    string   `json:"snippet,omitempty" yaml:"snippet,omitempty"`
	Suggestion string   `json:"suggestion,omitempty" yaml:"suggestion,omitempty"`
}

// Location returns file:line, or just the file for file-level findings.
func (i Issue) Location() string {
	if i.Line == 0 {
		return i.File
	}
	return fmt.Sprintf("%s:%d", i.File, i.Line)
}

// Issues is the result of a scan.
type Issues []Issue

// HasCritical returns true if any finding is critical.
func (is Issues) HasCritical() bool {
	for _, i := range is {
		if i.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// AtLeast filters findings to those at or above threshold.
func (is Issues) AtLeast(threshold Severity) Issues {
	out := make(Issues, 0, len(is))
	for _, i := range is {
		if i.Severity.IsAtLeast(threshold) {
			out = append(out, i)
		}
	}
	return out
}

// CountBySeverity tallies findings per severity.
func (is Issues) CountBySeverity() map[Severity]int {
	counts := make(map[Severity]int)
	for _, i := range is {
		counts[i.Severity]++
	}
	return counts
}

// Config selects which checks run and what they look for.
type Config struct {
	DangerousFunctions      []string
	CheckDangerousFunctions bool
	CheckPathTraversal      bool
	CheckSQLInjection       bool
	CheckXSS                bool
	CheckFilePermissions    bool
	// ExcludedDirs are directory names skipped at any depth.
	ExcludedDirs []string
	// SourceExtensions are the file extensions scanned line by line.
	SourceExtensions []string
}

// DefaultConfig enables every check.
func DefaultConfig() Config {
	return Config{
		DangerousFunctions: []string{
			"eval", "assert", "create_function",
			"exec", "shell_exec", "system", "passthru", "proc_open", "popen", "pcntl_exec",
			"unserialize", "extract", "parse_str", "putenv", "ini_set", "dl",
		},
		CheckDangerousFunctions: true,
		CheckPathTraversal:      true,
		CheckSQLInjection:       true,
		CheckXSS:                true,
		CheckFilePermissions:    true,
		ExcludedDirs:            []string{"vendor", "node_modules", "tests", "test"},
		SourceExtensions:        []string{".php", ".phtml", ".inc"},
	}
}

// FunctionSeverity ranks a dangerous function.
func FunctionSeverity(name string) Severity {
	switch strings.ToLower(name) {
	case "eval", "assert", "create_function":
		return SeverityCritical
	case "exec", "shell_exec", "system", "passthru", "proc_open", "popen", "pcntl_exec":
		return SeverityHigh
	default:
		return SeverityMedium
	}
}

var (
	traversalPattern    = regexp.MustCompile(`\.\.[/\\]`)
	requestInputPattern = regexp.MustCompile(`\$_(GET|POST|REQUEST|COOKIE|FILES)\b|\$request->(get|query|request)\b`)
	filesystemCall      = regexp.MustCompile(`(?i)\b(file_get_contents|file_put_contents|fopen|readfile|file|unlink|include|include_once|require|require_once|opendir|scandir|copy|rename)\b`)

	queryCall          = regexp.MustCompile(`(?i)(->|\b)(query|exec|execute|executeQuery|executeStatement|rawQuery|mysqli_query|mysql_query|pg_query)\s*\(`)
	concatenation      = regexp.MustCompile(`["']\s*\.\s*\$|\$[A-Za-z_][\w\->\[\]'"]*\s*\.\s*["']`)
	interpolation      = regexp.MustCompile(`"[^"]*\{?\$[A-Za-z_][^"]*"`)
	parameterBinding   = regexp.MustCompile(`(?i)\b(prepare|bindValue|bindParam|setParameter)\b`)
	outputCall         = regexp.MustCompile(`(?i)(\becho\b|\bprint\b|<\?=)`)
	superglobalPattern = regexp.MustCompile(`\$_(GET|POST|REQUEST|COOKIE|SERVER)\b`)
	escapingMarker     = regexp.MustCompile(`(?i)\b(htmlspecialchars|htmlentities|strip_tags|esc_html|escape|e)\s*\(`)
)

var scriptExtensions = map[string]bool{
	".php": true, ".phtml": true, ".sh": true, ".bash": true, ".py": true, ".pl": true, ".cgi": true,
}

const maxLineLength = 4 * 1024 * 1024

// Validator scans plugin source trees. It is a line-oriented heuristic
// scanner and reports findings; deciding what to block is up to the caller.
type Validator struct {
	cfg       Config
	logger    ports.Logger
	functions *regexp.Regexp
	excluded  map[string]bool
	sources   map[string]bool
}

// NewValidator creates a Validator. logger may be nil.
func NewValidator(cfg Config, logger ports.Logger) *Validator {
	v := &Validator{
		cfg:      cfg,
		logger:   logger,
		excluded: make(map[string]bool, len(cfg.ExcludedDirs)),
		sources:  make(map[string]bool, len(cfg.SourceExtensions)),
	}
	for _, d := range cfg.ExcludedDirs {
		v.excluded[d] = true
	}
	for _, ext := range cfg.SourceExtensions {
		v.sources[strings.ToLower(ext)] = true
	}

	if len(cfg.DangerousFunctions) > 0 {
		quoted := make([]string, len(cfg.DangerousFunctions))
		for i, fn := range cfg.DangerousFunctions {
			quoted[i] = regexp.QuoteMeta(fn)
		}
		// Method calls (->fn, ::fn) and namespaced calls are not the builtin.
		v.functions = regexp.MustCompile(`(?i)(?:^|[^\w$>:\\])(` + strings.Join(quoted, "|") + `)\s*\(`)
	}
	return v
}

// Validate scans every file under dir. Findings never produce an error;
// only a failure to read the tree does.
func (v *Validator) Validate(ctx context.Context, dir string) (Issues, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scanning %s: not a directory", dir)
	}

	issues := Issues{}
	files := 0

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && v.excluded[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		files++

		if v.cfg.CheckFilePermissions {
			fi, err := d.Info()
			if err != nil {
				return err
			}
			issues = append(issues, v.checkPermissions(rel, fi.Mode())...)
		}

		if v.sources[strings.ToLower(filepath.Ext(path))] {
			found, err := v.scanFile(path, rel)
			if err != nil {
				return err
			}
			issues = append(issues, found...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", dir, err)
	}

	if v.logger != nil {
		v.logger.Debug(ctx, "security scan finished",
			ports.F("dir", dir),
			ports.F("files", files),
			ports.F("issues", len(issues)),
		)
	}
	return issues, nil
}

func (v *Validator) checkPermissions(rel string, mode fs.FileMode) Issues {
	var out Issues
	perm := mode.Perm()

	if perm&0o002 != 0 {
		out = append(out, Issue{
			Category:   CategoryFilePermissions,
			Severity:   SeverityHigh,
			File:       rel,
			Message:    fmt.Sprintf("file is world-writable (%04o)", perm),
			Suggestion: "Remove the write bit for others (chmod o-w).",
		})
	}
	if perm&0o111 != 0 && scriptExtensions[strings.ToLower(filepath.Ext(rel))] {
		out = append(out, Issue{
			Category:   CategoryFilePermissions,
			Severity:   SeverityLow,
			File:       rel,
			Message:    fmt.Sprintf("script file is executable (%04o)", perm),
			Suggestion: "Plugin scripts are loaded by the host and do not need the executable bit.",
		})
	}
	return out
}

func (v *Validator) scanFile(path, rel string) (Issues, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out Issues
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineLength)

	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := sc.Text()
		if isCommentLine(line) {
			continue
		}
		out = append(out, v.scanLine(rel, lineNo, line)...)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", rel, err)
	}
	return out, nil
}

func (v *Validator) scanLine(rel string, lineNo int, line string) Issues {
	var out Issues
	issue := func(c Category, s Severity, msg, suggestion string) {
		out = append(out, Issue{
			Category:   c,
			Severity:   s,
			File:       rel,
			Line:       lineNo,
			Message:    msg,
			Snippet:    snippet(line),
			Suggestion: suggestion,
		})
	}

	if v.cfg.CheckDangerousFunctions && v.functions != nil {
		seen := map[string]bool{}
		for _, m := range v.functions.FindAllStringSubmatch(line, -1) {
			fn := strings.ToLower(m[1])
			if seen[fn] {
				continue
			}
			seen[fn] = true
			issue(CategoryDangerousFunction, FunctionSeverity(fn),
				fmt.Sprintf("call to dangerous function %s()", fn),
				"Avoid "+fn+"(); use a safer API or validate every argument against a whitelist.")
		}
	}

	if v.cfg.CheckPathTraversal {
		switch {
		case requestInputPattern.MatchString(line) && filesystemCall.MatchString(line):
			issue(CategoryPathTraversal, SeverityHigh,
				"request input used in a filesystem path",
				"Resolve the path with realpath() and check it stays inside the plugin directory.")
		case traversalPattern.MatchString(line):
			issue(CategoryPathTraversal, SeverityMedium,
				"relative parent directory reference",
				"Build paths from a known base directory instead of climbing with ../.")
		}
	}

	if v.cfg.CheckSQLInjection && queryCall.MatchString(line) && !parameterBinding.MatchString(line) {
		if concatenation.MatchString(line) || interpolation.MatchString(line) {
			issue(CategorySQLInjection, SeverityHigh,
				"query built from concatenated or interpolated values",
				"Use prepared statements with bound parameters.")
		}
	}

	if v.cfg.CheckXSS && outputCall.MatchString(line) && superglobalPattern.MatchString(line) && !escapingMarker.MatchString(line) {
		issue(CategoryXSS, SeverityHigh,
			"request value written to output without escaping",
			"Escape output with htmlspecialchars() or render it through the template engine.")
	}

	return out
}

func isCommentLine(line string) bool {
	t := strings.TrimSpace(line)
	return strings.HasPrefix(t, "//") ||
		strings.HasPrefix(t, "#") ||
		strings.HasPrefix(t, "/*") ||
		strings.HasPrefix(t, "*")
}

// snippet trims line to at most 160 runes.
func snippet(line string) string {
	s := strings.TrimSpace(line)
	if r := []rune(s); len(r) > 160 {
		return string(r[:157]) + "..."
	}
	return s
}
