package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pteroca-com/pluginhost/internal/ports"
)

// ScannedPlugin is a directory whose manifest parsed and validated.
type ScannedPlugin struct {
	Dir      string
	Manifest *Manifest
}

// ScanFailure records why a candidate directory was rejected.
type ScanFailure struct {
	Dir    string
	Name   string
	Errors []string
}

func (f ScanFailure) Error() string {
	return fmt.Sprintf("plugin at %s: %s", f.Dir, strings.Join(f.Errors, "; "))
}

// ScanResult captures both valid and invalid candidates.
type ScanResult struct {
	Valid   []ScannedPlugin
	Invalid []ScanFailure
}

// HasErrors returns true if any candidate was rejected.
func (r *ScanResult) HasErrors() bool {
	return len(r.Invalid) > 0
}

// Scanner walks a plugins root and classifies each subdirectory.
type Scanner struct {
	root      string
	parser    *ManifestParser
	validator *ManifestValidator
	logger    ports.Logger
}

// NewScanner creates a Scanner over root.
func NewScanner(root string, parser *ManifestParser, validator *ManifestValidator, logger ports.Logger) *Scanner {
	if parser == nil {
		parser = NewManifestParser()
	}
	if validator == nil {
		validator = NewManifestValidator()
	}
	if logger == nil {
		logger = discardLogger{}
	}
	return &Scanner{root: root, parser: parser, validator: validator, logger: logger}
}

// Root returns the directory being scanned.
func (s *Scanner) Root() string {
	return s.root
}

// Scan inspects every direct subdirectory of the root. A missing root yields
// an empty result; per-plugin problems never abort the sweep.
func (s *Scanner) Scan(ctx context.Context) (*ScanResult, error) {
	result := &ScanResult{
		Valid:   make([]ScannedPlugin, 0),
		Invalid: make([]ScanFailure, 0),
	}

	entries, err := os.ReadDir(s.root)
	if err != nil {
		if os.IsNotExist(err) {
			return result, nil
		}
		return nil, fmt.Errorf("reading plugins directory: %w", err)
	}

	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}

		dir := filepath.Join(s.root, entry.Name())
		scanned, failure := s.ScanDirectory(dir)
		if failure != nil {
			s.logger.Warn(ctx, "invalid plugin", ports.F("dir", dir), ports.F("errors", failure.Errors))
			result.Invalid = append(result.Invalid, *failure)
			continue
		}
		s.logger.Debug(ctx, "plugin found", ports.F("dir", dir), ports.F("plugin", scanned.Manifest.Name))
		result.Valid = append(result.Valid, *scanned)
	}

	return result, nil
}

// ScanDirectory parses and validates a single plugin directory.
func (s *Scanner) ScanDirectory(dir string) (*ScannedPlugin, *ScanFailure) {
	m, err := s.parser.ParseDirectory(dir)
	if err != nil {
		return nil, &ScanFailure{Dir: dir, Name: filepath.Base(dir), Errors: []string{err.Error()}}
	}

	if issues := s.validator.Validate(m); len(issues) > 0 {
		msgs := make([]string, len(issues))
		for i, issue := range issues {
			msgs[i] = issue.String()
		}
		return nil, &ScanFailure{Dir: dir, Name: m.Name, Errors: msgs}
	}

	return &ScannedPlugin{Dir: dir, Manifest: m}, nil
}
