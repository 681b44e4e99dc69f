// Package upload installs plugins from uploaded zip archives. An upload is
// all or nothing: any failure removes every file the attempt created.
package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/zip"

	"github.com/pteroca-com/pluginhost/internal/domain/plugin"
	"github.com/pteroca-com/pluginhost/internal/domain/security"
	"github.com/pteroca-com/pluginhost/internal/ports"
)

// Upload limits.
const (
	DefaultMaxSize         int64 = 50 * 1024 * 1024
	DefaultMaxUncompressed int64 = 100 * 1024 * 1024
)

// AllowedMIMETypes are the content types accepted for an upload.
var AllowedMIMETypes = []string{
	"application/zip",
	"application/x-zip-compressed",
	"application/x-zip",
	"application/octet-stream",
}

const (
	dirPerm  os.FileMode = 0o755
	filePerm os.FileMode = 0o644
)

// Config controls where uploads land and how large they may be.
type Config struct {
	PluginsDir string
	// TempDir holds extractions in progress. Empty means a hidden directory
	// inside PluginsDir, which keeps the final rename on one filesystem.
	TempDir         string
	MaxSize         int64
	MaxUncompressed int64
	SecurityScan    bool
}

// DefaultConfig returns the standard limits for pluginsDir.
func DefaultConfig(pluginsDir string) Config {
	return Config{
		PluginsDir:      pluginsDir,
		MaxSize:         DefaultMaxSize,
		MaxUncompressed: DefaultMaxUncompressed,
		SecurityScan:    true,
	}
}

func (c Config) tempDir() string {
	if c.TempDir != "" {
		return c.TempDir
	}
	return filepath.Join(c.PluginsDir, ".upload")
}

// SecurityScanner inspects an extracted plugin tree.
type SecurityScanner interface {
	Validate(ctx context.Context, dir string) (security.Issues, error)
}

// File describes an uploaded archive already stored on local disk.
type File struct {
	Path string
	// Name is the client-side file name; the extension check uses it.
	Name string
	// Size is the reported size; zero means stat the file.
	Size int64
	// ContentType is the declared MIME type; empty means sniff it.
	ContentType string
}

// Result describes an installed plugin.
type Result struct {
	Manifest *plugin.Manifest
	Path     string
	Issues   security.Issues
}

// Service runs the upload pipeline.
type Service struct {
	cfg       Config
	parser    *plugin.ManifestParser
	validator *plugin.ManifestValidator
	scanner   SecurityScanner
	logger    ports.Logger
}

// NewService creates a Service. parser, validator and scanner may be nil;
// without a scanner the security step is skipped.
func NewService(cfg Config, parser *plugin.ManifestParser, validator *plugin.ManifestValidator, scanner SecurityScanner, logger ports.Logger) *Service {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.MaxUncompressed <= 0 {
		cfg.MaxUncompressed = DefaultMaxUncompressed
	}
	if parser == nil {
		parser = plugin.NewManifestParser()
	}
	if validator == nil {
		validator = plugin.NewManifestValidator()
	}
	return &Service{cfg: cfg, parser: parser, validator: validator, scanner: scanner, logger: logger}
}

// Upload validates f, extracts it, checks the plugin it contains and moves
// it into the plugins directory.
func (s *Service) Upload(ctx context.Context, f File) (_ *Result, err error) {
	if err := s.checkFile(f); err != nil {
		return nil, err
	}

	archive, err := zip.OpenReader(f.Path)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		return nil, wrapError(ErrInvalidZip, "cannot open archive", err)
	}
	defer func() {
		err = errors.Join(err, archive.Close())
	}()

	if err := s.inspect(archive.File); err != nil {
		return nil, err
	}

	staging := s.cfg.tempDir()
	_, statErr := os.Lstat(staging)
	createdStaging := os.IsNotExist(statErr)
	if err := os.MkdirAll(staging, dirPerm); err != nil {
		return nil, wrapError(ErrExtraction, "cannot create temporary directory", err)
	}
	tmp, err := os.MkdirTemp(staging, "plugin-*")
	if err != nil {
		if createdStaging {
			_ = os.Remove(staging)
		}
		return nil, wrapError(ErrExtraction, "cannot create temporary directory", err)
	}

	var installed string
	defer func() {
		if err != nil {
			s.rollback(ctx, tmp, installed)
		} else if rmErr := os.RemoveAll(tmp); rmErr != nil {
			s.warn(ctx, "removing temporary directory failed", ports.F("dir", tmp), ports.F("error", rmErr.Error()))
		}
		if createdStaging {
			s.removeStaging(ctx, staging)
		}
	}()

	if err := s.extract(ctx, archive.File, tmp); err != nil {
		return nil, err
	}
	s.debug(ctx, "archive extracted", ports.F("file", f.Name), ports.F("dir", tmp))

	root, err := locateRoot(tmp)
	if err != nil {
		return nil, err
	}

	m, err := s.parser.ParseDirectory(root)
	if err != nil {
		return nil, wrapError(ErrInvalidManifest, "cannot read plugin manifest", err)
	}
	if issues := s.validator.Validate(m); len(issues) > 0 {
		details := make([]string, len(issues))
		for i, issue := range issues {
			details[i] = issue.String()
		}
		return nil, newError(ErrManifestValidation, fmt.Sprintf("manifest of %s is invalid", m.Name), details...)
	}

	dest := filepath.Join(s.cfg.PluginsDir, m.Name)
	if _, statErr := os.Lstat(dest); statErr == nil {
		return nil, newError(ErrPluginAlreadyExists, fmt.Sprintf("plugin %s is already installed at %s", m.Name, dest))
	}

	result := &Result{Manifest: m, Path: dest}
	if s.cfg.SecurityScan && s.scanner != nil {
		issues, scanErr := s.scanner.Validate(ctx, root)
		if scanErr != nil {
			return nil, wrapError(ErrSecurityViolation, "security scan could not complete", scanErr)
		}
		if issues.HasCritical() {
			var details []string
			for _, i := range issues.AtLeast(security.SeverityCritical) {
				details = append(details, i.Location()+": "+i.Message)
			}
			return nil, newError(ErrSecurityViolation, fmt.Sprintf("plugin %s has critical security issues", m.Name), details...)
		}
		result.Issues = issues
	}

	if err := os.Rename(root, dest); err != nil {
		return nil, wrapError(ErrExtraction, "cannot move plugin into place", err)
	}
	installed = dest

	if err := normalizePermissions(dest); err != nil {
		return nil, wrapError(ErrExtraction, "cannot set permissions", err)
	}

	s.info(ctx, "plugin uploaded",
		ports.F("plugin", m.Name),
		ports.F("version", m.Version),
		ports.F("path", dest),
		ports.F("security_issues", len(result.Issues)),
	)
	return result, nil
}

func (s *Service) checkFile(f File) error {
	if f.Name == "" {
		f.Name = filepath.Base(f.Path)
	}

	size := f.Size
	if size <= 0 {
		info, err := os.Stat(f.Path)
		if err != nil {
			return wrapError(ErrInvalidZip, "cannot read uploaded file", err)
		}
		size = info.Size()
	}
	if size > s.cfg.MaxSize {
		return newError(ErrFileTooLarge, fmt.Sprintf("file is %d bytes, the limit is %d", size, s.cfg.MaxSize))
	}

	if !strings.EqualFold(filepath.Ext(f.Name), ".zip") {
		return newError(ErrInvalidExtension, fmt.Sprintf("%s is not a .zip file", f.Name))
	}

	contentType := f.ContentType
	if contentType == "" {
		detected, err := mimetype.DetectFile(f.Path)
		if err != nil {
			return wrapError(ErrInvalidFileType, "cannot detect file type", err)
		}
		contentType = detected.String()
	}
	if !allowedMIME(contentType) {
		return newError(ErrInvalidFileType, fmt.Sprintf("content type %s is not accepted", contentType))
	}
	return nil
}

func allowedMIME(contentType string) bool {
	base := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	for _, allowed := range AllowedMIMETypes {
		if base == allowed {
			return true
		}
	}
	return false
}

// inspect sweeps the entry table before anything is written.
func (s *Service) inspect(entries []*zip.File) error {
	limit := uint64(s.cfg.MaxUncompressed)
	var total uint64
	for _, e := range entries {
		// Compare before adding so crafted zip64 sizes cannot wrap the total.
		if e.UncompressedSize64 > limit || total > limit-e.UncompressedSize64 {
			return newError(ErrZipBomb, fmt.Sprintf("declared uncompressed size exceeds %d bytes", s.cfg.MaxUncompressed))
		}
		total += e.UncompressedSize64
	}

	var unsafe []string
	for _, e := range entries {
		if reason := unsafeEntry(e); reason != "" {
			unsafe = append(unsafe, fmt.Sprintf("%q: %s", e.Name, reason))
		}
	}
	if len(unsafe) > 0 {
		return newError(ErrMaliciousZip, "archive rejected", unsafe...)
	}
	return nil
}

func unsafeEntry(e *zip.File) string {
	name := e.Name
	switch {
	case strings.ContainsRune(name, 0):
		return "contains a null byte"
	case strings.HasPrefix(name, "/") || strings.HasPrefix(name, `\`):
		return "absolute path"
	case len(name) >= 2 && name[1] == ':' && isLetter(name[0]):
		return "drive letter prefix"
	case hasParentSegment(name):
		return "path traversal"
	case (e.ExternalAttrs>>16)&0o170000 == 0o120000:
		return "symbolic link"
	}
	return ""
}

func hasParentSegment(name string) bool {
	for _, part := range strings.FieldsFunc(name, func(r rune) bool { return r == '/' || r == '\\' }) {
		if part == ".." {
			return true
		}
	}
	return false
}

func isLetter(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func (s *Service) extract(ctx context.Context, entries []*zip.File, dir string) error {
	var written int64
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return wrapError(ErrExtraction, "extraction cancelled", err)
		}

		target := filepath.Join(dir, filepath.FromSlash(strings.ReplaceAll(e.Name, `\`, "/")))
		if target != dir && !strings.HasPrefix(target, dir+string(os.PathSeparator)) {
			return newError(ErrMaliciousZip, "archive rejected", fmt.Sprintf("%q escapes the extraction directory", e.Name))
		}

		if e.FileInfo().IsDir() || strings.HasSuffix(e.Name, "/") {
			if err := os.MkdirAll(target, dirPerm); err != nil {
				return wrapError(ErrExtraction, "cannot create directory", err)
			}
			continue
		}

		n, err := extractFile(e, target, s.cfg.MaxUncompressed-written)
		if err != nil {
			return err
		}
		written += n
	}
	return nil
}

func extractFile(e *zip.File, target string, budget int64) (n int64, err error) {
	if err := os.MkdirAll(filepath.Dir(target), dirPerm); err != nil {
		return 0, wrapError(ErrExtraction, "cannot create directory", err)
	}

	rc, err := e.Open()
	if err != nil {
		return 0, wrapError(ErrInvalidZip, "cannot read "+e.Name, err)
	}
	defer func() {
		err = errors.Join(err, rc.Close())
	}()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, filePerm)
	if err != nil {
		return 0, wrapError(ErrExtraction, "cannot create "+e.Name, err)
	}
	defer func() {
		err = errors.Join(err, out.Close())
	}()

	limit := int64(e.UncompressedSize64)
	if budget < limit {
		limit = budget
	}
	n, err = io.Copy(out, io.LimitReader(rc, limit+1))
	if err != nil {
		return n, wrapError(ErrInvalidZip, "cannot extract "+e.Name, err)
	}
	if n > limit {
		return n, newError(ErrZipBomb, fmt.Sprintf("%s expands beyond its declared size", e.Name))
	}
	return n, nil
}

// locateRoot finds the directory holding the manifest: the extraction root
// or exactly one level below it.
func locateRoot(dir string) (string, error) {
	if fileExists(filepath.Join(dir, plugin.ManifestFileName)) {
		return dir, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", wrapError(ErrExtraction, "cannot read extracted archive", err)
	}

	var candidates []string
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") || e.Name() == "__MACOSX" {
			continue
		}
		sub := filepath.Join(dir, e.Name())
		if fileExists(filepath.Join(sub, plugin.ManifestFileName)) {
			candidates = append(candidates, sub)
		}
	}
	sort.Strings(candidates)

	switch len(candidates) {
	case 0:
		return "", newError(ErrMissingManifest, "archive does not contain "+plugin.ManifestFileName)
	case 1:
		return candidates[0], nil
	default:
		names := make([]string, len(candidates))
		for i, c := range candidates {
			names[i] = filepath.Base(c)
		}
		return "", newError(ErrInvalidManifest, "archive contains more than one plugin", names...)
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func normalizePermissions(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return os.Chmod(path, dirPerm)
		}
		return os.Chmod(path, filePerm)
	})
}

func (s *Service) rollback(ctx context.Context, tmp, installed string) {
	if err := os.RemoveAll(tmp); err != nil {
		s.warn(ctx, "rollback: removing temporary directory failed", ports.F("dir", tmp), ports.F("error", err.Error()))
	}
	if installed != "" {
		if err := os.RemoveAll(installed); err != nil {
			s.warn(ctx, "rollback: removing installed plugin failed", ports.F("dir", installed), ports.F("error", err.Error()))
		}
	}
	s.warn(ctx, "upload rolled back", ports.F("temp_dir", tmp), ports.F("installed", installed))
}

// removeStaging drops the staging directory this upload created. It stays
// when another upload still has an extraction in it.
func (s *Service) removeStaging(ctx context.Context, dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) > 0 {
		return
	}
	if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
		s.warn(ctx, "removing staging directory failed", ports.F("dir", dir), ports.F("error", err.Error()))
	}
}

func (s *Service) debug(ctx context.Context, msg string, fields ...ports.Field) {
	if s.logger != nil {
		s.logger.Debug(ctx, msg, fields...)
	}
}

func (s *Service) info(ctx context.Context, msg string, fields ...ports.Field) {
	if s.logger != nil {
		s.logger.Info(ctx, msg, fields...)
	}
}

func (s *Service) warn(ctx context.Context, msg string, fields ...ports.Field) {
	if s.logger != nil {
		s.logger.Warn(ctx, msg, fields...)
	}
}
