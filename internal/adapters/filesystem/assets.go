// Package filesystem publishes plugin assets into the host's public web
// directory.
package filesystem

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pteroca-com/pluginhost/internal/domain/plugin"
	"github.com/pteroca-com/pluginhost/internal/ports"
)

// AssetPublisher copies the files a plugin lists under "assets" to
// <publicDir>/<plugin>/<path>. Publishing replaces any previous copy.
type AssetPublisher struct {
	publicDir string
	logger    ports.Logger
}

// NewAssetPublisher creates a publisher rooted at publicDir.
func NewAssetPublisher(publicDir string, logger ports.Logger) *AssetPublisher {
	return &AssetPublisher{publicDir: publicDir, logger: logger}
}

// Target returns the directory p's assets are published to.
func (a *AssetPublisher) Target(p *plugin.Plugin) string {
	return filepath.Join(a.publicDir, p.Name)
}

// Publish copies every listed asset. Paths must stay inside the plugin
// directory.
func (a *AssetPublisher) Publish(ctx context.Context, p *plugin.Plugin) error {
	files, err := assetFiles(p)
	if err != nil {
		return err
	}

	target := a.Target(p)
	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("clearing %s: %w", target, err)
	}

	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		dest := filepath.Join(target, rel)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		if err := copyFile(filepath.Join(p.Path, rel), dest); err != nil {
			_ = os.RemoveAll(target)
			return fmt.Errorf("publishing asset %s: %w", rel, err)
		}
	}

	if a.logger != nil {
		a.logger.Debug(ctx, "assets published",
			ports.F("plugin", p.Name),
			ports.F("files", len(files)),
			ports.F("target", target),
		)
	}
	return nil
}

// Unpublish removes the published copy.
func (a *AssetPublisher) Unpublish(_ context.Context, p *plugin.Plugin) error {
	if err := os.RemoveAll(a.Target(p)); err != nil {
		return fmt.Errorf("removing assets of %s: %w", p.Name, err)
	}
	return nil
}

func assetFiles(p *plugin.Plugin) ([]string, error) {
	seen := map[string]bool{}
	var files []string
	for _, list := range p.Assets() {
		for _, raw := range list {
			rel := filepath.Clean(filepath.FromSlash(raw))
			if filepath.IsAbs(rel) || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
				return nil, fmt.Errorf("asset path %q escapes the plugin directory", raw)
			}
			if !seen[rel] {
				seen[rel] = true
				files = append(files, rel)
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

func copyFile(src, dest string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", src)
	}

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	_, err = io.Copy(out, in)
	return err
}

var _ plugin.AssetPublisher = (*AssetPublisher)(nil)
