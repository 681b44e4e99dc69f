// Package dircache clears the host's on-disk cache directory.
package dircache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pteroca-com/pluginhost/internal/domain/plugin"
	"github.com/pteroca-com/pluginhost/internal/ports"
)

// Invalidator empties a cache directory but keeps the directory itself.
type Invalidator struct {
	dir    string
	logger ports.Logger
}

// New creates an Invalidator for dir.
func New(dir string, logger ports.Logger) *Invalidator {
	return &Invalidator{dir: dir, logger: logger}
}

// Invalidate removes every entry of the cache directory. A missing
// directory is already clean.
func (i *Invalidator) Invalidate(ctx context.Context, p *plugin.Plugin) error {
	entries, err := os.ReadDir(i.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading cache dir: %w", err)
	}

	var errs []error
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := os.RemoveAll(filepath.Join(i.dir, e.Name())); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("clearing cache dir: %w", err)
	}

	if i.logger != nil && p != nil {
		i.logger.Debug(ctx, "cache directory cleared",
			ports.F("plugin", p.Name),
			ports.F("dir", i.dir),
			ports.F("entries", len(entries)),
		)
	}
	return nil
}

var _ plugin.CacheInvalidator = (*Invalidator)(nil)
