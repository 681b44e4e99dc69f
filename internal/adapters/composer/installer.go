// Package composer installs a plugin's own PHP libraries with Composer.
package composer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pteroca-com/pluginhost/internal/domain/plugin"
	"github.com/pteroca-com/pluginhost/internal/ports"
)

// DefaultTimeout bounds a single install.
const DefaultTimeout = 300 * time.Second

// ErrInstallFailed is returned when composer exits non-zero.
var ErrInstallFailed = errors.New("composer install failed")

// Installer implements plugin.DependencyInstaller.
type Installer struct {
	runner  ports.CommandRunner
	command string
	timeout time.Duration
	logger  ports.Logger
}

// Option configures an Installer.
type Option func(*Installer)

// WithCommand overrides the composer binary.
func WithCommand(command string) Option {
	return func(i *Installer) {
		i.command = command
	}
}

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(i *Installer) {
		i.timeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(l ports.Logger) Option {
	return func(i *Installer) {
		i.logger = l
	}
}

// NewInstaller creates an Installer that runs composer through runner.
func NewInstaller(runner ports.CommandRunner, opts ...Option) *Installer {
	i := &Installer{runner: runner, command: "composer", timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Install runs composer install in the plugin directory. Plugins without a
// composer.json have nothing to install.
func (i *Installer) Install(ctx context.Context, p *plugin.Plugin) error {
	if _, err := os.Stat(filepath.Join(p.Path, "composer.json")); err != nil {
		if os.IsNotExist(err) {
			i.debug(ctx, "no composer.json, skipping install", ports.F("plugin", p.Name))
			return nil
		}
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	args := []string{"install", "--no-dev", "--no-interaction", "--no-progress", "--optimize-autoloader", "--working-dir", p.Path}
	start := time.Now()
	result, err := i.runner.Run(ctx, i.command, args...)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: timed out after %s", ErrInstallFailed, i.timeout)
		}
		return fmt.Errorf("running %s: %w", i.command, err)
	}
	if !result.Success() {
		return fmt.Errorf("%w (exit %d): %s", ErrInstallFailed, result.ExitCode, strings.TrimSpace(result.Stderr))
	}

	if i.logger != nil {
		i.logger.Info(ctx, "plugin dependencies installed",
			ports.F("plugin", p.Name),
			ports.F("duration", time.Since(start).String()),
		)
	}
	return nil
}

func (i *Installer) debug(ctx context.Context, msg string, fields ...ports.Field) {
	if i.logger != nil {
		i.logger.Debug(ctx, msg, fields...)
	}
}

var _ plugin.DependencyInstaller = (*Installer)(nil)
