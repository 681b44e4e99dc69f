package plugin

import (
	"context"

	"github.com/pteroca-com/pluginhost/internal/ports"
)

// Repository persists plugin aggregates.
type Repository interface {
	// Get returns the plugin with the given name or ErrPluginNotFound.
	Get(ctx context.Context, name string) (*Plugin, error)
	// List returns every known plugin.
	List(ctx context.Context) ([]*Plugin, error)
	// Save inserts or updates a plugin.
	Save(ctx context.Context, p *Plugin) error
}

// Autoloader wires a plugin's class namespace into the host runtime.
type Autoloader interface {
	Register(ctx context.Context, p *Plugin) error
	Unregister(ctx context.Context, p *Plugin) error
}

// MigrationRunner applies a plugin's schema changes.
type MigrationRunner interface {
	Migrate(ctx context.Context, p *Plugin) error
}

// ExtensionBinder binds one entry point class into a host registry
// (console commands, scheduler, event bus).
type ExtensionBinder interface {
	Bind(ctx context.Context, p *Plugin, identifier string) error
	Unbind(ctx context.Context, p *Plugin, identifier string) error
}

// AssetPublisher exposes a plugin's static files.
type AssetPublisher interface {
	Publish(ctx context.Context, p *Plugin) error
	Unpublish(ctx context.Context, p *Plugin) error
}

// EventPublisher emits lifecycle events.
type EventPublisher interface {
	Publish(ctx context.Context, e Event) error
}

// CacheInvalidator drops cached host state after a plugin set change.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, p *Plugin) error
}

// DependencyInstaller installs a plugin's own third-party libraries.
type DependencyInstaller interface {
	Install(ctx context.Context, p *Plugin) error
}

type noopAutoloader struct{}

func (noopAutoloader) Register(context.Context, *Plugin) error   { return nil }
func (noopAutoloader) Unregister(context.Context, *Plugin) error { return nil }

type noopMigrationRunner struct{}

func (noopMigrationRunner) Migrate(context.Context, *Plugin) error { return nil }

type noopAssetPublisher struct{}

func (noopAssetPublisher) Publish(context.Context, *Plugin) error   { return nil }
func (noopAssetPublisher) Unpublish(context.Context, *Plugin) error { return nil }

type noopCacheInvalidator struct{}

func (noopCacheInvalidator) Invalidate(context.Context, *Plugin) error { return nil }

// discardLogger keeps domain types usable without a configured logger.
type discardLogger struct{}

func (discardLogger) Debug(context.Context, string, ...ports.Field) {}
func (discardLogger) Info(context.Context, string, ...ports.Field)  {}
func (discardLogger) Warn(context.Context, string, ...ports.Field)  {}
func (discardLogger) Error(context.Context, string, ...ports.Field) {}
func (d discardLogger) With(...ports.Field) ports.Logger            { return d }
func (discardLogger) Level() ports.Level                            { return ports.LevelError }
func (discardLogger) SetLevel(ports.Level)                          {}
