package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pteroca-com/pluginhost/internal/adapters/amqpevents"
	"github.com/pteroca-com/pluginhost/internal/adapters/command"
	"github.com/pteroca-com/pluginhost/internal/adapters/composer"
	"github.com/pteroca-com/pluginhost/internal/adapters/dircache"
	"github.com/pteroca-com/pluginhost/internal/adapters/filesystem"
	"github.com/pteroca-com/pluginhost/internal/adapters/logging"
	"github.com/pteroca-com/pluginhost/internal/adapters/mysqlstore"
	"github.com/pteroca-com/pluginhost/internal/adapters/rediscache"
	"github.com/pteroca-com/pluginhost/internal/adapters/statefile"
	"github.com/pteroca-com/pluginhost/internal/config"
	"github.com/pteroca-com/pluginhost/internal/domain/plugin"
	"github.com/pteroca-com/pluginhost/internal/domain/security"
	"github.com/pteroca-com/pluginhost/internal/domain/upload"
	"github.com/pteroca-com/pluginhost/internal/ports"
)

// app holds the wired services for one command invocation.
type app struct {
	cfg       *config.Config
	logger    ports.Logger
	repo      plugin.Repository
	parser    *plugin.ManifestParser
	validator *plugin.ManifestValidator
	scanner   *plugin.Scanner
	manager   *plugin.Manager
	security  *security.Validator
	uploads   *upload.Service

	closers []func() error
}

// loadApp reads the configuration named by --config and wires the app.
func loadApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg, os.Stderr)
}

// newApp wires every service selected by cfg. Logs go to logOut.
func newApp(ctx context.Context, cfg *config.Config, logOut io.Writer) (*app, error) {
	level := cfg.LogLevel()
	if verbose {
		level = ports.LevelDebug
	}
	logger := logging.NewZerologLogger(
		logging.WithOutput(logOut),
		logging.WithLevel(level),
		logging.WithFormat(logging.ParseFormat(cfg.Log.Format)),
	)

	a := &app{
		cfg:       cfg,
		logger:    logger,
		parser:    plugin.NewManifestParser(),
		validator: plugin.NewManifestValidator(),
	}

	if err := a.wire(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) wire(ctx context.Context) error {
	cfg := a.cfg

	switch cfg.Storage.Driver {
	case config.StorageMySQL:
		repo, err := mysqlstore.Open(ctx, cfg.Storage.DSN)
		if err != nil {
			return err
		}
		a.repo = repo
		a.closers = append(a.closers, repo.Close)
	default:
		a.repo = statefile.NewRepository(cfg.StateFile)
	}

	var cache plugin.CacheInvalidator
	switch cfg.Cache.Driver {
	case config.CacheRedis:
		inv, err := rediscache.New(ctx, rediscache.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		}, a.logger)
		if err != nil {
			return err
		}
		cache = inv
		a.closers = append(a.closers, inv.Close)
	default:
		cache = dircache.New(cfg.CacheDir, a.logger)
	}

	var events plugin.EventPublisher
	switch cfg.Events.Driver {
	case config.EventsAMQP:
		pub, err := amqpevents.Dial(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			return err
		}
		events = pub
		a.closers = append(a.closers, pub.Close)
	default:
		events = plugin.NewLogEventPublisher(a.logger)
	}

	installer := composer.NewInstaller(command.NewExecRunner(),
		composer.WithCommand(cfg.Installer.Command),
		composer.WithTimeout(cfg.Installer.Timeout),
		composer.WithLogger(a.logger),
	)

	a.scanner = plugin.NewScanner(cfg.PluginsDir, a.parser, a.validator, a.logger)
	a.security = security.NewValidator(cfg.SecurityValidatorConfig(), a.logger)
	a.uploads = upload.NewService(cfg.UploadServiceConfig(), a.parser, a.validator, a.security, a.logger)
	a.manager = plugin.NewManager(a.repo,
		plugin.WithScanner(a.scanner),
		plugin.WithHostVersion(cfg.HostVersion),
		plugin.WithAssetPublisher(filesystem.NewAssetPublisher(cfg.PublicDir, a.logger)),
		plugin.WithEventPublisher(events),
		plugin.WithCacheInvalidator(cache),
		plugin.WithDependencyInstaller(installer),
		plugin.WithLogger(a.logger),
	)
	return nil
}

// finish runs deferred work queued by the command. Its failure is logged
// rather than returned because the command itself already succeeded.
func (a *app) finish(ctx context.Context) {
	if err := a.manager.Flush(ctx); err != nil {
		a.logger.Warn(ctx, "deferred work failed", ports.F("error", err.Error()))
	}
}

// Close releases every connection opened by wire.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("closing connections: %w", err)
	}
	return nil
}

// withApp loads the app, runs fn, flushes deferred work and closes. Work
// is flushed even when fn fails because only persisted changes queue it.
func withApp(ctx context.Context, fn func(*app) error) error {
	a, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	err = fn(a)
	a.finish(ctx)
	return err
}
