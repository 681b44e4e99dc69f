package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pteroca-com/pluginhost/internal/ports"
)

// DefaultHostVersion is used when no host version is configured.
const DefaultHostVersion = "0.6.0"

// Manager orchestrates discovery, registration and the enable/disable
// workflows. Lifecycle operations are serialized.
type Manager struct {
	mu sync.Mutex

	repo        Repository
	scanner     *Scanner
	parser      *ManifestParser
	validator   *ManifestValidator
	states      *StateMachine
	resolver    *DependencyResolver
	hostVersion string

	autoloader Autoloader
	migrations MigrationRunner
	extensions *ExtensionRegistry
	assets     AssetPublisher
	events     EventPublisher
	cache      CacheInvalidator
	deferred   *DeferredQueue
	installer  DependencyInstaller

	logger ports.Logger
	now    func() time.Time
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithScanner sets the scanner used by DiscoverAndRegister.
func WithScanner(s *Scanner) ManagerOption {
	return func(m *Manager) {
		m.scanner = s
	}
}

// WithStateMachine sets the state machine.
func WithStateMachine(sm *StateMachine) ManagerOption {
	return func(m *Manager) {
		m.states = sm
	}
}

// WithHostVersion sets the running host version for compatibility checks.
func WithHostVersion(v string) ManagerOption {
	return func(m *Manager) {
		m.hostVersion = v
	}
}

// WithAutoloader sets the class autoloader collaborator.
func WithAutoloader(a Autoloader) ManagerOption {
	return func(m *Manager) {
		m.autoloader = a
	}
}

// WithMigrationRunner sets the migration runner collaborator.
func WithMigrationRunner(r MigrationRunner) ManagerOption {
	return func(m *Manager) {
		m.migrations = r
	}
}

// WithExtensions sets the extension registry.
func WithExtensions(r *ExtensionRegistry) ManagerOption {
	return func(m *Manager) {
		m.extensions = r
	}
}

// WithAssetPublisher sets the asset publisher collaborator.
func WithAssetPublisher(p AssetPublisher) ManagerOption {
	return func(m *Manager) {
		m.assets = p
	}
}

// WithEventPublisher sets the lifecycle event sink.
func WithEventPublisher(p EventPublisher) ManagerOption {
	return func(m *Manager) {
		m.events = p
	}
}

// WithCacheInvalidator sets the cache invalidator run after enable/disable.
func WithCacheInvalidator(c CacheInvalidator) ManagerOption {
	return func(m *Manager) {
		m.cache = c
	}
}

// WithDeferredQueue sets the queue cache invalidation is deferred to.
func WithDeferredQueue(q *DeferredQueue) ManagerOption {
	return func(m *Manager) {
		m.deferred = q
	}
}

// WithDependencyInstaller sets the installer for plugin libraries.
func WithDependencyInstaller(i DependencyInstaller) ManagerOption {
	return func(m *Manager) {
		m.installer = i
	}
}

// WithLogger sets the logger.
func WithLogger(l ports.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithClock overrides the clock.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// NewManager creates a Manager over repo.
func NewManager(repo Repository, opts ...ManagerOption) *Manager {
	m := &Manager{
		repo:        repo,
		parser:      NewManifestParser(),
		validator:   NewManifestValidator(),
		hostVersion: DefaultHostVersion,
		autoloader:  noopAutoloader{},
		migrations:  noopMigrationRunner{},
		assets:      noopAssetPublisher{},
		cache:       noopCacheInvalidator{},
		logger:      discardLogger{},
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.states == nil {
		m.states = NewStateMachine(m.logger, WithStateClock(m.now))
	}
	if m.extensions == nil {
		m.extensions = NewExtensionRegistry(nil)
	}
	if m.events == nil {
		m.events = NewLogEventPublisher(m.logger)
	}
	if m.deferred == nil {
		m.deferred = NewDeferredQueue(m.logger)
	}
	m.resolver = NewDependencyResolver(repo)

	return m
}

// Extensions returns the extension registry.
func (m *Manager) Extensions() *ExtensionRegistry {
	return m.extensions
}

// Deferred returns the deferred task queue.
func (m *Manager) Deferred() *DeferredQueue {
	return m.deferred
}

// Flush runs deferred work. Call it once the command has finished.
func (m *Manager) Flush(ctx context.Context) error {
	return m.deferred.Flush(ctx)
}

// Get returns a plugin by name.
func (m *Manager) Get(ctx context.Context, name string) (*Plugin, error) {
	if name == "" {
		return nil, ErrEmptyPluginName
	}
	return m.repo.Get(ctx, name)
}

// List returns every known plugin.
func (m *Manager) List(ctx context.Context) ([]*Plugin, error) {
	return m.repo.List(ctx)
}

// Graph returns a dependency graph over the current plugin set.
func (m *Manager) Graph(ctx context.Context) (*DependencyGraph, error) {
	return m.resolver.Snapshot(ctx)
}

// DiscoveryReport summarizes a discovery sweep.
type DiscoveryReport struct {
	Registered []*Plugin
	Faulted    []*Plugin
	Updated    []*Plugin
	Unchanged  []string
	Failures   []ScanFailure
}

// HasErrors returns true if any candidate could not be processed.
func (r *DiscoveryReport) HasErrors() bool {
	return len(r.Failures) > 0
}

// DiscoverAndRegister scans the plugins root, registers new plugins and
// applies version updates to known ones. Per-plugin failures are reported
// without aborting the sweep.
func (m *Manager) DiscoverAndRegister(ctx context.Context) (*DiscoveryReport, error) {
	if m.scanner == nil {
		return nil, errors.New("no scanner configured")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	result, err := m.scanner.Scan(ctx)
	if err != nil {
		return nil, err
	}

	report := &DiscoveryReport{Failures: append([]ScanFailure(nil), result.Invalid...)}
	seen := make(map[string]string, len(result.Valid))

	for _, sp := range result.Valid {
		name := sp.Manifest.Name
		if other, dup := seen[name]; dup {
			report.Failures = append(report.Failures, ScanFailure{
				Dir:    sp.Dir,
				Name:   name,
				Errors: []string{fmt.Sprintf("plugin name %q is already declared by %s", name, other)},
			})
			continue
		}
		seen[name] = sp.Dir

		existing, err := m.repo.Get(ctx, name)
		switch {
		case errors.Is(err, ErrPluginNotFound):
			p, err := m.register(ctx, sp)
			if err != nil {
				report.Failures = append(report.Failures, ScanFailure{Dir: sp.Dir, Name: name, Errors: []string{err.Error()}})
				continue
			}
			if p.State == StateFaulted {
				report.Faulted = append(report.Faulted, p)
			} else {
				report.Registered = append(report.Registered, p)
			}
		case err != nil:
			report.Failures = append(report.Failures, ScanFailure{Dir: sp.Dir, Name: name, Errors: []string{err.Error()}})
		case existing.Version != sp.Manifest.Version:
			existing.Path = sp.Dir
			if err := m.applyUpdate(ctx, existing, sp.Manifest); err != nil {
				report.Failures = append(report.Failures, ScanFailure{Dir: sp.Dir, Name: name, Errors: []string{err.Error()}})
				continue
			}
			report.Updated = append(report.Updated, existing)
		default:
			report.Unchanged = append(report.Unchanged, name)
		}
	}

	m.logger.Info(ctx, "discovery complete",
		ports.F("registered", len(report.Registered)),
		ports.F("faulted", len(report.Faulted)),
		ports.F("updated", len(report.Updated)),
		ports.F("failures", len(report.Failures)),
	)
	return report, nil
}

// RegisterPlugin persists a newly scanned plugin. A plugin targeting an
// incompatible host is registered directly into FAULTED.
func (m *Manager) RegisterPlugin(ctx context.Context, sp ScannedPlugin) (*Plugin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.register(ctx, sp)
}

func (m *Manager) register(ctx context.Context, sp ScannedPlugin) (*Plugin, error) {
	if sp.Manifest == nil {
		return nil, &ManifestError{Kind: KindInvalidManifest, Path: sp.Dir}
	}

	p := NewPlugin(sp.Manifest, sp.Dir, m.now())
	if err := m.repo.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("saving plugin %s: %w", p.Name, err)
	}
	m.publish(ctx, EventDiscovered, p)

	if reason := m.validator.CompatibilityError(sp.Manifest, m.hostVersion); reason != "" {
		if err := m.states.TransitionToFaulted(ctx, p, reason); err != nil {
			return nil, err
		}
		if err := m.repo.Save(ctx, p); err != nil {
			return nil, fmt.Errorf("saving plugin %s: %w", p.Name, err)
		}
		m.publish(ctx, EventFaulted, p)
		return p, nil
	}

	if err := m.states.TransitionToRegistered(ctx, p); err != nil {
		return nil, err
	}
	if err := m.repo.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("saving plugin %s: %w", p.Name, err)
	}
	m.publish(ctx, EventRegistered, p)
	return p, nil
}

// EnablePlugin enables the named plugin. Unmet dependencies and cycles are
// a hard stop. If activation fails after the state change the plugin is
// faulted and the activation error is returned.
func (m *Manager) EnablePlugin(ctx context.Context, name string) (*Plugin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if p.State == StateEnabled {
		return p, nil
	}
	if err := m.states.ValidateTransition(p, StateEnabled); err != nil {
		return nil, err
	}

	graph, err := m.resolver.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if problems := graph.ValidateDependencies(p); len(problems) > 0 {
		return nil, &DependencyError{Plugin: p.Name, Problems: problems}
	}
	if err := graph.CycleError(p); err != nil {
		return nil, err
	}

	if err := m.states.TransitionToEnabled(ctx, p); err != nil {
		return nil, err
	}
	if err := m.repo.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("saving plugin %s: %w", p.Name, err)
	}

	if step, err := m.activate(ctx, p); err != nil {
		return p, m.fault(ctx, p, step, err)
	}

	m.publish(ctx, EventEnabled, p)
	m.deferInvalidation(p)
	return p, nil
}

// DisablePlugin disables the named plugin after unloading it. It refuses
// while enabled plugins still require it.
func (m *Manager) DisablePlugin(ctx context.Context, name string) (*Plugin, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if p.State == StateDisabled {
		return p, nil
	}
	if err := m.states.ValidateTransition(p, StateDisabled); err != nil {
		return nil, err
	}

	graph, err := m.resolver.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	if dependents := graph.EnabledDependents(p); len(dependents) > 0 {
		return nil, &DependentsEnabledError{Plugin: p.Name, Dependents: dependents}
	}

	if err := m.deactivate(ctx, p); err != nil {
		if p.State != StateFaulted && m.states.CanTransition(p.State, StateFaulted) {
			return p, m.fault(ctx, p, "unload", err)
		}
		m.logger.Warn(ctx, "unloading plugin failed", ports.F("plugin", p.Name), ports.F("error", err.Error()))
	}

	if err := m.states.TransitionToDisabled(ctx, p); err != nil {
		return nil, err
	}
	if err := m.repo.Save(ctx, p); err != nil {
		return nil, fmt.Errorf("saving plugin %s: %w", p.Name, err)
	}

	m.publish(ctx, EventDisabled, p)
	m.deferInvalidation(p)
	return p, nil
}

// HandlePluginUpdate re-reads p's manifest from disk and stores the new
// version. An enabled plugin moves to UPDATE_PENDING so old code does not
// keep running under the new version.
func (m *Manager) HandlePluginUpdate(ctx context.Context, p *Plugin) error {
	if p == nil {
		return ErrNilPlugin
	}

	mf, err := m.parser.ParseDirectory(p.Path)
	if err != nil {
		return err
	}
	if verr := NewValidationError(m.validator.Validate(mf)); verr != nil {
		return verr
	}
	if mf.Name != p.Name {
		return fmt.Errorf("manifest at %s declares %q, expected %q", p.Path, mf.Name, p.Name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applyUpdate(ctx, p, mf)
}

func (m *Manager) applyUpdate(ctx context.Context, p *Plugin, mf *Manifest) error {
	previous := p.Version
	wasEnabled := p.State == StateEnabled

	p.ApplyManifest(mf)
	p.UpdatedAt = m.now()

	if wasEnabled {
		if err := m.states.TransitionToUpdatePending(ctx, p); err != nil {
			return err
		}
	}
	if err := m.repo.Save(ctx, p); err != nil {
		return fmt.Errorf("saving plugin %s: %w", p.Name, err)
	}

	m.logger.Info(ctx, "plugin updated",
		ports.F("plugin", p.Name),
		ports.F("from_version", previous),
		ports.F("to_version", p.Version),
	)
	m.publish(ctx, EventUpdated, p)
	return nil
}

// Boot loads every enabled plugin in dependency order and binds its entry
// points. Plugins that fail to load are faulted; the rest keep loading.
func (m *Manager) Boot(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	graph, err := m.resolver.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	var enabled []*Plugin
	for _, p := range graph.Plugins() {
		if p.State == StateEnabled {
			enabled = append(enabled, p)
		}
	}

	var loaded []string
	var errs []error
	for _, p := range graph.TopologicalOrder(enabled) {
		if p.State != StateEnabled {
			continue
		}
		if err := m.autoloader.Register(ctx, p); err != nil {
			errs = append(errs, m.fault(ctx, p, "autoload", err))
			continue
		}
		if err := m.extensions.Bind(ctx, p); err != nil {
			_ = m.autoloader.Unregister(ctx, p)
			errs = append(errs, m.fault(ctx, p, "bind", err))
			continue
		}
		loaded = append(loaded, p.Name)
	}

	return loaded, errors.Join(errs...)
}

// InstallDependencies runs the dependency installer for the named plugin.
func (m *Manager) InstallDependencies(ctx context.Context, name string) error {
	if m.installer == nil {
		return errors.New("no dependency installer configured")
	}
	p, err := m.Get(ctx, name)
	if err != nil {
		return err
	}
	if err := m.installer.Install(ctx, p); err != nil {
		return &LifecycleError{Plugin: p.Name, Step: "install dependencies", Err: err}
	}
	return nil
}

// activate runs the collaborators for an enable. On failure it undoes the
// steps that succeeded and returns the name of the failed step.
func (m *Manager) activate(ctx context.Context, p *Plugin) (string, error) {
	if err := m.autoloader.Register(ctx, p); err != nil {
		return "autoload", err
	}

	if p.HasCapability(CapabilityMigrations) {
		if err := m.migrations.Migrate(ctx, p); err != nil {
			_ = m.autoloader.Unregister(ctx, p)
			return "migrate", err
		}
	}

	if err := m.extensions.Bind(ctx, p); err != nil {
		_ = m.autoloader.Unregister(ctx, p)
		return "bind", err
	}

	if len(p.Assets()) > 0 {
		if err := m.assets.Publish(ctx, p); err != nil {
			_ = m.extensions.Unbind(ctx, p)
			_ = m.autoloader.Unregister(ctx, p)
			return "publish assets", err
		}
	}

	return "", nil
}

func (m *Manager) deactivate(ctx context.Context, p *Plugin) error {
	var errs []error
	if err := m.extensions.Unbind(ctx, p); err != nil {
		errs = append(errs, err)
	}
	if len(p.Assets()) > 0 {
		if err := m.assets.Unpublish(ctx, p); err != nil {
			errs = append(errs, err)
		}
	}
	if err := m.autoloader.Unregister(ctx, p); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// fault moves p to FAULTED, persists it and returns the wrapped cause.
func (m *Manager) fault(ctx context.Context, p *Plugin, step string, cause error) error {
	lifecycleErr := &LifecycleError{Plugin: p.Name, Step: step, Err: cause}

	if err := m.states.TransitionToFaulted(ctx, p, lifecycleErr.Error()); err != nil {
		return errors.Join(lifecycleErr, err)
	}
	if err := m.repo.Save(ctx, p); err != nil {
		return errors.Join(lifecycleErr, fmt.Errorf("saving plugin %s: %w", p.Name, err))
	}
	m.publish(ctx, EventFaulted, p)
	return lifecycleErr
}

func (m *Manager) publish(ctx context.Context, t EventType, p *Plugin) {
	if err := m.events.Publish(ctx, NewEvent(t, p, m.now())); err != nil {
		m.logger.Warn(ctx, "publishing event failed",
			ports.F("event", string(t)),
			ports.F("plugin", p.Name),
			ports.F("error", err.Error()),
		)
	}
}

func (m *Manager) deferInvalidation(p *Plugin) {
	snapshot := p.Clone()
	m.deferred.Defer("invalidate cache for "+p.Name, func(ctx context.Context) error {
		return m.cache.Invalidate(ctx, snapshot)
	})
}
