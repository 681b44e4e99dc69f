package plugin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// EntryPointKind is a host registry a plugin can contribute classes to.
type EntryPointKind string

// Entry point kinds.
const (
	EntryPointCommand         EntryPointKind = "command"
	EntryPointCronTask        EntryPointKind = "cron_task"
	EntryPointEventSubscriber EntryPointKind = "event_subscriber"
)

// AllEntryPointKinds returns every entry point kind.
func AllEntryPointKinds() []EntryPointKind {
	return []EntryPointKind{EntryPointCommand, EntryPointCronTask, EntryPointEventSubscriber}
}

func (k EntryPointKind) manifestKey() string {
	switch k {
	case EntryPointCommand:
		return "commands"
	case EntryPointCronTask:
		return "cron_tasks"
	case EntryPointEventSubscriber:
		return "event_subscribers"
	default:
		return string(k)
	}
}

// Extension is one bound entry point.
type Extension struct {
	Kind       EntryPointKind
	Plugin     string
	Identifier string
}

// ExtensionRegistry owns the entry points bound for enabled plugins. Each
// kind has its own binder; kinds without a binder are only recorded.
type ExtensionRegistry struct {
	mu      sync.RWMutex
	binders map[EntryPointKind]ExtensionBinder
	bound   map[EntryPointKind]map[string][]string
}

// NewExtensionRegistry creates a registry using the given binders.
func NewExtensionRegistry(binders map[EntryPointKind]ExtensionBinder) *ExtensionRegistry {
	r := &ExtensionRegistry{
		binders: make(map[EntryPointKind]ExtensionBinder, len(binders)),
		bound:   make(map[EntryPointKind]map[string][]string),
	}
	for kind, b := range binders {
		r.binders[kind] = b
	}
	for _, kind := range AllEntryPointKinds() {
		r.bound[kind] = make(map[string][]string)
	}
	return r
}

// Bind binds every entry point p declares. If any binding fails the ones
// already made for p are undone. Binding an already bound plugin replaces
// its previous entry points.
func (r *ExtensionRegistry) Bind(ctx context.Context, p *Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.unbindLocked(ctx, p); err != nil {
		return fmt.Errorf("releasing previous bindings of %s: %w", p.Name, err)
	}

	entries := p.EntryPoints()
	var done []Extension

	for _, kind := range AllEntryPointKinds() {
		for _, id := range entries.ByKind(kind) {
			if b := r.binders[kind]; b != nil {
				if err := b.Bind(ctx, p, id); err != nil {
					r.unbindAll(ctx, p, done)
					return fmt.Errorf("binding %s %s: %w", kind, id, err)
				}
			}
			done = append(done, Extension{Kind: kind, Plugin: p.Name, Identifier: id})
		}
	}

	for _, ext := range done {
		r.bound[ext.Kind][p.Name] = append(r.bound[ext.Kind][p.Name], ext.Identifier)
	}
	return nil
}

// Unbind removes every entry point recorded for p.
func (r *ExtensionRegistry) Unbind(ctx context.Context, p *Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.unbindLocked(ctx, p)
}

func (r *ExtensionRegistry) unbindLocked(ctx context.Context, p *Plugin) error {
	var exts []Extension
	for _, kind := range AllEntryPointKinds() {
		for _, id := range r.bound[kind][p.Name] {
			exts = append(exts, Extension{Kind: kind, Plugin: p.Name, Identifier: id})
		}
		delete(r.bound[kind], p.Name)
	}
	return r.unbindAll(ctx, p, exts)
}

func (r *ExtensionRegistry) unbindAll(ctx context.Context, p *Plugin, exts []Extension) error {
	var errs []error
	for i := len(exts) - 1; i >= 0; i-- {
		b := r.binders[exts[i].Kind]
		if b == nil {
			continue
		}
		if err := b.Unbind(ctx, p, exts[i].Identifier); err != nil {
			errs = append(errs, fmt.Errorf("unbinding %s %s: %w", exts[i].Kind, exts[i].Identifier, err))
		}
	}
	return errors.Join(errs...)
}

// Entries returns the bound extensions of one kind, ordered by plugin then
// declaration order.
func (r *ExtensionRegistry) Entries(kind EntryPointKind) []Extension {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byPlugin := r.bound[kind]
	var out []Extension
	for _, name := range sortedKeys(byPlugin) {
		for _, id := range byPlugin[name] {
			out = append(out, Extension{Kind: kind, Plugin: name, Identifier: id})
		}
	}
	return out
}

// IsBound returns true if any entry point of p is bound.
func (r *ExtensionRegistry) IsBound(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, byPlugin := range r.bound {
		if len(byPlugin[name]) > 0 {
			return true
		}
	}
	return false
}

// Plugins returns the names of plugins with at least one bound entry point.
func (r *ExtensionRegistry) Plugins() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := map[string]bool{}
	for _, byPlugin := range r.bound {
		for name, ids := range byPlugin {
			if len(ids) > 0 {
				seen[name] = true
			}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
