package plugin

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MemoryRepository is an in-memory Repository. It stores clones so callers
// cannot mutate persisted state without calling Save.
type MemoryRepository struct {
	mu      sync.RWMutex
	plugins map[string]*Plugin
}

// NewMemoryRepository creates a repository seeded with plugins.
func NewMemoryRepository(plugins ...*Plugin) *MemoryRepository {
	r := &MemoryRepository{plugins: make(map[string]*Plugin, len(plugins))}
	for _, p := range plugins {
		r.plugins[p.Name] = p.Clone()
	}
	return r
}

// Get returns the plugin with the given name.
func (r *MemoryRepository) Get(_ context.Context, name string) (*Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.plugins[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, name)
	}
	return p.Clone(), nil
}

// List returns all plugins sorted by name.
func (r *MemoryRepository) List(_ context.Context) ([]*Plugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Plugin, 0, len(r.plugins))
	for _, p := range r.plugins {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Save stores a copy of p.
func (r *MemoryRepository) Save(_ context.Context, p *Plugin) error {
	if p == nil {
		return ErrNilPlugin
	}
	if p.Name == "" {
		return ErrEmptyPluginName
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins[p.Name] = p.Clone()
	return nil
}

var _ Repository = (*MemoryRepository)(nil)
