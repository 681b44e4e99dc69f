// Package statefile persists plugin state in a single YAML file. It is the
// default storage when no database is configured.
package statefile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pteroca-com/pluginhost/internal/domain/plugin"
)

// Errors returned by the repository.
var (
	ErrStateFileCorrupt = errors.New("plugin state file is corrupt")
	ErrSaveFailed       = errors.New("failed to save plugin state")
)

const formatVersion = 1

type fileDTO struct {
	Version int         `yaml:"version"`
	Plugins []pluginDTO `yaml:"plugins"`
}

type pluginDTO struct {
	ID          string     `yaml:"id"`
	Name        string     `yaml:"name"`
	DisplayName string     `yaml:"display_name"`
	Version     string     `yaml:"version"`
	Author      string     `yaml:"author"`
	Description string     `yaml:"description"`
	License     string     `yaml:"license"`
	State       string     `yaml:"state"`
	Path        string     `yaml:"path"`
	HostMin     string     `yaml:"host_min"`
	HostMax     string     `yaml:"host_max,omitempty"`
	EnabledAt   *time.Time `yaml:"enabled_at,omitempty"`
	DisabledAt  *time.Time `yaml:"disabled_at,omitempty"`
	FaultReason string     `yaml:"fault_reason,omitempty"`
	CreatedAt   time.Time  `yaml:"created_at"`
	UpdatedAt   time.Time  `yaml:"updated_at"`
	Manifest    string     `yaml:"manifest"`
}

func toDTO(p *plugin.Plugin) pluginDTO {
	return pluginDTO{
		ID:          p.ID,
		Name:        p.Name,
		DisplayName: p.DisplayName,
		Version:     p.Version,
		Author:      p.Author,
		Description: p.Description,
		License:     p.License,
		State:       string(p.State),
		Path:        p.Path,
		HostMin:     p.HostMin,
		HostMax:     p.HostMax,
		EnabledAt:   p.EnabledAt,
		DisabledAt:  p.DisabledAt,
		FaultReason: p.FaultReason,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
		Manifest:    string(p.Manifest),
	}
}

func fromDTO(d pluginDTO) (*plugin.Plugin, error) {
	state, err := plugin.ParseState(d.State)
	if err != nil {
		return nil, fmt.Errorf("plugin %s: %w", d.Name, err)
	}
	return &plugin.Plugin{
		ID:          d.ID,
		Name:        d.Name,
		DisplayName: d.DisplayName,
		Version:     d.Version,
		Author:      d.Author,
		Description: d.Description,
		License:     d.License,
		State:       state,
		Path:        d.Path,
		HostMin:     d.HostMin,
		HostMax:     d.HostMax,
		EnabledAt:   d.EnabledAt,
		DisabledAt:  d.DisabledAt,
		FaultReason: d.FaultReason,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
		Manifest:    []byte(d.Manifest),
	}, nil
}

// Repository implements plugin.Repository over a YAML file. The file is
// re-read on every call so several pluginctl invocations see each other's
// writes.
type Repository struct {
	mu   sync.Mutex
	path string
}

// NewRepository creates a repository stored at path.
func NewRepository(path string) *Repository {
	return &Repository{path: path}
}

// Path returns the state file location.
func (r *Repository) Path() string {
	return r.path
}

// Get returns the named plugin.
func (r *Repository) Get(_ context.Context, name string) (*plugin.Plugin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	plugins, err := r.load()
	if err != nil {
		return nil, err
	}
	p, ok := plugins[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", plugin.ErrPluginNotFound, name)
	}
	return p, nil
}

// List returns every plugin sorted by name.
func (r *Repository) List(_ context.Context) ([]*plugin.Plugin, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	plugins, err := r.load()
	if err != nil {
		return nil, err
	}
	return sorted(plugins), nil
}

// Save inserts or replaces p.
func (r *Repository) Save(_ context.Context, p *plugin.Plugin) error {
	if p == nil {
		return plugin.ErrNilPlugin
	}
	if p.Name == "" {
		return plugin.ErrEmptyPluginName
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	plugins, err := r.load()
	if err != nil {
		return err
	}
	plugins[p.Name] = p.Clone()
	return r.write(plugins)
}

func (r *Repository) load() (map[string]*plugin.Plugin, error) {
	plugins := make(map[string]*plugin.Plugin)

	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return plugins, nil
		}
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	var dto fileDTO
	if err := yaml.Unmarshal(data, &dto); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStateFileCorrupt, err)
	}
	if dto.Version > formatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrStateFileCorrupt, dto.Version)
	}

	for _, d := range dto.Plugins {
		p, err := fromDTO(d)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStateFileCorrupt, err)
		}
		plugins[p.Name] = p
	}
	return plugins, nil
}

func (r *Repository) write(plugins map[string]*plugin.Plugin) error {
	dto := fileDTO{Version: formatVersion}
	for _, p := range sorted(plugins) {
		dto.Plugins = append(dto.Plugins, toDTO(p))
	}

	data, err := yaml.Marshal(&dto)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("%w: failed to create directory: %w", ErrSaveFailed, err)
	}

	tmpPath := r.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("%w: %w", ErrSaveFailed, err)
	}
	return nil
}

func sorted(plugins map[string]*plugin.Plugin) []*plugin.Plugin {
	out := make([]*plugin.Plugin, 0, len(plugins))
	for _, p := range plugins {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

var _ plugin.Repository = (*Repository)(nil)
