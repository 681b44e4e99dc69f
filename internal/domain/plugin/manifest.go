// Package plugin implements the plugin lifecycle: manifest parsing and
// validation, discovery, the state machine, dependency resolution and the
// manager that orchestrates them.
package plugin

import (
	"encoding/json"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ManifestFileName is the descriptor every plugin directory must contain.
const ManifestFileName = "plugin.json"

// Capability declares which extension point kinds a plugin participates in.
type Capability string

// Known capabilities.
const (
	CapabilityRoutes     Capability = "routes"
	CapabilityEntities   Capability = "entities"
	CapabilityMigrations Capability = "migrations"
	CapabilityUI         Capability = "ui"
	CapabilityEDA        Capability = "eda"
	CapabilityConsole    Capability = "console"
	CapabilityCron       Capability = "cron"
)

// AllCapabilities returns the capability whitelist.
func AllCapabilities() []Capability {
	return []Capability{
		CapabilityRoutes,
		CapabilityEntities,
		CapabilityMigrations,
		CapabilityUI,
		CapabilityEDA,
		CapabilityConsole,
		CapabilityCron,
	}
}

// IsKnown reports whether the capability is whitelisted.
func (c Capability) IsKnown() bool {
	for _, known := range AllCapabilities() {
		if c == known {
			return true
		}
	}
	return false
}

// HostCompatibility is the range of host versions a plugin supports.
type HostCompatibility struct {
	Min string `json:"min"`
	Max string `json:"max,omitempty"`
}

// EntryPoints lists the fully qualified classes a plugin contributes to the
// host's command, scheduler and event registries.
type EntryPoints struct {
	Commands         []string `json:"commands,omitempty"`
	CronTasks        []string `json:"cron_tasks,omitempty"`
	EventSubscribers []string `json:"event_subscribers,omitempty"`
}

// IsEmpty returns true if no entry points are declared.
func (e EntryPoints) IsEmpty() bool {
	return len(e.Commands) == 0 && len(e.CronTasks) == 0 && len(e.EventSubscribers) == 0
}

// ByKind returns the identifiers declared for one extension kind.
func (e EntryPoints) ByKind(kind EntryPointKind) []string {
	switch kind {
	case EntryPointCommand:
		return e.Commands
	case EntryPointCronTask:
		return e.CronTasks
	case EntryPointEventSubscriber:
		return e.EventSubscribers
	default:
		return nil
	}
}

// ConfigSetting is one entry of a manifest's config_schema.
type ConfigSetting struct {
	Key       string
	Type      string
	Hierarchy string
	Default   any
}

// Asset types accepted in a manifest.
const (
	AssetCSS   = "css"
	AssetJS    = "js"
	AssetImg   = "img"
	AssetFonts = "fonts"
)

// Manifest is the parsed plugin.json descriptor.
type Manifest struct {
	Name           string              `json:"name"`
	DisplayName    string              `json:"display_name"`
	Version        string              `json:"version"`
	Author         string              `json:"author"`
	Description    string              `json:"description"`
	License        string              `json:"license"`
	Host           HostCompatibility   `json:"pteroca"`
	Capabilities   []Capability        `json:"capabilities"`
	Requires       map[string]string   `json:"requires,omitempty"`
	ConfigSchema   map[string]any      `json:"config_schema,omitempty"`
	MarketplaceURL string              `json:"marketplace_url,omitempty"`
	BootstrapClass string              `json:"bootstrap_class,omitempty"`
	Migrations     string              `json:"migrations,omitempty"`
	Routes         string              `json:"routes,omitempty"`
	Console        string              `json:"console,omitempty"`
	Cron           string              `json:"cron,omitempty"`
	Assets         map[string][]string `json:"assets,omitempty"`
	EntryPoints    EntryPoints         `json:"entrypoints"`

	// Raw is the manifest exactly as read from disk.
	Raw json.RawMessage `json:"-"`
}

// HasCapability returns true if the manifest declares the capability.
func (m *Manifest) HasCapability(c Capability) bool {
	for _, declared := range m.Capabilities {
		if declared == c {
			return true
		}
	}
	return false
}

// RequiredNames returns the names in requires, sorted for deterministic traversal.
func (m *Manifest) RequiredNames() []string {
	return sortedKeys(m.Requires)
}

// RawMap decodes Raw into a generic map. It returns nil when Raw is empty
// or does not hold a JSON object.
func (m *Manifest) RawMap() map[string]any {
	if len(m.Raw) == 0 {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(m.Raw, &out); err != nil {
		return nil
	}
	return out
}

// Settings returns the config_schema entries sorted by key. Entries that are
// not objects are skipped; the validator reports them.
func (m *Manifest) Settings() []ConfigSetting {
	settings := make([]ConfigSetting, 0, len(m.ConfigSchema))
	for _, key := range sortedKeys(m.ConfigSchema) {
		entry, ok := m.ConfigSchema[key].(map[string]any)
		if !ok {
			continue
		}
		s := ConfigSetting{Key: key, Default: entry["default"]}
		s.Type, _ = entry["type"].(string)
		s.Hierarchy, _ = entry["hierarchy"].(string)
		settings = append(settings, s)
	}
	return settings
}

// Namespace is the class namespace reserved for the plugin, e.g.
// "Plugins\HelloWorld\" for a plugin named hello-world.
func (m *Manifest) Namespace() string {
	return NamespaceFor(m.Name)
}

// NamespaceFor derives the reserved class namespace from a plugin name.
func NamespaceFor(name string) string {
	caser := cases.Title(language.Und)
	var b strings.Builder
	b.WriteString(`Plugins\`)
	for _, part := range strings.Split(name, "-") {
		b.WriteString(caser.String(part))
	}
	b.WriteString(`\`)
	return b.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
