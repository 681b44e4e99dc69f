package plugin

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// Plugin is the persisted plugin aggregate.
type Plugin struct {
	ID          string
	Name        string
	DisplayName string
	Version     string
	Author      string
	Description string
	License     string
	State       State
	Path        string
	// Manifest is the raw plugin.json kept for re-validation and capability checks.
	Manifest    json.RawMessage
	HostMin     string
	HostMax     string
	EnabledAt   *time.Time
	DisabledAt  *time.Time
	FaultReason string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// NewPlugin creates a DISCOVERED plugin from a parsed manifest.
func NewPlugin(m *Manifest, dir string, now time.Time) *Plugin {
	p := &Plugin{
		ID:        uuid.NewString(),
		State:     StateDiscovered,
		Path:      dir,
		CreatedAt: now,
		UpdatedAt: now,
	}
	p.ApplyManifest(m)
	return p
}

// ApplyManifest overwrites the descriptive fields with those of m.
func (p *Plugin) ApplyManifest(m *Manifest) {
	p.Name = m.Name
	p.DisplayName = m.DisplayName
	p.Version = m.Version
	p.Author = m.Author
	p.Description = m.Description
	p.License = m.License
	p.HostMin = m.Host.Min
	p.HostMax = m.Host.Max
	p.Manifest = append(json.RawMessage(nil), m.Raw...)
}

// Requires returns the plugin's requirements read from the raw manifest.
func (p *Plugin) Requires() map[string]string {
	out := map[string]string{}
	gjson.GetBytes(p.Manifest, "requires").ForEach(func(key, value gjson.Result) bool {
		out[key.String()] = value.String()
		return true
	})
	return out
}

// RequiredNames returns the names of required plugins in sorted order.
func (p *Plugin) RequiredNames() []string {
	return sortedKeys(p.Requires())
}

// HasCapability returns true if the raw manifest declares the capability.
func (p *Plugin) HasCapability(c Capability) bool {
	for _, v := range gjson.GetBytes(p.Manifest, "capabilities").Array() {
		if v.String() == string(c) {
			return true
		}
	}
	return false
}

// EntryPoints returns the entry points declared in the raw manifest.
func (p *Plugin) EntryPoints() EntryPoints {
	strs := func(path string) []string {
		var out []string
		for _, v := range gjson.GetBytes(p.Manifest, path).Array() {
			out = append(out, v.String())
		}
		return out
	}
	return EntryPoints{
		Commands:         strs("entrypoints.commands"),
		CronTasks:        strs("entrypoints.cron_tasks"),
		EventSubscribers: strs("entrypoints.event_subscribers"),
	}
}

// Assets returns the declared asset paths keyed by asset type.
func (p *Plugin) Assets() map[string][]string {
	out := map[string][]string{}
	gjson.GetBytes(p.Manifest, "assets").ForEach(func(key, value gjson.Result) bool {
		for _, v := range value.Array() {
			out[key.String()] = append(out[key.String()], v.String())
		}
		return true
	})
	return out
}

// ManifestString returns a string field from the raw manifest.
func (p *Plugin) ManifestString(key string) string {
	return gjson.GetBytes(p.Manifest, key).String()
}

// IsEnabled returns true if the plugin is in the ENABLED state.
func (p *Plugin) IsEnabled() bool {
	return p.State == StateEnabled
}

// Clone returns a deep copy.
func (p *Plugin) Clone() *Plugin {
	c := *p
	c.Manifest = append(json.RawMessage(nil), p.Manifest...)
	if p.EnabledAt != nil {
		t := *p.EnabledAt
		c.EnabledAt = &t
	}
	if p.DisabledAt != nil {
		t := *p.DisabledAt
		c.DisabledAt = &t
	}
	return &c
}
