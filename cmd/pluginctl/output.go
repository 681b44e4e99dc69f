package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pteroca-com/pluginhost/internal/domain/plugin"
)

// render writes v in the selected --output format. text renders the human
// form.
func render(w io.Writer, v any, text func(io.Writer) error) error {
	switch outputFormat {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return text(w)
	}
}

func newTabWriter(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

// pluginView is the machine-readable form of a plugin.
type pluginView struct {
	Name        string            `json:"name" yaml:"name"`
	DisplayName string            `json:"display_name" yaml:"display_name"`
	Version     string            `json:"version" yaml:"version"`
	State       plugin.State      `json:"state" yaml:"state"`
	Author      string            `json:"author,omitempty" yaml:"author,omitempty"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	License     string            `json:"license,omitempty" yaml:"license,omitempty"`
	Path        string            `json:"path" yaml:"path"`
	HostMin     string            `json:"host_min,omitempty" yaml:"host_min,omitempty"`
	HostMax     string            `json:"host_max,omitempty" yaml:"host_max,omitempty"`
	Requires    map[string]string `json:"requires,omitempty" yaml:"requires,omitempty"`
	EnabledAt   *time.Time        `json:"enabled_at,omitempty" yaml:"enabled_at,omitempty"`
	DisabledAt  *time.Time        `json:"disabled_at,omitempty" yaml:"disabled_at,omitempty"`
	FaultReason string            `json:"fault_reason,omitempty" yaml:"fault_reason,omitempty"`
}

func newPluginView(p *plugin.Plugin) pluginView {
	v := pluginView{
		Name:        p.Name,
		DisplayName: p.DisplayName,
		Version:     p.Version,
		State:       p.State,
		Author:      p.Author,
		Description: p.Description,
		License:     p.License,
		Path:        p.Path,
		HostMin:     p.HostMin,
		HostMax:     p.HostMax,
		EnabledAt:   p.EnabledAt,
		DisabledAt:  p.DisabledAt,
		FaultReason: p.FaultReason,
	}
	if req := p.Requires(); len(req) > 0 {
		v.Requires = req
	}
	return v
}

func newPluginViews(ps []*plugin.Plugin) []pluginView {
	out := make([]pluginView, 0, len(ps))
	for _, p := range ps {
		out = append(out, newPluginView(p))
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func printf(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
