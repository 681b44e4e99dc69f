package plugin

import (
	"context"
	"fmt"
	"os"
)

// HealthStatus summarizes a plugin health report.
type HealthStatus string

// Health statuses.
const (
	HealthOK        HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
)

// HealthReport is the result of checking a single plugin.
type HealthReport struct {
	Plugin   string       `json:"plugin" yaml:"plugin"`
	Version  string       `json:"version" yaml:"version"`
	State    State        `json:"state" yaml:"state"`
	Status   HealthStatus `json:"status" yaml:"status"`
	Problems []string     `json:"problems,omitempty" yaml:"problems,omitempty"`
}

// HealthCheck inspects every known plugin against its directory, manifest,
// host compatibility and dependency graph.
func (m *Manager) HealthCheck(ctx context.Context) ([]HealthReport, error) {
	graph, err := m.resolver.Snapshot(ctx)
	if err != nil {
		return nil, err
	}

	plugins := graph.Plugins()
	reports := make([]HealthReport, 0, len(plugins))
	for _, p := range plugins {
		reports = append(reports, m.checkPlugin(graph, p))
	}
	return reports, nil
}

func (m *Manager) checkPlugin(graph *DependencyGraph, p *Plugin) HealthReport {
	report := HealthReport{Plugin: p.Name, Version: p.Version, State: p.State, Status: HealthOK}
	unhealthy := false

	if p.State == StateFaulted {
		unhealthy = true
		report.Problems = append(report.Problems, "faulted: "+p.FaultReason)
	}

	if info, err := os.Stat(p.Path); err != nil || !info.IsDir() {
		unhealthy = true
		report.Problems = append(report.Problems, fmt.Sprintf("plugin directory %s is missing", p.Path))
	} else if mf, err := m.parser.ParseDirectory(p.Path); err != nil {
		unhealthy = true
		report.Problems = append(report.Problems, err.Error())
	} else {
		for _, issue := range m.validator.Validate(mf) {
			report.Problems = append(report.Problems, issue.String())
		}
		if mf.Version != p.Version {
			report.Problems = append(report.Problems,
				fmt.Sprintf("manifest version %s differs from registered version %s", mf.Version, p.Version))
		}
		if reason := m.validator.CompatibilityError(mf, m.hostVersion); reason != "" {
			report.Problems = append(report.Problems, reason)
		}
	}

	if p.State == StateEnabled {
		report.Problems = append(report.Problems, graph.ValidateDependencies(p)...)
	}
	if cycle := graph.CycleError(p); cycle != nil {
		report.Problems = append(report.Problems, cycle.Error())
	}

	switch {
	case unhealthy:
		report.Status = HealthUnhealthy
	case len(report.Problems) > 0:
		report.Status = HealthDegraded
	}
	return report
}
