package plugin

import (
	"context"
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"
)

// DependencyResolver loads the installed plugin set once and hands out an
// in-memory graph to run dependency queries against.
type DependencyResolver struct {
	repo Repository
}

// NewDependencyResolver creates a resolver backed by repo.
func NewDependencyResolver(repo Repository) *DependencyResolver {
	return &DependencyResolver{repo: repo}
}

// Snapshot reads every plugin from the repository and builds a graph.
func (r *DependencyResolver) Snapshot(ctx context.Context) (*DependencyGraph, error) {
	plugins, err := r.repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing plugins: %w", err)
	}
	return NewDependencyGraph(plugins), nil
}

// DependencyGraph is an immutable snapshot of installed plugins keyed by
// name. Edges are derived from each plugin's requires map.
type DependencyGraph struct {
	plugins map[string]*Plugin
	names   []string
}

// NewDependencyGraph builds a graph over plugins.
func NewDependencyGraph(plugins []*Plugin) *DependencyGraph {
	g := &DependencyGraph{plugins: make(map[string]*Plugin, len(plugins))}
	for _, p := range plugins {
		if p == nil {
			continue
		}
		g.plugins[p.Name] = p
	}
	g.names = sortedKeys(g.plugins)
	return g
}

// Get returns the installed plugin with the given name.
func (g *DependencyGraph) Get(name string) (*Plugin, bool) {
	p, ok := g.plugins[name]
	return p, ok
}

// Plugins returns every plugin in the snapshot sorted by name.
func (g *DependencyGraph) Plugins() []*Plugin {
	out := make([]*Plugin, 0, len(g.names))
	for _, name := range g.names {
		out = append(out, g.plugins[name])
	}
	return out
}

// ValidateDependencies reports every unmet requirement of p. It never
// fails; an empty result means all requirements are satisfied.
func (g *DependencyGraph) ValidateDependencies(p *Plugin) []string {
	var problems []string
	requires := p.Requires()

	for _, name := range sortedKeys(requires) {
		constraint := requires[name]

		dep, ok := g.plugins[name]
		if !ok {
			problems = append(problems, fmt.Sprintf("required plugin %q is not installed", name))
			continue
		}
		if dep.State != StateEnabled {
			problems = append(problems, fmt.Sprintf("required plugin %q is not enabled (state=%s)", name, dep.State))
			continue
		}

		c, err := semver.NewConstraint(constraint)
		if err != nil {
			problems = append(problems, fmt.Sprintf("invalid constraint %q for required plugin %q", constraint, name))
			continue
		}
		v, err := semver.NewVersion(dep.Version)
		if err != nil {
			problems = append(problems, fmt.Sprintf("required plugin %q has invalid version %q", name, dep.Version))
			continue
		}
		if !c.Check(v) {
			problems = append(problems, fmt.Sprintf("requires %s %s, got %s", name, constraint, dep.Version))
		}
	}

	return problems
}

// HasCircularDependency reports whether a requires cycle is reachable from p.
func (g *DependencyGraph) HasCircularDependency(p *Plugin) bool {
	return g.CircularDependencyPath(p) != nil
}

// CircularDependencyPath returns the chain of names that closes a cycle
// reachable from p, ending with the repeated name, or nil if there is none.
func (g *DependencyGraph) CircularDependencyPath(p *Plugin) []string {
	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	var stack []string

	var visit func(name string, requires []string) []string
	visit = func(name string, requires []string) []string {
		if onStack[name] {
			cycle := make([]string, len(stack)+1)
			copy(cycle, stack)
			cycle[len(stack)] = name
			return cycle
		}
		if visited[name] {
			return nil
		}

		onStack[name] = true
		stack = append(stack, name)

		for _, dep := range requires {
			next, ok := g.plugins[dep]
			if !ok {
				continue
			}
			if cycle := visit(dep, next.RequiredNames()); cycle != nil {
				return cycle
			}
		}

		stack = stack[:len(stack)-1]
		onStack[name] = false
		visited[name] = true
		return nil
	}

	return visit(p.Name, p.RequiredNames())
}

// CycleError returns a CyclicDependencyError for p, or nil.
func (g *DependencyGraph) CycleError(p *Plugin) error {
	if cycle := g.CircularDependencyPath(p); cycle != nil {
		return &CyclicDependencyError{Cycle: cycle}
	}
	return nil
}

// Dependents returns every installed plugin that requires p, sorted by name.
func (g *DependencyGraph) Dependents(p *Plugin) []*Plugin {
	var out []*Plugin
	for _, name := range g.names {
		candidate := g.plugins[name]
		if _, ok := candidate.Requires()[p.Name]; ok {
			out = append(out, candidate)
		}
	}
	return out
}

// DependencyNode is one requirement in a dependency tree. Plugin is nil
// when the requirement is not installed.
type DependencyNode struct {
	Name       string         `json:"name" yaml:"name"`
	Constraint string         `json:"constraint" yaml:"constraint"`
	Plugin     *Plugin        `json:"-" yaml:"-"`
	Children   DependencyTree `json:"children,omitempty" yaml:"children,omitempty"`
}

// DependencyTree maps a required name to its node.
type DependencyTree map[string]*DependencyNode

// DependencyTree returns p's requirements as a nested structure. A name that
// has already been expanded anywhere in the tree gets an empty subtree.
func (g *DependencyGraph) DependencyTree(p *Plugin) DependencyTree {
	visited := map[string]bool{p.Name: true}
	return g.buildTree(p, visited)
}

func (g *DependencyGraph) buildTree(p *Plugin, visited map[string]bool) DependencyTree {
	tree := DependencyTree{}
	requires := p.Requires()

	for _, name := range sortedKeys(requires) {
		node := &DependencyNode{Name: name, Constraint: requires[name], Children: DependencyTree{}}
		tree[name] = node

		dep, ok := g.plugins[name]
		if !ok {
			continue
		}
		node.Plugin = dep
		if visited[name] {
			continue
		}
		visited[name] = true
		node.Children = g.buildTree(dep, visited)
	}

	return tree
}

// TopologicalOrder returns plugins ordered so that every installed
// requirement precedes the plugins that require it. Requirements that are
// not installed are skipped; installed requirements outside the input set
// are pulled in ahead of their dependents.
func (g *DependencyGraph) TopologicalOrder(plugins []*Plugin) []*Plugin {
	visited := make(map[string]bool)
	sorted := make([]*Plugin, 0, len(plugins))

	var visit func(p *Plugin)
	visit = func(p *Plugin) {
		if visited[p.Name] {
			return
		}
		visited[p.Name] = true

		for _, name := range p.RequiredNames() {
			if dep, ok := g.plugins[name]; ok {
				visit(dep)
			}
		}
		sorted = append(sorted, p)
	}

	for _, p := range plugins {
		if p != nil {
			visit(p)
		}
	}
	return sorted
}

// CanBeEnabled returns true if p's requirements are met and no cycle is
// reachable from it.
func (g *DependencyGraph) CanBeEnabled(p *Plugin) bool {
	return len(g.ValidateDependencies(p)) == 0 && !g.HasCircularDependency(p)
}

// CollectMissingDependencies returns every transitive requirement of p that
// is installed but not enabled, deepest first and without duplicates.
func (g *DependencyGraph) CollectMissingDependencies(p *Plugin) []*Plugin {
	visited := map[string]bool{p.Name: true}
	var out []*Plugin

	var walk func(current *Plugin)
	walk = func(current *Plugin) {
		for _, name := range current.RequiredNames() {
			if visited[name] {
				continue
			}
			visited[name] = true

			dep, ok := g.plugins[name]
			if !ok {
				continue
			}
			walk(dep)
			if dep.State != StateEnabled {
				out = append(out, dep)
			}
		}
	}

	walk(p)
	return out
}

// EnabledDependents returns the names of enabled plugins that require p.
func (g *DependencyGraph) EnabledDependents(p *Plugin) []string {
	var names []string
	for _, d := range g.Dependents(p) {
		if d.State == StateEnabled {
			names = append(names, d.Name)
		}
	}
	sort.Strings(names)
	return names
}
