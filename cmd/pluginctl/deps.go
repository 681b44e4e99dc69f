package main

import (
	"context"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/pteroca-com/pluginhost/internal/domain/plugin"
)

var depsCmd = &cobra.Command{
	Use:   "deps",
	Short: "Inspect plugin dependencies",
}

var depsTreeCmd = &cobra.Command{
	Use:   "tree <name>",
	Short: "Show what a plugin requires, recursively",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			return runDepsTree(cmd.Context(), cmd.OutOrStdout(), a, args[0])
		})
	},
}

var depsDependentsCmd = &cobra.Command{
	Use:   "dependents <name>",
	Short: "List plugins that require a plugin",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			return runDepsDependents(cmd.Context(), cmd.OutOrStdout(), a, args[0])
		})
	},
}

var depsOrderCmd = &cobra.Command{
	Use:   "order",
	Short: "Print the load order of all plugins",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(a *app) error {
			return runDepsOrder(cmd.Context(), cmd.OutOrStdout(), a)
		})
	},
}

func init() {
	rootCmd.AddCommand(depsCmd)
	depsCmd.AddCommand(depsTreeCmd)
	depsCmd.AddCommand(depsDependentsCmd)
	depsCmd.AddCommand(depsOrderCmd)
}

func runDepsTree(ctx context.Context, w io.Writer, a *app, name string) error {
	p, err := a.manager.Get(ctx, name)
	if err != nil {
		return err
	}
	graph, err := a.manager.Graph(ctx)
	if err != nil {
		return err
	}

	tree := graph.DependencyTree(p)
	return render(w, tree, func(w io.Writer) error {
		printf(w, "%s@%s\n", p.Name, p.Version)
		printTree(w, tree, "")
		for _, problem := range graph.ValidateDependencies(p) {
			printf(w, "\n✗ %s", problem)
		}
		if err := graph.CycleError(p); err != nil {
			printf(w, "\n✗ %s", err)
		}
		printf(w, "\n")
		return nil
	})
}

func printTree(w io.Writer, tree plugin.DependencyTree, indent string) {
	names := make([]string, 0, len(tree))
	for name := range tree {
		names = append(names, name)
	}
	sort.Strings(names)

	for i, name := range names {
		node := tree[name]
		branch, next := "├── ", "│   "
		if i == len(names)-1 {
			branch, next = "└── ", "    "
		}

		status := "missing"
		if node.Plugin != nil {
			status = node.Plugin.Version + ", " + string(node.Plugin.State)
		}
		printf(w, "%s%s%s %s (%s)\n", indent, branch, node.Name, node.Constraint, status)
		printTree(w, node.Children, indent+next)
	}
}

func runDepsDependents(ctx context.Context, w io.Writer, a *app, name string) error {
	p, err := a.manager.Get(ctx, name)
	if err != nil {
		return err
	}
	graph, err := a.manager.Graph(ctx)
	if err != nil {
		return err
	}

	dependents := graph.Dependents(p)
	return render(w, newPluginViews(dependents), func(w io.Writer) error {
		if len(dependents) == 0 {
			printf(w, "No plugins require %s.\n", p.Name)
			return nil
		}
		tw := newTabWriter(w)
		printf(tw, "NAME\tVERSION\tSTATE\tCONSTRAINT\n")
		for _, d := range dependents {
			printf(tw, "%s\t%s\t%s\t%s\n", d.Name, d.Version, d.State, d.Requires()[p.Name])
		}
		return tw.Flush()
	})
}

func runDepsOrder(ctx context.Context, w io.Writer, a *app) error {
	graph, err := a.manager.Graph(ctx)
	if err != nil {
		return err
	}

	ordered := graph.TopologicalOrder(graph.Plugins())
	names := make([]string, 0, len(ordered))
	for _, p := range ordered {
		names = append(names, p.Name)
	}

	return render(w, names, func(w io.Writer) error {
		for i, p := range ordered {
			printf(w, "%3d. %s (%s)\n", i+1, p.Name, p.State)
		}
		return nil
	})
}
