package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"

	"github.com/pteroca-com/pluginhost/internal/config"
)

// newTestApp wires an app against temporary directories with file storage.
func newTestApp(t *testing.T) *app {
	t.Helper()

	root := t.TempDir()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.PluginsDir = filepath.Join(root, "plugins")
	cfg.StateFile = filepath.Join(root, "var", "plugins.yaml")
	cfg.CacheDir = filepath.Join(root, "var", "cache")
	cfg.PublicDir = filepath.Join(root, "public", "plugins")
	require.NoError(t, os.MkdirAll(cfg.PluginsDir, 0o755))

	a, err := newApp(context.Background(), cfg, io.Discard)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func manifest(t *testing.T, name, version string, mutate func(map[string]any)) []byte {
	t.Helper()

	m := map[string]any{
		"name":         name,
		"display_name": "Display " + name,
		"version":      version,
		"author":       "Acme Hosting",
		"description":  "Adds features to the panel.",
		"license":      "MIT",
		"pteroca":      map[string]any{"min": "0.5.0", "max": "0.9.0"},
		"capabilities": []any{"routes"},
	}
	if mutate != nil {
		mutate(m)
	}
	data, err := json.Marshal(m)
	require.NoError(t, err)
	return data
}

func writePlugin(t *testing.T, a *app, name string, data []byte) string {
	t.Helper()

	dir := filepath.Join(a.cfg.PluginsDir, name)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plugin.json"), data, 0o644))
	return dir
}

func requires(deps map[string]string) func(map[string]any) {
	return func(m map[string]any) {
		m["requires"] = deps
	}
}

// scanAll registers everything under the plugins root.
func scanAll(t *testing.T, a *app) {
	t.Helper()
	var out bytes.Buffer
	require.NoError(t, runPluginScan(context.Background(), &out, a))
}

func buildArchive(t *testing.T, files map[string]string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "plugin.zip")
	f, err := os.Create(path)
	require.NoError(t, err)

	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
	return path
}

// withOutput switches the global --output value for one test.
func withOutput(t *testing.T, format string) {
	t.Helper()
	prev := outputFormat
	outputFormat = format
	t.Cleanup(func() { outputFormat = prev })
}

// reopen wires a second app over the same configuration, the way a fresh
// pluginctl invocation would.
func reopen(t *testing.T, a *app) *app {
	t.Helper()

	b, err := newApp(context.Background(), a.cfg, io.Discard)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}
