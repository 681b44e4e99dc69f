package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pteroca-com/pluginhost/internal/domain/plugin"
	"github.com/pteroca-com/pluginhost/internal/domain/upload"
)

func TestPluginLifecycleCommands(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	a := newTestApp(t)
	writePlugin(t, a, "core", manifest(t, "core", "1.0.0", nil))
	writePlugin(t, a, "hello", manifest(t, "hello", "1.2.0", requires(map[string]string{"core": "^1.0"})))

	var out bytes.Buffer
	require.NoError(t, runPluginScan(ctx, &out, a))
	assert.Contains(t, out.String(), "✓ Registered core@1.0.0")
	assert.Contains(t, out.String(), "2 registered, 0 updated, 0 unchanged, 0 faulted, 0 failed")

	out.Reset()
	require.NoError(t, runPluginList(ctx, &out, a))
	assert.Contains(t, out.String(), "NAME")
	assert.Regexp(t, `hello\s+1\.2\.0\s+registered`, out.String())

	err := runPluginEnable(ctx, &out, a, "hello")
	var depErr *plugin.DependencyError
	require.ErrorAs(t, err, &depErr)
	assert.Equal(t, []string{`required plugin "core" is not enabled (state=registered)`}, depErr.Problems)

	out.Reset()
	require.NoError(t, runPluginEnable(ctx, &out, a, "core"))
	require.NoError(t, runPluginEnable(ctx, &out, a, "hello"))
	assert.Contains(t, out.String(), "✓ Plugin hello@1.2.0 is enabled")

	out.Reset()
	require.NoError(t, runPluginInfo(ctx, &out, a, "core"))
	assert.Contains(t, out.String(), "State:       enabled")
	assert.Contains(t, out.String(), "Required by: hello")

	err = runPluginDisable(ctx, &out, a, "core")
	assert.True(t, plugin.IsDependentsEnabled(err))

	out.Reset()
	require.NoError(t, runPluginDisable(ctx, &out, a, "hello"))
	require.NoError(t, runPluginDisable(ctx, &out, a, "core"))
	assert.Contains(t, out.String(), "✓ Plugin core@1.0.0 is disabled")

	stored, err := a.repo.Get(ctx, "core")
	require.NoError(t, err)
	assert.Equal(t, plugin.StateDisabled, stored.State)
	assert.NotNil(t, stored.DisabledAt)
}

func TestPluginScan_ReportsFailures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	a := newTestApp(t)
	writePlugin(t, a, "hello", manifest(t, "hello", "1.0.0", nil))
	writePlugin(t, a, "future", manifest(t, "future", "1.0.0", func(m map[string]any) {
		m["pteroca"] = map[string]any{"min": "2.0.0"}
	}))
	writePlugin(t, a, "broken", []byte(`{"name":`))

	var out bytes.Buffer
	err := runPluginScan(ctx, &out, a)
	assert.Equal(t, 1, exitCode(err))
	assert.Empty(t, formatError(err))

	assert.Contains(t, out.String(), "✓ Registered hello@1.0.0")
	assert.Contains(t, out.String(), "✗ Faulted future@1.0.0")
	assert.Contains(t, out.String(), "✗ Skipped "+filepath.Join(a.cfg.PluginsDir, "broken"))

	out.Reset()
	err = runPluginScan(ctx, &out, a)
	assert.Equal(t, 1, exitCode(err), "the broken plugin is still reported")
	assert.Contains(t, out.String(), "0 registered, 0 updated, 2 unchanged, 0 faulted, 1 failed")
}

func TestPluginScan_UpdatedVersion(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	a := newTestApp(t)
	writePlugin(t, a, "hello", manifest(t, "hello", "1.0.0", nil))
	scanAll(t, a)

	var out bytes.Buffer
	require.NoError(t, runPluginEnable(ctx, &out, a, "hello"))
	writePlugin(t, a, "hello", manifest(t, "hello", "1.1.0", nil))

	out.Reset()
	require.NoError(t, runPluginScan(ctx, &out, a))
	assert.Contains(t, out.String(), "↑ Updated hello to 1.1.0 (update_pending)")
}

func TestPluginList_Empty(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	var out bytes.Buffer
	require.NoError(t, runPluginList(context.Background(), &out, a))
	assert.Contains(t, out.String(), "No plugins registered.")
}

func TestPluginList_JSON(t *testing.T) {
	withOutput(t, "json")

	a := newTestApp(t)
	writePlugin(t, a, "hello", manifest(t, "hello", "1.0.0", nil))
	scanAll(t, a)

	var out bytes.Buffer
	require.NoError(t, runPluginList(context.Background(), &out, a))

	var views []pluginView
	require.NoError(t, json.Unmarshal(out.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, "hello", views[0].Name)
	assert.Equal(t, plugin.StateRegistered, views[0].State)
}

func TestPluginInfo_NotFound(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	err := runPluginInfo(context.Background(), &bytes.Buffer{}, a, "ghost")
	assert.ErrorIs(t, err, plugin.ErrPluginNotFound)
}

func TestPluginEnable_PublishesAssets(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	a := newTestApp(t)
	dir := writePlugin(t, a, "hello", manifest(t, "hello", "1.0.0", func(m map[string]any) {
		m["assets"] = map[string]any{"css": []any{"assets/app.css"}}
	}))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "assets"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "assets", "app.css"), []byte("body{}"), 0o644))
	require.NoError(t, os.MkdirAll(a.cfg.CacheDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(a.cfg.CacheDir, "routes.php"), nil, 0o644))
	scanAll(t, a)

	require.NoError(t, runPluginEnable(ctx, &bytes.Buffer{}, a, "hello"))
	assert.FileExists(t, filepath.Join(a.cfg.PublicDir, "hello", "assets", "app.css"))
	assert.FileExists(t, filepath.Join(a.cfg.CacheDir, "routes.php"), "invalidation waits for the flush")

	a.finish(ctx)
	assert.NoFileExists(t, filepath.Join(a.cfg.CacheDir, "routes.php"))

	require.NoError(t, runPluginDisable(ctx, &bytes.Buffer{}, a, "hello"))
	assert.NoDirExists(t, filepath.Join(a.cfg.PublicDir, "hello"))
}

func TestPluginUpload(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	a := newTestApp(t)
	archive := buildArchive(t, map[string]string{
		"hello/plugin.json":   string(manifest(t, "hello", "1.0.0", nil)),
		"hello/src/Hello.php": "<?php\nreturn 'hi';\n",
	})

	var out bytes.Buffer
	require.NoError(t, runPluginUpload(ctx, &out, a, archive, true))
	assert.Contains(t, out.String(), "✓ Installed hello@1.0.0")
	assert.Contains(t, out.String(), "(enabled)")
	assert.FileExists(t, filepath.Join(a.cfg.PluginsDir, "hello", "src", "Hello.php"))

	p, err := a.repo.Get(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, plugin.StateEnabled, p.State)

	err = runPluginUpload(ctx, &out, a, archive, false)
	assert.ErrorIs(t, err, upload.ErrPluginAlreadyExists)
}

func TestPluginUpload_SecurityViolation(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	archive := buildArchive(t, map[string]string{
		"plugin.json":  string(manifest(t, "evil", "1.0.0", nil)),
		"src/Evil.php": "<?php\neval($_GET['code']);\n",
	})

	err := runPluginUpload(context.Background(), &bytes.Buffer{}, a, archive, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, upload.ErrSecurityViolation))
	assert.NoDirExists(t, filepath.Join(a.cfg.PluginsDir, "evil"))

	_, err = a.repo.Get(context.Background(), "evil")
	assert.ErrorIs(t, err, plugin.ErrPluginNotFound)
}

func TestPluginWatch_StopsOnCancel(t *testing.T) {
	t.Parallel()

	a := newTestApp(t)
	writePlugin(t, a, "hello", manifest(t, "hello", "1.0.0", nil))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &syncBuffer{}
	done := make(chan error, 1)
	go func() { done <- runPluginWatch(ctx, out, a, 20*time.Millisecond) }()

	assert.Eventually(t, func() bool {
		return strings.Contains(out.String(), "✓ Registered hello@1.0.0")
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("watch did not stop after cancel")
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
