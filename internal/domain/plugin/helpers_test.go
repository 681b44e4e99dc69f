package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var fixedTime = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedTime }

// manifestJSON returns a valid manifest, optionally modified by mutate.
func manifestJSON(t *testing.T, name, version string, mutate func(map[string]any)) []byte {
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

func writePlugin(t *testing.T, root, dirName string, data []byte) string {
	t.Helper()

	dir := filepath.Join(root, dirName)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFileName), data, 0o644))
	return dir
}

func testPlugin(t *testing.T, name, version string, state State, requires map[string]string) *Plugin {
	t.Helper()

	data := manifestJSON(t, name, version, func(m map[string]any) {
		if requires != nil {
			m["requires"] = requires
		}
	})
	mf, err := NewManifestParser().ParseJSON(data)
	require.NoError(t, err)

	p := NewPlugin(mf, filepath.Join("/plugins", name), fixedTime)
	p.State = state
	return p
}

func indexOf(plugins []*Plugin, name string) int {
	for i, p := range plugins {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// recordingAutoloader records registrations and can be told to fail.
type recordingAutoloader struct {
	mu           sync.Mutex
	registered   []string
	unregistered []string
	failFor      map[string]error
	failUnload   map[string]error
}

func newRecordingAutoloader() *recordingAutoloader {
	return &recordingAutoloader{failFor: map[string]error{}, failUnload: map[string]error{}}
}

func (a *recordingAutoloader) Register(_ context.Context, p *Plugin) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.failFor[p.Name]; err != nil {
		return err
	}
	a.registered = append(a.registered, p.Name)
	return nil
}

func (a *recordingAutoloader) Unregister(_ context.Context, p *Plugin) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.unregistered = append(a.unregistered, p.Name)
	return a.failUnload[p.Name]
}

type recordingBinder struct {
	mu      sync.Mutex
	bound   []string
	unbound []string
	failOn  string
}

func (b *recordingBinder) Bind(_ context.Context, _ *Plugin, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id == b.failOn {
		return errors.New("class not found")
	}
	b.bound = append(b.bound, id)
	return nil
}

func (b *recordingBinder) Unbind(_ context.Context, _ *Plugin, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unbound = append(b.unbound, id)
	return nil
}

type recordingCache struct {
	mu          sync.Mutex
	invalidated []string
}

func (c *recordingCache) Invalidate(_ context.Context, p *Plugin) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invalidated = append(c.invalidated, p.Name)
	return nil
}

type failingMigrations struct{ err error }

func (f failingMigrations) Migrate(context.Context, *Plugin) error { return f.err }
