package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startWatcher(t *testing.T, root string) *atomic.Int32 {
	t.Helper()

	w, err := New(root, WithDebounce(50*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	var calls atomic.Int32
	go func() {
		defer close(done)
		_ = w.Run(ctx, func(context.Context) error {
			calls.Add(1)
			return nil
		})
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = w.Close()
	})
	return &calls
}

func TestWatcher_FiresOnManifestChange(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "hello"), 0o755))
	calls := startWatcher(t, root)

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(filepath.Join(root, "hello", "plugin.json"), []byte(`{}`), 0o644))
	}

	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, 5*time.Second, 10*time.Millisecond)
}

func TestWatcher_FiresOnNewPluginDir(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	calls := startWatcher(t, root)

	require.NoError(t, os.MkdirAll(filepath.Join(root, "billing"), 0o755))

	assert.Eventually(t, func() bool { return calls.Load() >= 1 }, 5*time.Second, 10*time.Millisecond)
}

func TestWatcher_IgnoresHidden(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	calls := startWatcher(t, root)

	require.NoError(t, os.WriteFile(filepath.Join(root, ".upload-123"), []byte("x"), 0o644))
	time.Sleep(300 * time.Millisecond)

	assert.Equal(t, int32(0), calls.Load())
}

func TestNew_MissingRoot(t *testing.T) {
	t.Parallel()

	_, err := New(filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, ErrPathNotExist)
}

func TestWatcher_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	w, err := New(t.TempDir())
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, w.Run(ctx, func(context.Context) error { return nil }), context.Canceled)
}
