package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pteroca-com/pluginhost/internal/domain/plugin"
)

func pluginWithAssets(t *testing.T, assets string) *plugin.Plugin {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "assets", "css"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "assets", "css", "app.css"), []byte("body{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "assets", "app.js"), []byte("run()"), 0o644))
	return &plugin.Plugin{
		Name:     "hello",
		Path:     dir,
		Manifest: []byte(`{"name":"hello","assets":` + assets + `}`),
	}
}

func TestAssetPublisher_PublishAndUnpublish(t *testing.T) {
	t.Parallel()

	public := t.TempDir()
	p := pluginWithAssets(t, `{"css":["assets/css/app.css"],"js":["assets/app.js","./assets/app.js"]}`)
	pub := NewAssetPublisher(public, nil)

	require.NoError(t, pub.Publish(context.Background(), p))

	css, err := os.ReadFile(filepath.Join(public, "hello", "assets", "css", "app.css"))
	require.NoError(t, err)
	assert.Equal(t, "body{}", string(css))
	assert.FileExists(t, filepath.Join(public, "hello", "assets", "app.js"))

	require.NoError(t, os.WriteFile(filepath.Join(public, "hello", "stale.txt"), nil, 0o644))
	require.NoError(t, pub.Publish(context.Background(), p))
	assert.NoFileExists(t, filepath.Join(public, "hello", "stale.txt"))

	require.NoError(t, pub.Unpublish(context.Background(), p))
	assert.NoDirExists(t, filepath.Join(public, "hello"))
}

func TestAssetPublisher_Errors(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"escaping path": `{"css":["../../etc/passwd"]}`,
		"absolute path": `{"css":["/etc/passwd"]}`,
		"missing file":  `{"css":["assets/missing.css"]}`,
		"directory":     `{"css":["assets/css"]}`,
	}

	for name, assets := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			public := t.TempDir()
			err := NewAssetPublisher(public, nil).Publish(context.Background(), pluginWithAssets(t, assets))
			assert.Error(t, err)
			assert.NoDirExists(t, filepath.Join(public, "hello"))
		})
	}
}
