package plugin

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScanner_Scan(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writePlugin(t, root, "hello", manifestJSON(t, "hello", "1.0.0", nil))
	writePlugin(t, root, "billing", manifestJSON(t, "billing", "2.0.0", nil))
	writePlugin(t, root, "broken", []byte(`{"name":`))
	writePlugin(t, root, "shouty", manifestJSON(t, "Shouty", "1.0.0", nil))
	writePlugin(t, root, ".trash", manifestJSON(t, "trash", "1.0.0", nil))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "empty"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "README.md"), []byte("notes"), 0o644))

	s := NewScanner(root, nil, nil, nil)
	assert.Equal(t, root, s.Root())

	result, err := s.Scan(context.Background())
	require.NoError(t, err)

	var valid []string
	for _, sp := range result.Valid {
		valid = append(valid, sp.Manifest.Name)
		assert.Equal(t, filepath.Join(root, sp.Manifest.Name), sp.Dir)
	}
	assert.ElementsMatch(t, []string{"hello", "billing"}, valid)

	failed := map[string]ScanFailure{}
	for _, f := range result.Invalid {
		failed[filepath.Base(f.Dir)] = f
	}
	assert.Len(t, failed, 3)
	assert.Contains(t, failed, "broken")
	assert.Contains(t, failed, "empty")
	require.Contains(t, failed, "shouty")
	assert.Equal(t, "Shouty", failed["shouty"].Name)
	assert.NotEmpty(t, failed["shouty"].Errors)
	assert.True(t, result.HasErrors())
}

func TestScanner_Scan_MissingRoot(t *testing.T) {
	t.Parallel()

	result, err := NewScanner(filepath.Join(t.TempDir(), "absent"), nil, nil, nil).Scan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Valid)
	assert.Empty(t, result.Invalid)
	assert.False(t, result.HasErrors())
}

func TestScanner_Scan_Cancelled(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writePlugin(t, root, "hello", manifestJSON(t, "hello", "1.0.0", nil))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewScanner(root, nil, nil, nil).Scan(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestScanner_ScanDirectory(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dir := writePlugin(t, root, "hello", manifestJSON(t, "hello", "1.0.0", nil))

	sp, failure := NewScanner(root, nil, nil, nil).ScanDirectory(dir)
	require.Nil(t, failure)
	assert.Equal(t, "hello", sp.Manifest.Name)
	assert.Equal(t, dir, sp.Dir)
}
