package plugin

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManifestParser_ParseJSON(t *testing.T) {
	t.Parallel()

	data := manifestJSON(t, "hello-world", "1.2.0", func(m map[string]any) {
		m["requires"] = map[string]string{"billing": "^2.0"}
		m["entrypoints"] = map[string]any{"commands": []string{`Plugins\HelloWorld\Command\GreetCommand`}}
	})

	m, err := NewManifestParser().ParseJSON(data)
	require.NoError(t, err)

	assert.Equal(t, "hello-world", m.Name)
	assert.Equal(t, "Display hello-world", m.DisplayName)
	assert.Equal(t, "0.5.0", m.Host.Min)
	assert.Equal(t, "0.9.0", m.Host.Max)
	assert.Equal(t, []Capability{CapabilityRoutes}, m.Capabilities)
	assert.Equal(t, map[string]string{"billing": "^2.0"}, m.Requires)
	assert.Equal(t, []string{`Plugins\HelloWorld\Command\GreetCommand`}, m.EntryPoints.Commands)
	assert.JSONEq(t, string(data), string(m.Raw))
	assert.Equal(t, "hello-world", m.RawMap()["name"])
}

func TestManifestParser_OptionalFieldsDefaultEmpty(t *testing.T) {
	t.Parallel()

	m, err := NewManifestParser().ParseJSON(manifestJSON(t, "bare", "1.0.0", nil))
	require.NoError(t, err)

	assert.NotNil(t, m.Requires)
	assert.Empty(t, m.Requires)
	assert.NotNil(t, m.ConfigSchema)
	assert.NotNil(t, m.Assets)
	assert.Empty(t, m.BootstrapClass)
	assert.True(t, m.EntryPoints.IsEmpty())
}

func TestManifestParser_MissingRequiredField(t *testing.T) {
	t.Parallel()

	fields := []string{"name", "display_name", "version", "author", "description", "license", "pteroca", "capabilities"}
	for _, field := range fields {
		t.Run(field, func(t *testing.T) {
			t.Parallel()

			data := manifestJSON(t, "hello", "1.0.0", func(m map[string]any) {
				delete(m, field)
			})

			m, err := NewManifestParser().ParseJSON(data)
			require.Error(t, err)
			assert.Nil(t, m)
			assert.ErrorIs(t, err, ErrMissingField)

			var manifestErr *ManifestError
			require.True(t, errors.As(err, &manifestErr))
			assert.Equal(t, field, manifestErr.Field)
			assert.Equal(t, KindMissingField, manifestErr.Kind)
		})
	}
}

func TestManifestParser_EmptyRequiredField(t *testing.T) {
	t.Parallel()

	for _, field := range requiredStringFields {
		t.Run(field, func(t *testing.T) {
			t.Parallel()

			data := manifestJSON(t, "hello", "1.0.0", func(m map[string]any) {
				m[field] = "  "
			})

			m, err := NewManifestParser().ParseJSON(data)
			assert.Nil(t, m)
			assert.ErrorIs(t, err, ErrEmptyField)
			assert.Contains(t, err.Error(), field)
		})
	}
}

func TestManifestParser_InvalidManifest(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		data string
	}{
		{"malformed json", `{"name": `},
		{"array instead of object", `["hello"]`},
		{"null document", `null`},
		{"name is a number", string(manifestJSON(t, "x", "1.0.0", func(m map[string]any) { m["name"] = 42 }))},
		{"pteroca is a string", string(manifestJSON(t, "x", "1.0.0", func(m map[string]any) { m["pteroca"] = "0.5" }))},
		{"capabilities is a string", string(manifestJSON(t, "x", "1.0.0", func(m map[string]any) { m["capabilities"] = "routes" }))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			m, err := NewManifestParser().ParseJSON([]byte(tt.data))
			assert.Nil(t, m)
			assert.ErrorIs(t, err, ErrInvalidManifest)
			assert.True(t, IsManifestError(err))
		})
	}
}

func TestManifestParser_ParseDirectory(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dir := writePlugin(t, root, "hello", manifestJSON(t, "hello", "1.0.0", nil))

	parser := NewManifestParser()
	m, err := parser.ParseDirectory(dir)
	require.NoError(t, err)
	assert.Equal(t, "hello", m.Name)
	assert.True(t, parser.CanParse(dir))
}

func TestManifestParser_ParseDirectory_NotFound(t *testing.T) {
	t.Parallel()

	parser := NewManifestParser()
	dir := t.TempDir()

	_, err := parser.ParseDirectory(dir)
	assert.ErrorIs(t, err, ErrManifestNotFound)
	assert.Contains(t, err.Error(), filepath.Join(dir, ManifestFileName))
	assert.False(t, parser.CanParse(dir))
}

func TestManifestParser_ParseDirectory_ReportsPath(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dir := writePlugin(t, root, "broken", []byte(`{"name": "broken"}`))

	_, err := NewManifestParser().ParseDirectory(dir)
	var manifestErr *ManifestError
	require.True(t, errors.As(err, &manifestErr))
	assert.Equal(t, filepath.Join(dir, ManifestFileName), manifestErr.Path)
	assert.Equal(t, "display_name", manifestErr.Field)
}

func TestManifestParser_SizeLimit(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	big := `{"description": "` + strings.Repeat("a", MaxManifestSize) + `"}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ManifestFileName), []byte(big), 0o644))

	_, err := NewManifestParser().ParseDirectory(dir)
	assert.True(t, IsManifestSizeError(err))

	_, err = NewManifestParser().ParseJSON([]byte(big))
	assert.True(t, IsManifestSizeError(err))
}
