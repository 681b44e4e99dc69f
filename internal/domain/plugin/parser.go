package plugin

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// MaxManifestSize limits plugin.json reads to prevent memory exhaustion.
const MaxManifestSize = 256 * 1024

var requiredStringFields = []string{
	"name",
	"display_name",
	"version",
	"author",
	"description",
	"license",
}

// ManifestParser reads plugin.json descriptors.
type ManifestParser struct{}

// NewManifestParser creates a new ManifestParser.
func NewManifestParser() *ManifestParser {
	return &ManifestParser{}
}

// ParseDirectory reads and parses plugin.json from dir.
func (p *ManifestParser) ParseDirectory(dir string) (*Manifest, error) {
	path := filepath.Join(dir, ManifestFileName)

	info, err := os.Stat(path)
	if err != nil {
		return nil, &ManifestError{Kind: KindManifestNotFound, Path: path, Err: err}
	}
	if info.IsDir() {
		return nil, &ManifestError{Kind: KindManifestNotFound, Path: path, Err: fs.ErrInvalid}
	}
	if info.Size() > MaxManifestSize {
		return nil, &ManifestSizeError{Size: info.Size(), Limit: MaxManifestSize}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ManifestError{Kind: KindManifestNotFound, Path: path, Err: err}
	}

	m, err := p.ParseJSON(data)
	if err != nil {
		var manifestErr *ManifestError
		if errors.As(err, &manifestErr) && manifestErr.Path == "" {
			manifestErr.Path = path
		}
		return nil, err
	}
	return m, nil
}

// ParseJSON parses a manifest from raw bytes.
func (p *ManifestParser) ParseJSON(data []byte) (*Manifest, error) {
	if int64(len(data)) > MaxManifestSize {
		return nil, &ManifestSizeError{Size: int64(len(data)), Limit: MaxManifestSize}
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &ManifestError{Kind: KindInvalidManifest, Err: err}
	}
	if raw == nil {
		return nil, &ManifestError{Kind: KindInvalidManifest, Err: errors.New("manifest must be a JSON object")}
	}

	if err := checkRequired(raw); err != nil {
		return nil, err
	}

	var m Manifest
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&m); err != nil {
		return nil, &ManifestError{Kind: KindInvalidManifest, Err: err}
	}

	m.Raw = append(json.RawMessage(nil), data...)
	if m.Requires == nil {
		m.Requires = map[string]string{}
	}
	if m.ConfigSchema == nil {
		m.ConfigSchema = map[string]any{}
	}
	if m.Assets == nil {
		m.Assets = map[string][]string{}
	}
	return &m, nil
}

// CanParse reports whether dir holds a parseable manifest.
func (p *ManifestParser) CanParse(dir string) bool {
	_, err := p.ParseDirectory(dir)
	return err == nil
}

func checkRequired(raw map[string]any) error {
	for _, field := range requiredStringFields {
		v, ok := raw[field]
		if !ok || v == nil {
			return &ManifestError{Kind: KindMissingField, Field: field}
		}
		s, ok := v.(string)
		if !ok {
			return &ManifestError{Kind: KindInvalidManifest, Field: field, Err: fmt.Errorf("expected string, got %T", v)}
		}
		if strings.TrimSpace(s) == "" {
			return &ManifestError{Kind: KindEmptyField, Field: field}
		}
	}

	host, ok := raw["pteroca"]
	if !ok || host == nil {
		return &ManifestError{Kind: KindMissingField, Field: "pteroca"}
	}
	if _, ok := host.(map[string]any); !ok {
		return &ManifestError{Kind: KindInvalidManifest, Field: "pteroca", Err: errors.New("expected object")}
	}

	caps, ok := raw["capabilities"]
	if !ok || caps == nil {
		return &ManifestError{Kind: KindMissingField, Field: "capabilities"}
	}
	if _, ok := caps.([]any); !ok {
		return &ManifestError{Kind: KindInvalidManifest, Field: "capabilities", Err: errors.New("expected array")}
	}

	return nil
}
