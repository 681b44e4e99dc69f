package plugin

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Field length limits.
const (
	MaxNameLength           = 50
	MaxDisplayNameLength    = 255
	MaxAuthorLength         = 255
	MaxDescriptionLength    = 5000
	MaxLicenseLength        = 50
	MaxMarketplaceURLLength = 255
)

var (
	namePattern  = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
	classPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\\[A-Za-z_][A-Za-z0-9_]*)*$`)
)

//go:embed schema/config-setting.schema.json
var configSettingSchema []byte

const configSettingSchemaName = "config-setting.schema.json"

var compiledSettingSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(configSettingSchema))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(configSettingSchemaName, doc); err != nil {
		return nil, fmt.Errorf("failed to add %s: %w", configSettingSchemaName, err)
	}
	return c.Compile(configSettingSchemaName)
})

// ValidationIssue is a single non-fatal validation finding.
type ValidationIssue struct {
	Field   string
	Message string
}

func (i ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", i.Field, i.Message)
}

// ManifestValidator performs semantic validation of parsed manifests.
// It never fails; callers decide whether issues are fatal.
type ManifestValidator struct{}

// NewManifestValidator creates a new ManifestValidator.
func NewManifestValidator() *ManifestValidator {
	return &ManifestValidator{}
}

// Validate returns every issue found in m.
func (v *ManifestValidator) Validate(m *Manifest) []ValidationIssue {
	if m == nil {
		return []ValidationIssue{{Field: "manifest", Message: "manifest is nil"}}
	}

	var issues []ValidationIssue
	add := func(field, format string, args ...any) {
		issues = append(issues, ValidationIssue{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	v.validateIdentity(m, add)
	v.validateHost(m, add)
	v.validateCapabilities(m, add)
	v.validateRequires(m, add)
	v.validateConfigSchema(m, add)
	v.validateClasses(m, add)
	v.validateMarketplaceURL(m, add)
	v.validateAssets(m, add)

	return issues
}

// IsValid returns true if Validate reports no issues.
func (v *ManifestValidator) IsValid(m *Manifest) bool {
	return len(v.Validate(m)) == 0
}

type addFunc func(field, format string, args ...any)

func (v *ManifestValidator) validateIdentity(m *Manifest, add addFunc) {
	switch {
	case m.Name == "":
		add("name", "is required")
	case len(m.Name) > MaxNameLength:
		add("name", "must be at most %d characters", MaxNameLength)
	case !namePattern.MatchString(m.Name):
		add("name", "must be lowercase kebab-case (got %q)", m.Name)
	}

	checkText := func(field, value string, limit int) {
		switch {
		case strings.TrimSpace(value) == "":
			add(field, "is required")
		case len(value) > limit:
			add(field, "must be at most %d characters", limit)
		}
	}
	checkText("display_name", m.DisplayName, MaxDisplayNameLength)
	checkText("author", m.Author, MaxAuthorLength)
	checkText("description", m.Description, MaxDescriptionLength)
	checkText("license", m.License, MaxLicenseLength)

	if _, err := semver.NewVersion(m.Version); err != nil {
		add("version", "must be a semantic version (got %q)", m.Version)
	}
}

func (v *ManifestValidator) validateHost(m *Manifest, add addFunc) {
	var minVersion, maxVersion *semver.Version
	var err error

	if m.Host.Min == "" {
		add("pteroca.min", "is required")
	} else if minVersion, err = semver.NewVersion(m.Host.Min); err != nil {
		add("pteroca.min", "must be a semantic version (got %q)", m.Host.Min)
	}

	if m.Host.Max != "" {
		if maxVersion, err = semver.NewVersion(m.Host.Max); err != nil {
			add("pteroca.max", "must be a semantic version (got %q)", m.Host.Max)
		}
	}

	if minVersion != nil && maxVersion != nil && maxVersion.LessThan(minVersion) {
		add("pteroca.max", "must not be lower than pteroca.min")
	}
}

func (v *ManifestValidator) validateCapabilities(m *Manifest, add addFunc) {
	if len(m.Capabilities) == 0 {
		add("capabilities", "at least one capability is required")
		return
	}

	seen := make(map[Capability]bool, len(m.Capabilities))
	for _, c := range m.Capabilities {
		if !c.IsKnown() {
			add("capabilities", "unknown capability %q", c)
		}
		if seen[c] {
			add("capabilities", "duplicate capability %q", c)
		}
		seen[c] = true
	}
}

func (v *ManifestValidator) validateRequires(m *Manifest, add addFunc) {
	for _, name := range m.RequiredNames() {
		field := "requires." + name
		if !namePattern.MatchString(name) || len(name) > MaxNameLength {
			add(field, "invalid plugin name %q", name)
		}
		if name == m.Name {
			add(field, "plugin cannot require itself")
		}
		if _, err := semver.NewConstraint(m.Requires[name]); err != nil {
			add(field, "invalid version constraint %q", m.Requires[name])
		}
	}
}

func (v *ManifestValidator) validateConfigSchema(m *Manifest, add addFunc) {
	if len(m.ConfigSchema) == 0 {
		return
	}

	sch, err := compiledSettingSchema()
	if err != nil {
		add("config_schema", "schema unavailable: %v", err)
		return
	}

	for _, key := range sortedKeys(m.ConfigSchema) {
		field := "config_schema." + key
		content, err := json.Marshal(m.ConfigSchema[key])
		if err != nil {
			add(field, "cannot be encoded: %v", err)
			continue
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(content))
		if err != nil {
			add(field, "cannot be decoded: %v", err)
			continue
		}
		if err := sch.Validate(doc); err != nil {
			add(field, "%s", schemaFailures(err))
		}
	}
}

// schemaFailures flattens a jsonschema error into a single line.
func schemaFailures(err error) string {
	var parts []string
	for _, line := range strings.Split(err.Error(), "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "- ") {
			parts = append(parts, strings.TrimPrefix(line, "- "))
		}
	}
	if len(parts) == 0 {
		return err.Error()
	}
	return strings.Join(parts, "; ")
}

func (v *ManifestValidator) validateClasses(m *Manifest, add addFunc) {
	namespace := m.Namespace()
	check := func(field, class string) {
		if !classPattern.MatchString(class) {
			add(field, "%q is not a valid class name", class)
			return
		}
		if !strings.HasPrefix(class, namespace) {
			add(field, "%q must live under namespace %s", class, namespace)
		}
	}

	if m.BootstrapClass != "" {
		check("bootstrap_class", m.BootstrapClass)
	}
	for _, kind := range AllEntryPointKinds() {
		for i, class := range m.EntryPoints.ByKind(kind) {
			check(fmt.Sprintf("entrypoints.%s[%d]", kind.manifestKey(), i), class)
		}
	}
}

func (v *ManifestValidator) validateMarketplaceURL(m *Manifest, add addFunc) {
	if m.MarketplaceURL == "" {
		return
	}
	if len(m.MarketplaceURL) > MaxMarketplaceURLLength {
		add("marketplace_url", "must be at most %d characters", MaxMarketplaceURLLength)
		return
	}
	u, err := url.ParseRequestURI(m.MarketplaceURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		add("marketplace_url", "must be an absolute http(s) URL (got %q)", m.MarketplaceURL)
	}
}

func (v *ManifestValidator) validateAssets(m *Manifest, add addFunc) {
	for _, assetType := range sortedKeys(m.Assets) {
		switch assetType {
		case AssetCSS, AssetJS, AssetImg, AssetFonts:
		default:
			add("assets."+assetType, "unknown asset type %q", assetType)
			continue
		}

		for i, p := range m.Assets[assetType] {
			field := fmt.Sprintf("assets.%s[%d]", assetType, i)
			switch {
			case p == "":
				add(field, "path is empty")
			case strings.HasPrefix(p, "/") || strings.HasPrefix(p, `\`):
				add(field, "path must be relative (got %q)", p)
			case strings.Contains(p, ".."):
				add(field, "path must not contain '..' (got %q)", p)
			case (assetType == AssetCSS || assetType == AssetJS) && path.Ext(p) != "."+assetType:
				add(field, "%s asset must have a .%s extension (got %q)", assetType, assetType, p)
			}
		}
	}
}
