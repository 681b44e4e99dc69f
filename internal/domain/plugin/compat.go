package plugin

import (
	"fmt"
	"strings"

	"golang.org/x/mod/semver"
)

// Host compatibility is a plain ordered comparison of the running host
// version against the manifest's min/max bounds. Inter-plugin requirements
// use range constraints instead (see DependencyGraph.ValidateDependencies);
// the two are intentionally kept apart.

// IsCompatibleWithHost reports whether hostVersion lies within the manifest's
// declared host range.
func (v *ManifestValidator) IsCompatibleWithHost(m *Manifest, hostVersion string) bool {
	return v.CompatibilityError(m, hostVersion) == ""
}

// CompatibilityError explains why the manifest is incompatible with
// hostVersion. It returns an empty string when compatible.
func (v *ManifestValidator) CompatibilityError(m *Manifest, hostVersion string) string {
	if m == nil {
		return "manifest is nil"
	}

	host := canonicalVersion(hostVersion)
	if !semver.IsValid(host) {
		return fmt.Sprintf("host version %q is not a valid version", hostVersion)
	}

	minVersion := canonicalVersion(m.Host.Min)
	if !semver.IsValid(minVersion) {
		return fmt.Sprintf("plugin declares invalid minimum host version %q", m.Host.Min)
	}
	if semver.Compare(host, minVersion) < 0 {
		return fmt.Sprintf("requires host version >= %s, running %s", m.Host.Min, hostVersion)
	}

	if m.Host.Max == "" {
		return ""
	}
	maxVersion := canonicalVersion(m.Host.Max)
	if !semver.IsValid(maxVersion) {
		return fmt.Sprintf("plugin declares invalid maximum host version %q", m.Host.Max)
	}
	if semver.Compare(host, maxVersion) > 0 {
		return fmt.Sprintf("requires host version <= %s, running %s", m.Host.Max, hostVersion)
	}

	return ""
}

func canonicalVersion(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}
