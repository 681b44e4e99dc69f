// Package security statically inspects plugin source trees for constructs
// that deserve an operator's attention before the plugin is installed or
// enabled.
package security

import (
	"fmt"
	"strings"
)

// Severity ranks a finding.
type Severity string

const (
	// SeverityCritical marks arbitrary code execution primitives.
	SeverityCritical Severity = "critical"
	// SeverityHigh marks process spawning and world-writable files.
	SeverityHigh Severity = "high"
	// SeverityMedium marks risky but common constructs.
	SeverityMedium Severity = "medium"
	// SeverityLow marks findings that are usually harmless.
	SeverityLow Severity = "low"
	// SeverityUnknown is the zero ranking.
	SeverityUnknown Severity = "unknown"
)

var severityOrder = map[Severity]int{
	SeverityCritical: 4,
	SeverityHigh:     3,
	SeverityMedium:   2,
	SeverityLow:      1,
	SeverityUnknown:  0,
}

// ParseSeverity converts operator input such as a --severity flag value.
func ParseSeverity(s string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "critical":
		return SeverityCritical, nil
	case "high":
		return SeverityHigh, nil
	case "medium", "moderate":
		return SeverityMedium, nil
	case "low", "info":
		return SeverityLow, nil
	case "unknown", "":
		return SeverityUnknown, nil
	default:
		return SeverityUnknown, fmt.Errorf("unknown severity: %q", s)
	}
}

func (s Severity) String() string {
	return string(s)
}

// Order returns the numeric rank of the severity (higher = more severe).
func (s Severity) Order() int {
	return severityOrder[s]
}

// IsHigherThan returns true if s outranks other.
func (s Severity) IsHigherThan(other Severity) bool {
	return s.Order() > other.Order()
}

// IsAtLeast returns true if s is at least as severe as threshold.
func (s Severity) IsAtLeast(threshold Severity) bool {
	return s.Order() >= threshold.Order()
}

// AllSeverities returns the rankings from most to least severe.
func AllSeverities() []Severity {
	return []Severity{SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow}
}

// ValidSeverityStrings lists accepted flag values for help text.
func ValidSeverityStrings() []string {
	out := make([]string, 0, len(severityOrder))
	for _, s := range AllSeverities() {
		out = append(out, s.String())
	}
	return out
}
