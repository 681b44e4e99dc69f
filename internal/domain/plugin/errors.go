package plugin

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for programmatic error handling.
var (
	// ErrNilPlugin indicates a nil plugin was provided.
	ErrNilPlugin = errors.New("plugin cannot be nil")
	// ErrEmptyPluginName indicates a plugin name was empty.
	ErrEmptyPluginName = errors.New("plugin name cannot be empty")
	// ErrPluginNotFound indicates the repository has no plugin with the given name.
	ErrPluginNotFound = errors.New("plugin not found")

	// ErrManifestNotFound indicates plugin.json is absent or unreadable.
	ErrManifestNotFound = errors.New("plugin.json not found")
	// ErrInvalidManifest indicates plugin.json is not a well-formed manifest object.
	ErrInvalidManifest = errors.New("invalid manifest")
	// ErrMissingField indicates a required manifest key is absent.
	ErrMissingField = errors.New("missing required field")
	// ErrEmptyField indicates a required manifest key is an empty string.
	ErrEmptyField = errors.New("required field is empty")
)

// ManifestErrorKind classifies manifest parsing failures.
type ManifestErrorKind string

// Manifest error kinds.
const (
	KindManifestNotFound ManifestErrorKind = "manifest_not_found"
	KindInvalidManifest  ManifestErrorKind = "invalid_manifest"
	KindMissingField     ManifestErrorKind = "missing_field"
	KindEmptyField       ManifestErrorKind = "empty_field"
)

func (k ManifestErrorKind) sentinel() error {
	switch k {
	case KindManifestNotFound:
		return ErrManifestNotFound
	case KindMissingField:
		return ErrMissingField
	case KindEmptyField:
		return ErrEmptyField
	default:
		return ErrInvalidManifest
	}
}

// ManifestError is returned by the parser. Parsing never yields a partial
// manifest alongside a ManifestError.
type ManifestError struct {
	Kind  ManifestErrorKind
	Path  string
	Field string
	Err   error
}

func (e *ManifestError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.sentinel().Error())
	if e.Field != "" {
		fmt.Fprintf(&b, " %q", e.Field)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " in %s", e.Path)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Is matches the sentinel for the error's kind.
func (e *ManifestError) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func (e *ManifestError) Unwrap() error {
	return e.Err
}

// IsManifestError returns true if the error is a manifest parsing failure.
func IsManifestError(err error) bool {
	var manifestErr *ManifestError
	return errors.As(err, &manifestErr)
}

// ManifestSizeError indicates a manifest exceeds the size limit.
type ManifestSizeError struct {
	Size  int64
	Limit int64
}

func (e *ManifestSizeError) Error() string {
	return fmt.Sprintf("manifest size %d bytes exceeds limit of %d bytes", e.Size, e.Limit)
}

// IsManifestSizeError returns true if the error is a manifest size violation.
func IsManifestSizeError(err error) bool {
	var sizeErr *ManifestSizeError
	return errors.As(err, &sizeErr)
}

// ValidationError collects multiple validation failures.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0]
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.Errors, "; "))
}

// Add adds an error message to the collection.
func (e *ValidationError) Add(msg string) {
	e.Errors = append(e.Errors, msg)
}

// Addf adds a formatted error message to the collection.
func (e *ValidationError) Addf(format string, args ...any) {
	e.Errors = append(e.Errors, fmt.Sprintf(format, args...))
}

// HasErrors returns true if there are validation errors.
func (e *ValidationError) HasErrors() bool {
	return len(e.Errors) > 0
}

// NewValidationError turns validator issues into a fatal error.
// It returns nil when issues is empty.
func NewValidationError(issues []ValidationIssue) *ValidationError {
	if len(issues) == 0 {
		return nil
	}
	verr := &ValidationError{}
	for _, issue := range issues {
		verr.Add(issue.String())
	}
	return verr
}

// IsValidationError returns true if the error is a validation error.
func IsValidationError(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}

// InvalidStateTransitionError indicates the transition table forbids a state change.
type InvalidStateTransitionError struct {
	Plugin string
	From   State
	To     State
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("plugin %q cannot transition from %s to %s", e.Plugin, e.From, e.To)
}

// IsInvalidStateTransition returns true if the error is an illegal state change.
func IsInvalidStateTransition(err error) bool {
	var transitionErr *InvalidStateTransitionError
	return errors.As(err, &transitionErr)
}

// DependencyError is raised when unmet dependencies gate an enable operation.
type DependencyError struct {
	Plugin   string
	Problems []string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("plugin %q has unmet dependencies: %s", e.Plugin, strings.Join(e.Problems, "; "))
}

// IsDependencyError returns true if the error reports unmet dependencies.
func IsDependencyError(err error) bool {
	var depErr *DependencyError
	return errors.As(err, &depErr)
}

// CyclicDependencyError indicates a cyclic dependency was detected.
type CyclicDependencyError struct {
	Cycle []string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic dependency detected: %s", strings.Join(e.Cycle, " -> "))
}

// IsCyclicDependency returns true if the error is a cyclic dependency error.
func IsCyclicDependency(err error) bool {
	var cyclicErr *CyclicDependencyError
	return errors.As(err, &cyclicErr)
}

// DependentsEnabledError blocks disabling a plugin other enabled plugins require.
type DependentsEnabledError struct {
	Plugin     string
	Dependents []string
}

func (e *DependentsEnabledError) Error() string {
	return fmt.Sprintf("plugin %q is required by enabled plugins: %s", e.Plugin, strings.Join(e.Dependents, ", "))
}

// IsDependentsEnabled returns true if a disable was blocked by enabled dependents.
func IsDependentsEnabled(err error) bool {
	var depErr *DependentsEnabledError
	return errors.As(err, &depErr)
}

// LifecycleError wraps a collaborator failure that faulted a plugin.
type LifecycleError struct {
	Plugin string
	Step   string
	Err    error
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("plugin %q failed during %s: %v", e.Plugin, e.Step, e.Err)
}

func (e *LifecycleError) Unwrap() error {
	return e.Err
}
