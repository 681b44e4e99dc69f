package upload

import (
	"errors"
	"strings"
)

// ErrUpload matches every error returned by Service.Upload.
var ErrUpload = errors.New("plugin upload failed")

// Kind sentinels. An *Error matches its kind and ErrUpload with errors.Is.
var (
	ErrFileTooLarge        = errors.New("file too large")
	ErrInvalidFileType     = errors.New("invalid file type")
	ErrInvalidExtension    = errors.New("invalid file extension")
	ErrInvalidZip          = errors.New("invalid zip archive")
	ErrZipBomb             = errors.New("archive expands beyond the allowed size")
	ErrMaliciousZip        = errors.New("archive contains unsafe entries")
	ErrMissingManifest     = errors.New("plugin manifest not found")
	ErrInvalidManifest     = errors.New("invalid plugin manifest")
	ErrManifestValidation  = errors.New("plugin manifest failed validation")
	ErrPluginAlreadyExists = errors.New("plugin already exists")
	ErrSecurityViolation   = errors.New("security scan failed")
	ErrExtraction          = errors.New("extraction failed")
)

// Error is the single error type of the upload pipeline.
type Error struct {
	Kind    error
	Message string
	Details []string
	Err     error
}

func newError(kind error, msg string, details ...string) *Error {
	return &Error{Kind: kind, Message: msg, Details: details}
}

func wrapError(kind error, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if len(e.Details) > 0 {
		b.WriteString(" (")
		b.WriteString(strings.Join(e.Details, "; "))
		b.WriteString(")")
	}
	return b.String()
}

// Is matches the umbrella sentinel and the kind.
func (e *Error) Is(target error) bool {
	return target == ErrUpload || target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsUploadError returns true if err came from the upload pipeline.
func IsUploadError(err error) bool {
	var e *Error
	return errors.As(err, &e)
}
