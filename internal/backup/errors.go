package backup

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMalformed marks payloads that are not JSON or do not match the backup shape.
	ErrMalformed = errors.New("malformed backup")
	// ErrUnsupportedVersion marks backups whose schemaVersion is not in the allow-list.
	ErrUnsupportedVersion = errors.New("unsupported backup schema version")
)

// FieldError describes one invalid field, addressed by its JSON path.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (f FieldError) String() string {
	return f.Path + ": " + f.Message
}

// ValidationError collects every field problem found in a backup.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.String())
	}
	return fmt.Sprintf("%s: %s", ErrMalformed, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrMalformed
}

func (e *ValidationError) add(path, message string) {
	e.Fields = append(e.Fields, FieldError{Path: path, Message: message})
}

func (e *ValidationError) empty() bool {
	return len(e.Fields) == 0
}

// VersionError reports the rejected version together with the allow-list.
type VersionError struct {
	Version   string
	Supported []string
}

func (e *VersionError) Error() string {
	return fmt.Sprintf("%s %q (supported: %s)", ErrUnsupportedVersion, e.Version, strings.Join(e.Supported, ", "))
}

func (e *VersionError) Unwrap() error {
	return ErrUnsupportedVersion
}
