package domain

import (
	"fmt"
	"strings"
)

// ConflictError reports an ingest of a file path that already has a dataset.
type ConflictError struct {
	FilePath string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("dataset already exists: %s", e.FilePath)
}

// SchemaError reports input whose structure does not match the export format.
type SchemaError struct {
	Missing []string
	Reason  string
}

func (e *SchemaError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("missing expected columns: %s", strings.Join(e.Missing, ", "))
	}
	return "invalid csv: " + e.Reason
}

// ValidationError reports a value that could not be coerced by a strict rule.
// Line is the 1-based line number in the source file, header included.
type ValidationError struct {
	Column string
	Line   int
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("invalid %q value %q on line %d: %s", e.Column, e.Value, e.Line, e.Reason)
	if e.Column == ColDateReported || e.Column == ColDateOccurred {
		msg += fmt.Sprintf(" (accepted date formats: %s or %s, uniform across the file)",
			DateFormatISO.Example(), DateFormatUS.Example())
	}
	return msg
}

// StorageError reports a failed persistence operation. Any write it
// interrupted has been rolled back.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// NotFoundError reports a lookup of an unknown resource.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// AnalysisError reports a failure while aggregating or scoring a dataset.
type AnalysisError struct {
	Op  string
	Err error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analysis: %s: %v", e.Op, e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }
