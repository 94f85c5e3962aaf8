// Package fault defines the discriminated failure type shared by all
// pipeline stages. The orchestrator decides terminal-stop versus
// propagate-for-retry by inspecting the Kind tag, never by comparing
// Go error types.
package fault

import (
	"errors"
	"fmt"
)

// Kind identifies a failure category within the pipeline error taxonomy.
type Kind string

// Failure kinds, grouped by stage.
const (
	// Extraction and envelope reading.
	KindExtractionMissing  Kind = "extraction_missing"
	KindMalformedStructure Kind = "malformed_structure"
	KindReadError          Kind = "read_error"

	// Recognized-output validation.
	KindRequiredFieldMissing Kind = "required_field_missing"
	KindRequiredFieldInvalid Kind = "required_field_invalid"

	// Provider resolution.
	KindInvalidInput         Kind = "invalid_input"
	KindDuplicateCompany     Kind = "duplicate_company"
	KindEmptyNormalizedName  Kind = "empty_normalized_name"

	// Relational writes.
	KindQueryFailed      Kind = "query_failed"
	KindInsertFailed     Kind = "insert_failed"
	KindLineDeleteFailed Kind = "line_delete_failed"
	KindLineInsertFailed Kind = "line_insert_failed"

	// File-record persistence.
	KindInconsistentRecord Kind = "inconsistent_record"
)

// InvalidField describes a field whose value could not be coerced.
type InvalidField struct {
	Field  string `json:"campo"`
	Value  any    `json:"valor"`
	Reason string `json:"motivo"`
}

// Failure is a classified pipeline error. Missing and Invalid carry the
// aggregated validation detail for error documents and notifications.
type Failure struct {
	Kind        Kind
	Stage       string
	Description string
	Missing     []string
	Invalid     []InvalidField
}

func (f *Failure) Error() string {
	if f.Stage != "" {
		return fmt.Sprintf("%s: %s: %s", f.Stage, f.Kind, f.Description)
	}
	return fmt.Sprintf("%s: %s", f.Kind, f.Description)
}

// New creates a Failure with the given kind and description.
func New(kind Kind, description string) *Failure {
	return &Failure{Kind: kind, Description: description}
}

// Newf creates a Failure with a formatted description.
func Newf(kind Kind, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Description: fmt.Sprintf(format, args...)}
}

// WithStage returns the failure tagged with the stage it surfaced in.
func (f *Failure) WithStage(stage string) *Failure {
	f.Stage = stage
	return f
}

// Terminal reports whether the failure cannot succeed on retry without new
// input. Validation, duplicate, and inconsistency kinds are terminal;
// infrastructure kinds are retryable by the durable host.
func (f *Failure) Terminal() bool {
	switch f.Kind {
	case KindMalformedStructure,
		KindRequiredFieldMissing,
		KindRequiredFieldInvalid,
		KindInvalidInput,
		KindDuplicateCompany,
		KindEmptyNormalizedName,
		KindInconsistentRecord:
		return true
	}
	return false
}

// From extracts a *Failure from err, or wraps err as a Failure of the given
// fallback kind when it carries no classification.
func From(err error, fallback Kind) *Failure {
	var f *Failure
	if errors.As(err, &f) {
		return f
	}
	return New(fallback, err.Error())
}

// IsKind reports whether err carries a Failure of the given kind.
func IsKind(err error, kind Kind) bool {
	var f *Failure
	return errors.As(err, &f) && f.Kind == kind
}
