// Package files tracks the processing record for each source PDF: where
// it lives in blob storage, which header it produced, its validation
// state, and an append-only audit log of pipeline events.
package files

import (
	"encoding/json"
	"time"
)

// Validation states a file record moves through.
const (
	StatePending   = "pending"
	StateValidated = "validated"
)

// LogEvent is one entry in a file record's audit log. The wire shape
// matches the documents written to blob storage, so events round-trip
// between the database and error documents unchanged.
type LogEvent struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	InvoiceID string `json:"invoice_id"`
	HeaderID  *int64 `json:"header_id,omitempty"`
	State     string `json:"state,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// NewEvent creates a log event stamped with the current UTC time.
func NewEvent(eventType, invoiceID string) LogEvent {
	return LogEvent{
		Type:      eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		InvoiceID: invoiceID,
	}
}

// Record is the persisted processing state for one source PDF, keyed by
// the pipeline invoice id.
type Record struct {
	InvoiceID        string     `json:"invoiceId"`
	HeaderID         *int64     `json:"headerId,omitempty"`
	SourcePDFKey     string     `json:"sourcePdfKey"`
	SourceFileURL    string     `json:"sourceFileUrl"`
	OriginalFilename string     `json:"originalFilename"`
	ValidationState  string     `json:"validationState"`
	ExportKey        *string    `json:"exportKey,omitempty"`
	AuditLog         []LogEvent `json:"auditLog"`
}

// UpsertCommand carries the fields written on insert or update. ExportKey
// nil means keep whatever the stored record already has. Events are
// appended after the stored log, never replacing it.
type UpsertCommand struct {
	InvoiceID        string
	HeaderID         *int64
	SourcePDFKey     string
	SourceFileURL    string
	OriginalFilename string
	ValidationState  string
	ExportKey        *string
	Events           []LogEvent
}

// Outcome distinguishes whether an upsert created or updated a record.
type Outcome string

const (
	OutcomeInserted Outcome = "inserted"
	OutcomeUpdated  Outcome = "updated"
)

// parseLog decodes a stored audit log. Unparsable content degrades to an
// empty log rather than blocking the pipeline.
func parseLog(raw []byte) []LogEvent {
	if len(raw) == 0 {
		return []LogEvent{}
	}
	var events []LogEvent
	if err := json.Unmarshal(raw, &events); err != nil {
		return []LogEvent{}
	}
	return events
}

// mergeLog serializes the stored log with the new events appended after
// it, for the audit_log column. The stored log is never replaced, only
// extended.
func mergeLog(stored, events []LogEvent) ([]byte, error) {
	merged := make([]LogEvent, 0, len(stored)+len(events))
	merged = append(merged, stored...)
	merged = append(merged, events...)
	return json.Marshal(merged)
}

// resolveExportKey applies keep-if-absent semantics: an update carrying
// no export key keeps whatever the stored record already has.
func resolveExportKey(existing *Record, incoming *string) *string {
	if incoming == nil && existing != nil {
		return existing.ExportKey
	}
	return incoming
}
