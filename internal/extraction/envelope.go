package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ledgerworks/factura/internal/fault"
	"github.com/ledgerworks/factura/pkg/formatting"
	"github.com/ledgerworks/factura/pkg/storage"
)

// Envelope is the persisted record of one extraction attempt. RawOutput
// carries the service response document verbatim so failed runs keep
// enough context to diagnose without re-calling the service.
type Envelope struct {
	StepName  string          `json:"stepName"`
	InvoiceID string          `json:"invoiceId"`
	Timestamp string          `json:"timestamp"`
	Status    string          `json:"status"`
	RawOutput json.RawMessage `json:"rawOutput,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// NewEnvelope builds a success envelope for a completed extraction call.
func NewEnvelope(invoiceID string, raw json.RawMessage) *Envelope {
	return &Envelope{
		StepName:  "extract",
		InvoiceID: invoiceID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Status:    "ok",
		RawOutput: raw,
	}
}

// NewErrorEnvelope builds a failure envelope preserving the call error.
func NewErrorEnvelope(invoiceID string, callErr error) *Envelope {
	return &Envelope{
		StepName:  "extract",
		InvoiceID: invoiceID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Status:    "error",
		Error:     callErr.Error(),
	}
}

// serviceResponse is the subset of the document-understanding response
// shape the pipeline needs: an output list whose entries wrap the model
// text in a content list.
type serviceResponse struct {
	Output json.RawMessage `json:"output"`
}

type outputEntry struct {
	Content []struct {
		Text string `json:"text"`
	} `json:"content"`
}

// ReadOutput loads the persisted envelope for an invoice and unwraps the
// structured document the service produced. The service double-wraps its
// result: the response "output" is a list whose first entry holds the
// document serialized as text inside content[0].text.
func ReadOutput(ctx context.Context, store storage.System, key string) (any, error) {
	var env Envelope
	if err := storage.GetJSON(ctx, store, key, &env); err != nil {
		return nil, fault.Newf(fault.KindExtractionMissing, "extraction output not found at %s: %v", key, err)
	}
	if env.Status != "ok" || len(env.RawOutput) == 0 {
		return nil, fault.Newf(fault.KindExtractionMissing, "extraction envelope for %s has no usable output", env.InvoiceID)
	}

	var resp serviceResponse
	if err := json.Unmarshal(env.RawOutput, &resp); err != nil {
		return nil, fault.Newf(fault.KindMalformedStructure, "extraction response is not an object: %v", err)
	}
	if len(resp.Output) == 0 {
		return nil, fault.New(fault.KindExtractionMissing, "extraction response has no output")
	}

	effective, err := unwrapOutput(resp.Output)
	if err != nil {
		return nil, err
	}

	var doc any
	if err := json.Unmarshal(effective, &doc); err != nil {
		return nil, fault.Newf(fault.KindMalformedStructure, "extracted document is not valid JSON: %v", err)
	}
	return doc, nil
}

// unwrapOutput resolves the effective document bytes. When output is a
// list, the document lives as a JSON string in the first entry's first
// content block; any other shape is used as-is.
func unwrapOutput(output json.RawMessage) (json.RawMessage, error) {
	var entries []outputEntry
	if err := json.Unmarshal(output, &entries); err != nil {
		// Not a list; treat the output itself as the document.
		return output, nil
	}
	if len(entries) == 0 || len(entries[0].Content) == 0 {
		return nil, fault.New(fault.KindMalformedStructure, "extraction output list has no content")
	}
	text := entries[0].Content[0].Text
	if text == "" {
		return nil, fault.New(fault.KindMalformedStructure, "extraction output content has no text")
	}

	// The embedded document may arrive fenced in a markdown code block.
	doc, err := formatting.Parse[json.RawMessage](text)
	if err != nil {
		return nil, fault.Newf(fault.KindMalformedStructure, "extraction output text is not valid JSON: %s", truncate(text, 120))
	}
	return doc, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
