package pipeline

import (
	"fmt"
	"time"

	"github.com/ledgerworks/factura/internal/fault"
)

// Blob key layout under {prefix}/{invoiceId}/.
func extractionKey(prefix, invoiceID string) string {
	return fmt.Sprintf("%s/%s/extraction-output.json", prefix, invoiceID)
}

func errorDocKey(prefix, invoiceID string) string {
	return fmt.Sprintf("%s/%s/validation_error.json", prefix, invoiceID)
}

func reconciliationKey(prefix, invoiceID string) string {
	return fmt.Sprintf("%s/%s/totals_reconciliation.json", prefix, invoiceID)
}

// ErrorFile identifies the source PDF inside an error document.
type ErrorFile struct {
	OriginalName string `json:"nombre_original"`
	PDFKey       string `json:"r2_pdf_key"`
	FileURL      string `json:"file_url"`
}

// ValidationDetail carries the aggregated field-level verdicts.
type ValidationDetail struct {
	MissingFields []string             `json:"campos_faltantes"`
	InvalidFields []fault.InvalidField `json:"campos_invalidos"`
}

// ErrorDocument is the structured failure record persisted to blob
// storage at a well-known path. The wire keys are fixed: downstream
// consumers of these documents predate this service.
type ErrorDocument struct {
	Kind       fault.Kind       `json:"tipo_error"`
	Detail     string           `json:"descripcion"`
	Stage      string           `json:"origen"`
	InvoiceID  string           `json:"invoiceId"`
	File       ErrorFile        `json:"archivo"`
	Validation ValidationDetail `json:"detalle_validacion"`
	Date       string           `json:"fecha_error"`
}

func newErrorDocument(req Request, stage string, f *fault.Failure) *ErrorDocument {
	missing := f.Missing
	if missing == nil {
		missing = []string{}
	}
	invalid := f.Invalid
	if invalid == nil {
		invalid = []fault.InvalidField{}
	}

	return &ErrorDocument{
		Kind:      f.Kind,
		Detail:    f.Description,
		Stage:     stage,
		InvoiceID: req.InvoiceID,
		File: ErrorFile{
			OriginalName: req.OriginalFileName,
			PDFKey:       req.PDFKey,
			FileURL:      req.FileURL,
		},
		Validation: ValidationDetail{
			MissingFields: missing,
			InvalidFields: invalid,
		},
		Date: time.Now().UTC().Format(time.RFC3339),
	}
}
