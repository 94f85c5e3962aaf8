package pipeline

import (
	"fmt"
	"strings"
)

// Request is the inbound trigger payload for one invoice instance.
// All fields are required; a missing field rejects the request before an
// instance is created.
type Request struct {
	InvoiceID        string `json:"invoiceId"`
	FileURL          string `json:"fileUrl"`
	PDFKey           string `json:"r2Key"`
	OriginalFileName string `json:"originalFileName"`
	ContentType      string `json:"contentType"`
}

// Validate reports every missing field at once.
func (r *Request) Validate() error {
	var missing []string
	if r.InvoiceID == "" {
		missing = append(missing, "invoiceId")
	}
	if r.FileURL == "" {
		missing = append(missing, "fileUrl")
	}
	if r.PDFKey == "" {
		missing = append(missing, "r2Key")
	}
	if r.OriginalFileName == "" {
		missing = append(missing, "originalFileName")
	}
	if r.ContentType == "" {
		missing = append(missing, "contentType")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}
