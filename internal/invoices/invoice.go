// Package invoices implements the relational invoice domain: header and
// line persistence with overwrite-on-reprocess semantics, plus the
// paginated read API.
package invoices

import (
	"time"

	"github.com/ledgerworks/factura/internal/ro"
	"github.com/ledgerworks/factura/pkg/repository"
)

// Header is a persisted invoice header joined with its provider.
type Header struct {
	ID                      int64     `json:"id"`
	CompanyID               int64     `json:"companyId"`
	InvoiceNumber           string    `json:"invoiceNumber"`
	NormalizedInvoiceNumber string    `json:"normalizedInvoiceNumber"`
	IssueDate               string    `json:"issueDate"`
	Currency                string    `json:"currency"`
	BaseTotal               float64   `json:"baseTotal"`
	TaxTotal                float64   `json:"taxTotal"`
	WithholdingTotal        float64   `json:"withholdingTotal"`
	GrandTotal              float64   `json:"grandTotal"`
	Notes                   *string   `json:"notes,omitempty"`
	CreatedAt               time.Time `json:"createdAt"`

	ProviderName  string `json:"providerName"`
	ProviderTaxID string `json:"providerTaxId"`
}

// Line is a persisted invoice line item. OrderIndex preserves the
// sequence the line appeared in within the source document, starting at 1.
type Line struct {
	ID          int64   `json:"id"`
	HeaderID    int64   `json:"headerId"`
	Description string  `json:"description"`
	ProductCode *string `json:"productCode,omitempty"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unitPrice"`
	TaxPct      float64 `json:"taxPct"`
	BaseAmount  float64 `json:"baseAmount"`
	TaxAmount   float64 `json:"taxAmount"`
	TotalAmount float64 `json:"totalAmount"`
	OrderIndex  int     `json:"orderIndex"`
}

// StoreCommand carries the validated header fields for persistence.
type StoreCommand struct {
	CompanyID               int64
	InvoiceNumber           string
	NormalizedInvoiceNumber string
	General                 ro.GeneralData
}

// StoreResult reports the persisted header and whether a prior record for
// the same provider and invoice number was replaced.
type StoreResult struct {
	Header      Header
	Overwritten bool
}

func scanHeader(s repository.Scanner) (Header, error) {
	var h Header
	err := s.Scan(
		&h.ID,
		&h.CompanyID,
		&h.InvoiceNumber,
		&h.NormalizedInvoiceNumber,
		&h.IssueDate,
		&h.Currency,
		&h.BaseTotal,
		&h.TaxTotal,
		&h.WithholdingTotal,
		&h.GrandTotal,
		&h.Notes,
		&h.CreatedAt,
		&h.ProviderName,
		&h.ProviderTaxID,
	)
	return h, err
}

// scanHeaderBase scans header columns without the joined provider fields,
// for statements returning rows from invoice_headers alone.
func scanHeaderBase(s repository.Scanner) (Header, error) {
	var h Header
	err := s.Scan(
		&h.ID,
		&h.CompanyID,
		&h.InvoiceNumber,
		&h.NormalizedInvoiceNumber,
		&h.IssueDate,
		&h.Currency,
		&h.BaseTotal,
		&h.TaxTotal,
		&h.WithholdingTotal,
		&h.GrandTotal,
		&h.Notes,
		&h.CreatedAt,
	)
	return h, err
}

func scanLine(s repository.Scanner) (Line, error) {
	var l Line
	err := s.Scan(
		&l.ID,
		&l.HeaderID,
		&l.Description,
		&l.ProductCode,
		&l.Quantity,
		&l.UnitPrice,
		&l.TaxPct,
		&l.BaseAmount,
		&l.TaxAmount,
		&l.TotalAmount,
		&l.OrderIndex,
	)
	return l, err
}
