// Package ro defines the Recognized Output: the canonical, validated
// representation of an invoice's extracted fields.
package ro

// GeneralData holds the invoice header fields recognized by the
// document-understanding service.
type GeneralData struct {
	ProviderName     string  `json:"provider_name"`
	TaxID            string  `json:"tax_id"`
	InvoiceNumber    string  `json:"invoice_number"`
	IssueDate        string  `json:"issue_date"`
	Currency         string  `json:"currency"`
	BaseTotal        float64 `json:"base_total"`
	TaxTotal         float64 `json:"tax_total"`
	WithholdingTotal float64 `json:"withholding_total"`
	GrandTotal       float64 `json:"grand_total"`
	Notes            string  `json:"notes"`
}

// Line holds one recognized invoice line item.
type Line struct {
	Description string  `json:"description"`
	ProductCode string  `json:"product_code"`
	Quantity    float64 `json:"quantity"`
	UnitPrice   float64 `json:"unit_price"`
	TaxPct      float64 `json:"tax_pct"`
	BaseAmount  float64 `json:"base_amount"`
	TaxAmount   float64 `json:"tax_amount"`
	TotalAmount float64 `json:"total_amount"`
}

// RO is the validated recognized output for one invoice.
type RO struct {
	GeneralData GeneralData `json:"general_data"`
	Lines       []Line      `json:"lines"`
}
