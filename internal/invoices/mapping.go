package invoices

import (
	"net/url"
	"strconv"

	"github.com/ledgerworks/factura/pkg/query"
)

var projection = query.
	NewProjectionMap("public", "invoice_headers", "h").
	Project("id", "ID").
	Project("company_id", "CompanyID").
	Project("invoice_number", "InvoiceNumber").
	Project("normalized_invoice_number", "NormalizedInvoiceNumber").
	Project("issue_date", "IssueDate").
	Project("currency", "Currency").
	Project("base_total", "BaseTotal").
	Project("tax_total", "TaxTotal").
	Project("withholding_total", "WithholdingTotal").
	Project("grand_total", "GrandTotal").
	Project("notes", "Notes").
	Project("created_at", "CreatedAt").
	Join("public", "companies", "c", "INNER JOIN", "h.company_id = c.id").
	Project("display_name", "ProviderName").
	Project("tax_id", "ProviderTaxID")

var defaultSort = query.SortField{
	Field:      "CreatedAt",
	Descending: true,
}

// Filters contains optional filtering criteria for invoice queries.
// Nil fields are ignored. CompanyID, Currency, and IssueDate use exact
// matching; InvoiceNumber and ProviderName use contains matching.
type Filters struct {
	CompanyID     *int64  `json:"company_id,omitempty"`
	InvoiceNumber *string `json:"invoice_number,omitempty"`
	ProviderName  *string `json:"provider_name,omitempty"`
	Currency      *string `json:"currency,omitempty"`
	IssueDate     *string `json:"issue_date,omitempty"`
}

// Apply adds filter conditions to a query builder.
func (f Filters) Apply(b *query.Builder) *query.Builder {
	return b.
		WhereEquals("CompanyID", f.CompanyID).
		WhereContains("InvoiceNumber", f.InvoiceNumber).
		WhereContains("ProviderName", f.ProviderName).
		WhereEquals("Currency", f.Currency).
		WhereEquals("IssueDate", f.IssueDate)
}

// FiltersFromQuery extracts filter values from URL query parameters.
func FiltersFromQuery(values url.Values) Filters {
	var f Filters

	if cid := values.Get("company_id"); cid != "" {
		if v, err := strconv.ParseInt(cid, 10, 64); err == nil {
			f.CompanyID = &v
		}
	}

	if n := values.Get("invoice_number"); n != "" {
		f.InvoiceNumber = &n
	}

	if p := values.Get("provider_name"); p != "" {
		f.ProviderName = &p
	}

	if c := values.Get("currency"); c != "" {
		f.Currency = &c
	}

	if d := values.Get("issue_date"); d != "" {
		f.IssueDate = &d
	}

	return f
}
