// Package export renders a validated invoice into a spreadsheet and
// derives the blob key it is stored under.
package export

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/ledgerworks/factura/internal/ro"
)

// Key derives the export blob key for an invoice from its normalized
// provider and invoice number.
func Key(prefix, invoiceID, normalizedProvider, normalizedNumber string) string {
	return fmt.Sprintf("%s/%s/%s_%s.xlsx", prefix, invoiceID, normalizedProvider, normalizedNumber)
}

// Build renders the recognized invoice as a two-section workbook on the
// named sheet: a header block of field/value pairs, then the line table.
// providerName is the stored company display name, which wins over the
// extracted one.
func Build(sheetName, providerName string, general ro.GeneralData, lines []ro.Line) ([]byte, error) {
	if sheetName == "" {
		sheetName = "Factura"
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("create header style: %w", err)
	}

	headerRows := []struct {
		label string
		value any
	}{
		{"Provider", providerName},
		{"Tax ID", general.TaxID},
		{"Invoice Number", general.InvoiceNumber},
		{"Issue Date", general.IssueDate},
		{"Currency", general.Currency},
		{"Base Total", general.BaseTotal},
		{"Tax Total", general.TaxTotal},
		{"Withholding Total", general.WithholdingTotal},
		{"Grand Total", general.GrandTotal},
		{"Notes", general.Notes},
	}

	for i, row := range headerRows {
		cell := fmt.Sprintf("A%d", i+1)
		if err := f.SetCellValue(sheetName, cell, row.label); err != nil {
			return nil, fmt.Errorf("write header label %s: %w", row.label, err)
		}
		if err := f.SetCellStyle(sheetName, cell, cell, bold); err != nil {
			return nil, fmt.Errorf("style header label %s: %w", row.label, err)
		}
		if err := f.SetCellValue(sheetName, fmt.Sprintf("B%d", i+1), row.value); err != nil {
			return nil, fmt.Errorf("write header value %s: %w", row.label, err)
		}
	}

	// Line table starts after the header block and a separator row.
	tableRow := len(headerRows) + 2
	columns := []string{
		"Description", "Product Code", "Quantity", "Unit Price",
		"Tax %", "Base Amount", "Tax Amount", "Total Amount",
	}
	for i, col := range columns {
		cell, err := excelize.CoordinatesToCellName(i+1, tableRow)
		if err != nil {
			return nil, fmt.Errorf("locate column %s: %w", col, err)
		}
		if err := f.SetCellValue(sheetName, cell, col); err != nil {
			return nil, fmt.Errorf("write column header %s: %w", col, err)
		}
		if err := f.SetCellStyle(sheetName, cell, cell, bold); err != nil {
			return nil, fmt.Errorf("style column header %s: %w", col, err)
		}
	}

	for i, line := range lines {
		values := []any{
			line.Description,
			line.ProductCode,
			line.Quantity,
			line.UnitPrice,
			line.TaxPct,
			line.BaseAmount,
			line.TaxAmount,
			line.TotalAmount,
		}
		for j, v := range values {
			cell, err := excelize.CoordinatesToCellName(j+1, tableRow+1+i)
			if err != nil {
				return nil, fmt.Errorf("locate line %d cell: %w", i+1, err)
			}
			if err := f.SetCellValue(sheetName, cell, v); err != nil {
				return nil, fmt.Errorf("write line %d: %w", i+1, err)
			}
		}
	}

	if err := f.SetColWidth(sheetName, "A", "A", 32); err != nil {
		return nil, fmt.Errorf("size columns: %w", err)
	}
	if err := f.SetColWidth(sheetName, "B", "H", 16); err != nil {
		return nil, fmt.Errorf("size columns: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("serialize workbook: %w", err)
	}
	return buf.Bytes(), nil
}
