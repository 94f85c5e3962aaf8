package export_test

import (
	"bytes"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/ledgerworks/factura/internal/export"
	"github.com/ledgerworks/factura/internal/ro"
)

func TestKey(t *testing.T) {
	got := export.Key("invoices", "inv-1", "aguilasl", "fac001")
	want := "invoices/inv-1/aguilasl_fac001.xlsx"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestBuildWorkbook(t *testing.T) {
	general := ro.GeneralData{
		TaxID:         "B12345678",
		InvoiceNumber: "FAC-001",
		IssueDate:     "2024-03-15",
		Currency:      "EUR",
		BaseTotal:     100,
		TaxTotal:      21,
		GrandTotal:    121,
	}
	lines := []ro.Line{
		{Description: "Widget", ProductCode: "W-1", Quantity: 2, UnitPrice: 50, TaxPct: 21, BaseAmount: 100, TaxAmount: 21, TotalAmount: 121},
	}

	data, err := export.Build("Factura", "Águila, S.L.", general, lines)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("workbook unreadable: %v", err)
	}
	defer f.Close()

	// Stored provider name wins over anything extracted.
	provider, err := f.GetCellValue("Factura", "B1")
	if err != nil {
		t.Fatalf("read provider cell: %v", err)
	}
	if provider != "Águila, S.L." {
		t.Errorf("provider: got %q", provider)
	}

	number, _ := f.GetCellValue("Factura", "B3")
	if number != "FAC-001" {
		t.Errorf("invoice number: got %q", number)
	}

	// Line table column headers sit below the header block.
	desc, _ := f.GetCellValue("Factura", "A12")
	if desc != "Description" {
		t.Errorf("line table header: got %q", desc)
	}

	lineDesc, _ := f.GetCellValue("Factura", "A13")
	if lineDesc != "Widget" {
		t.Errorf("line description: got %q", lineDesc)
	}
}

func TestBuildDefaultSheetName(t *testing.T) {
	data, err := export.Build("", "Provider", ro.GeneralData{}, nil)
	if err != nil {
		t.Fatalf("build failed: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("workbook unreadable: %v", err)
	}
	defer f.Close()

	if f.GetSheetName(0) != "Factura" {
		t.Errorf("sheet name: got %q", f.GetSheetName(0))
	}
}
