package invoices_test

import (
	"testing"

	"github.com/ledgerworks/factura/internal/invoices"
	"github.com/ledgerworks/factura/internal/ro"
)

func TestCompareWithinTolerance(t *testing.T) {
	expected := invoices.Totals{Base: 100, Tax: 21, Withholding: 0, Grand: 121}
	computed := invoices.Totals{Base: 100.05, Tax: 20.95, Withholding: 0, Grand: 121.0}

	result := invoices.Compare(expected, computed, 0.10)
	if !result.OK {
		t.Fatalf("expected OK, got diffs %v", result.Diffs)
	}
}

func TestCompareBeyondTolerance(t *testing.T) {
	expected := invoices.Totals{Base: 100, Tax: 21, Withholding: 0, Grand: 121}
	computed := invoices.Totals{Base: 100, Tax: 21, Withholding: 0, Grand: 122.5}

	result := invoices.Compare(expected, computed, 0.10)
	if result.OK {
		t.Fatal("expected mismatch")
	}
	if len(result.Diffs) != 1 {
		t.Fatalf("expected 1 diff, got %d", len(result.Diffs))
	}

	diff := result.Diffs[0]
	if diff.Field != "grand_total" {
		t.Errorf("field: got %q", diff.Field)
	}
	if diff.Delta != 1.5 {
		t.Errorf("delta: got %v, want computed minus expected = 1.5", diff.Delta)
	}
}

func TestCompareNegativeDelta(t *testing.T) {
	expected := invoices.Totals{Base: 100}
	computed := invoices.Totals{Base: 99.5}

	result := invoices.Compare(expected, computed, 0.10)
	if result.OK {
		t.Fatal("expected mismatch")
	}
	if result.Diffs[0].Delta != -0.5 {
		t.Errorf("delta: got %v, want -0.5", result.Diffs[0].Delta)
	}
}

func TestComputedTotals(t *testing.T) {
	lines := []ro.Line{
		{BaseAmount: 60, TaxAmount: 12.6},
		{BaseAmount: 40, TaxAmount: 8.4},
	}

	totals := invoices.ComputedTotals(lines, 15)
	if totals.Base != 100 {
		t.Errorf("base: got %v", totals.Base)
	}
	if totals.Tax != 21 {
		t.Errorf("tax: got %v", totals.Tax)
	}
	if totals.Grand != 106 {
		t.Errorf("grand: got %v, want base+tax-withholding", totals.Grand)
	}
}
