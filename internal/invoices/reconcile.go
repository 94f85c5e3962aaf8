package invoices

import (
	"math"

	"github.com/ledgerworks/factura/internal/ro"
)

// Totals aggregates the monetary fields compared during reconciliation.
type Totals struct {
	Base        float64 `json:"base"`
	Tax         float64 `json:"tax"`
	Withholding float64 `json:"withholding"`
	Grand       float64 `json:"grand"`
}

// Diff records one field whose computed value strays from the declared
// header value beyond tolerance. Delta is computed minus expected.
type Diff struct {
	Field    string  `json:"field"`
	Expected float64 `json:"expected"`
	Computed float64 `json:"computed"`
	Delta    float64 `json:"delta"`
}

// Reconciliation is the outcome of comparing declared header totals
// against totals recomputed from the line set.
type Reconciliation struct {
	OK    bool   `json:"ok"`
	Diffs []Diff `json:"diffs,omitempty"`
}

// DeclaredTotals extracts the header-declared totals from recognized
// general data.
func DeclaredTotals(g ro.GeneralData) Totals {
	return Totals{
		Base:        g.BaseTotal,
		Tax:         g.TaxTotal,
		Withholding: g.WithholdingTotal,
		Grand:       g.GrandTotal,
	}
}

// ComputedTotals sums line amounts into comparable totals. Lines carry no
// withholding, so the computed grand subtracts the declared withholding.
func ComputedTotals(lines []ro.Line, withholding float64) Totals {
	var t Totals
	for _, l := range lines {
		t.Base += l.BaseAmount
		t.Tax += l.TaxAmount
	}
	t.Withholding = withholding
	t.Grand = t.Base + t.Tax - withholding
	return t
}

// Compare checks computed totals against expected ones field by field.
// A field counts as a diff when the absolute delta exceeds tolerance.
func Compare(expected, computed Totals, tolerance float64) Reconciliation {
	fields := []struct {
		name               string
		expected, computed float64
	}{
		{"base_total", expected.Base, computed.Base},
		{"tax_total", expected.Tax, computed.Tax},
		{"withholding_total", expected.Withholding, computed.Withholding},
		{"grand_total", expected.Grand, computed.Grand},
	}

	var diffs []Diff
	for _, f := range fields {
		delta := f.computed - f.expected
		if math.Abs(delta) > tolerance {
			diffs = append(diffs, Diff{
				Field:    f.name,
				Expected: f.expected,
				Computed: f.computed,
				Delta:    delta,
			})
		}
	}

	return Reconciliation{OK: len(diffs) == 0, Diffs: diffs}
}
