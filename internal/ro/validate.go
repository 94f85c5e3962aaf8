package ro

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ledgerworks/factura/internal/fault"
)

const (
	keyGeneralData = "general_data"
	keyLines       = "lines"
)

var generalDataFields = []string{
	"provider_name",
	"tax_id",
	"invoice_number",
	"issue_date",
	"currency",
	"base_total",
	"tax_total",
	"withholding_total",
	"grand_total",
	"notes",
}

var lineFields = []string{
	"description",
	"product_code",
	"quantity",
	"unit_price",
	"tax_pct",
	"base_amount",
	"tax_amount",
	"total_amount",
}

var numericFields = map[string]bool{
	"base_total":        true,
	"tax_total":         true,
	"withholding_total": true,
	"grand_total":       true,
	"quantity":          true,
	"unit_price":        true,
	"tax_pct":           true,
	"base_amount":       true,
	"tax_amount":        true,
	"total_amount":      true,
}

var numericPattern = regexp.MustCompile(`^[-+]?\d+(\.\d+)?$`)

// Validate coerces the raw extraction output into an RO. Missing and invalid
// fields are collected across both sections before failing, so one
// correction round-trip can fix every reported problem. Structural problems
// (non-object input, unknown top-level keys, non-array lines) fail
// immediately with malformed_structure.
func Validate(raw any) (*RO, *fault.Failure) {
	obj, ok := asObject(raw)
	if !ok {
		return nil, fault.New(fault.KindMalformedStructure, "recognized output is not an object")
	}

	var extra []string
	for k := range obj {
		if k != keyGeneralData && k != keyLines {
			extra = append(extra, k)
		}
	}
	if len(extra) > 0 {
		sort.Strings(extra)
		return nil, fault.Newf(
			fault.KindMalformedStructure,
			"recognized output contains unknown keys: %s",
			strings.Join(extra, ","),
		)
	}

	dgRaw, ok := asObject(obj[keyGeneralData])
	if !ok {
		return nil, fault.New(fault.KindMalformedStructure, "general_data is not an object")
	}

	var missing []string
	var invalid []fault.InvalidField

	var dg GeneralData
	for _, field := range generalDataFields {
		value, present := dgRaw[field]
		if !present || value == nil {
			missing = append(missing, keyGeneralData+"."+field)
			continue
		}
		coerceField(&missing, &invalid, keyGeneralData+"."+field, field, value, dgSetter(&dg, field))
	}

	linesRaw, ok := obj[keyLines].([]any)
	if !ok {
		return nil, fault.New(fault.KindMalformedStructure, "lines is not an array")
	}

	var lines []Line
	for idx, lineRaw := range linesRaw {
		lineObj, ok := asObject(lineRaw)
		if !ok {
			invalid = append(invalid, fault.InvalidField{
				Field:  fmt.Sprintf("lines[%d]", idx),
				Value:  lineRaw,
				Reason: "line is not an object",
			})
			continue
		}

		var line Line
		resolved := 0
		for _, field := range lineFields {
			path := fmt.Sprintf("lines[%d].%s", idx, field)
			value, present := lineObj[field]
			if !present || value == nil {
				missing = append(missing, path)
				continue
			}
			if coerceField(&missing, &invalid, path, field, value, lineSetter(&line, field)) {
				resolved++
			}
		}

		// A line joins the final set only when every field resolved;
		// partial fields are kept for reporting but the line is dropped.
		if resolved == len(lineFields) {
			lines = append(lines, line)
		}
	}

	if len(missing) > 0 || len(invalid) > 0 {
		kind := fault.KindRequiredFieldInvalid
		description := "required fields have invalid values in recognized output"
		if len(missing) > 0 {
			kind = fault.KindRequiredFieldMissing
			description = "required fields missing in recognized output"
		}
		return nil, &fault.Failure{
			Kind:        kind,
			Description: description,
			Missing:     missing,
			Invalid:     invalid,
		}
	}

	return &RO{GeneralData: dg, Lines: lines}, nil
}

// ValidateLines re-checks the line section ahead of the line write. The RO
// has already passed Validate; this guards against an empty line set
// surviving the line-exclusion rule.
func ValidateLines(r *RO) *fault.Failure {
	if r == nil {
		return fault.New(fault.KindMalformedStructure, "recognized output missing for line write")
	}
	if len(r.Lines) == 0 {
		return &fault.Failure{
			Kind:        fault.KindRequiredFieldMissing,
			Description: "lines not present or empty",
			Missing:     []string{"lines"},
		}
	}
	return nil
}

func coerceField(
	missing *[]string,
	invalid *[]fault.InvalidField,
	path, field string,
	value any,
	set func(any) bool,
) bool {
	if numericFields[field] {
		n, ok := toNumber(value)
		if !ok {
			*invalid = append(*invalid, fault.InvalidField{
				Field:  path,
				Value:  value,
				Reason: "not numeric or numeric-looking",
			})
			return false
		}
		return set(n)
	}

	s, ok := toText(value)
	if !ok {
		*invalid = append(*invalid, fault.InvalidField{
			Field:  path,
			Value:  value,
			Reason: "not convertible to text",
		})
		return false
	}
	return set(s)
}

func dgSetter(dg *GeneralData, field string) func(any) bool {
	return func(v any) bool {
		switch field {
		case "provider_name":
			dg.ProviderName = v.(string)
		case "tax_id":
			dg.TaxID = v.(string)
		case "invoice_number":
			dg.InvoiceNumber = v.(string)
		case "issue_date":
			dg.IssueDate = v.(string)
		case "currency":
			dg.Currency = v.(string)
		case "base_total":
			dg.BaseTotal = v.(float64)
		case "tax_total":
			dg.TaxTotal = v.(float64)
		case "withholding_total":
			dg.WithholdingTotal = v.(float64)
		case "grand_total":
			dg.GrandTotal = v.(float64)
		case "notes":
			dg.Notes = v.(string)
		default:
			return false
		}
		return true
	}
}

func lineSetter(line *Line, field string) func(any) bool {
	return func(v any) bool {
		switch field {
		case "description":
			line.Description = v.(string)
		case "product_code":
			line.ProductCode = v.(string)
		case "quantity":
			line.Quantity = v.(float64)
		case "unit_price":
			line.UnitPrice = v.(float64)
		case "tax_pct":
			line.TaxPct = v.(float64)
		case "base_amount":
			line.BaseAmount = v.(float64)
		case "tax_amount":
			line.TaxAmount = v.(float64)
		case "total_amount":
			line.TotalAmount = v.(float64)
		default:
			return false
		}
		return true
	}
}

func asObject(v any) (map[string]any, bool) {
	obj, ok := v.(map[string]any)
	return obj, ok
}

func toNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" || !numericPattern.MatchString(trimmed) {
			return 0, false
		}
		n, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

func toText(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		return v, true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(v), true
	}
	return "", false
}
