package fault_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/ledgerworks/factura/internal/fault"
)

func TestTerminalClassification(t *testing.T) {
	tests := []struct {
		kind     fault.Kind
		terminal bool
	}{
		{fault.KindExtractionMissing, false},
		{fault.KindMalformedStructure, true},
		{fault.KindReadError, false},
		{fault.KindRequiredFieldMissing, true},
		{fault.KindRequiredFieldInvalid, true},
		{fault.KindInvalidInput, true},
		{fault.KindDuplicateCompany, true},
		{fault.KindEmptyNormalizedName, true},
		{fault.KindQueryFailed, false},
		{fault.KindInsertFailed, false},
		{fault.KindLineDeleteFailed, false},
		{fault.KindLineInsertFailed, false},
		{fault.KindInconsistentRecord, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			f := fault.New(tt.kind, "test")
			if f.Terminal() != tt.terminal {
				t.Errorf("Terminal() = %v, want %v", f.Terminal(), tt.terminal)
			}
		})
	}
}

func TestFromExtractsWrappedFailure(t *testing.T) {
	inner := fault.New(fault.KindDuplicateCompany, "two rows")
	wrapped := fmt.Errorf("resolve provider: %w", inner)

	f := fault.From(wrapped, fault.KindReadError)
	if f.Kind != fault.KindDuplicateCompany {
		t.Errorf("kind: got %v, want duplicate_company", f.Kind)
	}
}

func TestFromFallback(t *testing.T) {
	f := fault.From(errors.New("connection refused"), fault.KindQueryFailed)
	if f.Kind != fault.KindQueryFailed {
		t.Errorf("kind: got %v, want query_failed", f.Kind)
	}
	if f.Terminal() {
		t.Error("fallback infrastructure fault must not be terminal")
	}
}

func TestIsKind(t *testing.T) {
	err := fault.New(fault.KindInconsistentRecord, "header mismatch").WithStage("MARK_PENDING")

	if !fault.IsKind(err, fault.KindInconsistentRecord) {
		t.Error("IsKind failed to match")
	}
	if fault.IsKind(err, fault.KindQueryFailed) {
		t.Error("IsKind matched wrong kind")
	}
	if fault.IsKind(errors.New("plain"), fault.KindQueryFailed) {
		t.Error("IsKind matched unclassified error")
	}
}

func TestErrorIncludesStage(t *testing.T) {
	f := fault.New(fault.KindInsertFailed, "boom").WithStage("WRITE_HEADER")
	want := "WRITE_HEADER: insert_failed: boom"
	if f.Error() != want {
		t.Errorf("got %q, want %q", f.Error(), want)
	}
}
