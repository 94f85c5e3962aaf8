package files

import (
	"encoding/json"
	"testing"
	"time"
)

func TestParseLogRoundTrip(t *testing.T) {
	headerID := int64(42)
	events := []LogEvent{
		{Type: "header_written", Timestamp: "2024-03-15T10:00:00Z", InvoiceID: "inv-1", HeaderID: &headerID},
		{Type: "lines_written", Timestamp: "2024-03-15T10:00:01Z", InvoiceID: "inv-1", Detail: "3 lines"},
	}

	raw, err := json.Marshal(events)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	parsed := parseLog(raw)
	if len(parsed) != 2 {
		t.Fatalf("expected 2 events, got %d", len(parsed))
	}
	if parsed[0].Type != "header_written" || *parsed[0].HeaderID != 42 {
		t.Errorf("first event mangled: %+v", parsed[0])
	}
	if parsed[1].Detail != "3 lines" {
		t.Errorf("second event mangled: %+v", parsed[1])
	}
}

func TestParseLogUnparsable(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{"empty", nil},
		{"garbage", []byte("{{not json")},
		{"wrong shape", []byte(`{"type":"x"}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed := parseLog(tt.raw)
			if parsed == nil {
				t.Fatal("expected empty slice, got nil")
			}
			if len(parsed) != 0 {
				t.Errorf("expected empty log, got %v", parsed)
			}
		})
	}
}

func TestMergeLogAppendsAfterStored(t *testing.T) {
	e1 := LogEvent{Type: "extraction_completed", Timestamp: "2024-03-15T10:00:00Z", InvoiceID: "inv-1"}
	e2 := LogEvent{Type: "header_written", Timestamp: "2024-03-15T10:00:01Z", InvoiceID: "inv-1"}

	first, err := mergeLog(nil, []LogEvent{e1})
	if err != nil {
		t.Fatalf("merge onto empty: %v", err)
	}
	second, err := mergeLog(parseLog(first), []LogEvent{e2})
	if err != nil {
		t.Fatalf("merge onto stored: %v", err)
	}

	merged := parseLog(second)
	if len(merged) != 2 {
		t.Fatalf("expected 2 events, got %d", len(merged))
	}
	if merged[0].Type != "extraction_completed" || merged[1].Type != "header_written" {
		t.Errorf("stored log not preserved in order: %+v", merged)
	}
}

func TestMergeLogKeepsInputsIntact(t *testing.T) {
	stored := []LogEvent{{Type: "a"}, {Type: "b"}}
	if _, err := mergeLog(stored[:1], []LogEvent{{Type: "c"}}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if stored[1].Type != "b" {
		t.Errorf("merge clobbered the stored slice: %+v", stored)
	}
}

func TestResolveExportKey(t *testing.T) {
	storedKey := "invoices/inv-1/acme_f001.xlsx"
	newKey := "invoices/inv-1/acme_f002.xlsx"

	tests := []struct {
		name     string
		existing *Record
		incoming *string
		want     *string
	}{
		{"absent keeps stored", &Record{ExportKey: &storedKey}, nil, &storedKey},
		{"present overwrites", &Record{ExportKey: &storedKey}, &newKey, &newKey},
		{"absent with no stored", &Record{}, nil, nil},
		{"insert passes through", nil, &newKey, &newKey},
		{"insert without key", nil, nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolveExportKey(tt.existing, tt.incoming)
			if (got == nil) != (tt.want == nil) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			if got != nil && *got != *tt.want {
				t.Errorf("got %q, want %q", *got, *tt.want)
			}
		})
	}
}

func TestNewEventTimestamp(t *testing.T) {
	event := NewEvent("extraction_completed", "inv-9")

	if event.Type != "extraction_completed" || event.InvoiceID != "inv-9" {
		t.Errorf("event fields mangled: %+v", event)
	}
	if _, err := time.Parse(time.RFC3339, event.Timestamp); err != nil {
		t.Errorf("timestamp not RFC3339: %q", event.Timestamp)
	}
}
