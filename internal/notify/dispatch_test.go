package notify_test

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/ledgerworks/factura/internal/files"
	"github.com/ledgerworks/factura/internal/notify"
)

type memFiles struct {
	records map[string]*files.Record
}

func newMemFiles() *memFiles {
	return &memFiles{records: make(map[string]*files.Record)}
}

func (m *memFiles) Find(_ context.Context, invoiceID string) (*files.Record, error) {
	rec, ok := m.records[invoiceID]
	if !ok {
		return nil, files.ErrNotFound
	}
	copied := *rec
	copied.AuditLog = append([]files.LogEvent(nil), rec.AuditLog...)
	return &copied, nil
}

func (m *memFiles) Upsert(_ context.Context, cmd files.UpsertCommand) (files.Outcome, error) {
	rec, ok := m.records[cmd.InvoiceID]
	if !ok {
		m.records[cmd.InvoiceID] = &files.Record{
			InvoiceID:        cmd.InvoiceID,
			HeaderID:         cmd.HeaderID,
			SourcePDFKey:     cmd.SourcePDFKey,
			SourceFileURL:    cmd.SourceFileURL,
			OriginalFilename: cmd.OriginalFilename,
			ValidationState:  cmd.ValidationState,
			ExportKey:        cmd.ExportKey,
			AuditLog:         append([]files.LogEvent(nil), cmd.Events...),
		}
		return files.OutcomeInserted, nil
	}

	rec.HeaderID = cmd.HeaderID
	rec.ValidationState = cmd.ValidationState
	if cmd.ExportKey != nil {
		rec.ExportKey = cmd.ExportKey
	}
	rec.AuditLog = append(rec.AuditLog, cmd.Events...)
	return files.OutcomeUpdated, nil
}

func (m *memFiles) AppendEvents(_ context.Context, invoiceID string, events ...files.LogEvent) error {
	rec, ok := m.records[invoiceID]
	if !ok {
		return nil
	}
	rec.AuditLog = append(rec.AuditLog, events...)
	return nil
}

type fakeNotifier struct {
	subjects []string
	bodies   []string
	fail     bool
}

func (f *fakeNotifier) Send(_ context.Context, subject, body string) error {
	if f.fail {
		return errors.New("smtp unreachable")
	}
	f.subjects = append(f.subjects, subject)
	f.bodies = append(f.bodies, body)
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func enabledConfig() *notify.Config {
	return &notify.Config{
		Enabled: true,
		Host:    "smtp.example",
		Port:    587,
		From:    "factura@example.com",
		To:      []string{"ops@example.com"},
	}
}

func seedRecord(store *memFiles, invoiceID string) {
	store.records[invoiceID] = &files.Record{
		InvoiceID:       invoiceID,
		ValidationState: files.StateValidated,
		AuditLog: []files.LogEvent{
			{Type: "export_built", Timestamp: "2024-03-15T10:00:00Z", InvoiceID: invoiceID, Detail: "invoices/inv-1/a_b.xlsx"},
		},
	}
}

func TestDispatchSendsOnce(t *testing.T) {
	store := newMemFiles()
	seedRecord(store, "inv-1")

	notifier := &fakeNotifier{}
	d := notify.NewDispatcher(enabledConfig(), notifier, store, testLogger())

	report := notify.Report{
		InvoiceID:        "inv-1",
		Success:          true,
		FinalState:       files.StateValidated,
		Summary:          "invoice FAC-001 processed",
		OriginalFilename: "factura.pdf",
		PDFKey:           "pdfs/inv-1.pdf",
	}

	d.Dispatch(context.Background(), report)
	d.Dispatch(context.Background(), report)

	if len(notifier.subjects) != 1 {
		t.Fatalf("expected exactly 1 send, got %d", len(notifier.subjects))
	}
	if !strings.Contains(notifier.subjects[0], "success") {
		t.Errorf("subject missing result label: %q", notifier.subjects[0])
	}

	body := notifier.bodies[0]
	for _, want := range []string{"inv-1", "factura.pdf", "invoice FAC-001 processed", "export_built"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}

	found := false
	for _, e := range store.records["inv-1"].AuditLog {
		if e.Type == notify.EventSent {
			found = true
		}
	}
	if !found {
		t.Error("notification_sent event not recorded")
	}
}

func TestDispatchSkippedWhenUnconfigured(t *testing.T) {
	store := newMemFiles()
	seedRecord(store, "inv-2")

	notifier := &fakeNotifier{}
	d := notify.NewDispatcher(&notify.Config{}, notifier, store, testLogger())

	d.Dispatch(context.Background(), notify.Report{InvoiceID: "inv-2"})

	if len(notifier.subjects) != 0 {
		t.Fatal("expected no send")
	}

	events := store.records["inv-2"].AuditLog
	if events[len(events)-1].Type != notify.EventSkippedConfig {
		t.Errorf("expected skipped event, got %v", events[len(events)-1].Type)
	}
}

func TestDispatchRecordsDeliveryError(t *testing.T) {
	store := newMemFiles()
	seedRecord(store, "inv-3")

	d := notify.NewDispatcher(enabledConfig(), &fakeNotifier{fail: true}, store, testLogger())
	d.Dispatch(context.Background(), notify.Report{InvoiceID: "inv-3", FinalState: files.StateValidated})

	events := store.records["inv-3"].AuditLog
	last := events[len(events)-1]
	if last.Type != notify.EventError {
		t.Fatalf("expected notification_error, got %v", last.Type)
	}
	if !strings.Contains(last.Detail, "smtp unreachable") {
		t.Errorf("detail missing cause: %q", last.Detail)
	}
}

func TestDispatchWithoutRecord(t *testing.T) {
	notifier := &fakeNotifier{}
	d := notify.NewDispatcher(enabledConfig(), notifier, newMemFiles(), testLogger())

	d.Dispatch(context.Background(), notify.Report{
		InvoiceID:        "inv-missing",
		FinalState:       "pending",
		OriginalFilename: "x.pdf",
	})

	if len(notifier.subjects) != 1 {
		t.Fatalf("expected send despite missing record, got %d", len(notifier.subjects))
	}
}
