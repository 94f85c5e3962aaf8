package pipeline_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/ledgerworks/factura/internal/companies"
	"github.com/ledgerworks/factura/internal/files"
	"github.com/ledgerworks/factura/internal/invoices"
	"github.com/ledgerworks/factura/internal/notify"
	"github.com/ledgerworks/factura/internal/pipeline"
	"github.com/ledgerworks/factura/internal/ro"
	"github.com/ledgerworks/factura/pkg/lifecycle"
	"github.com/ledgerworks/factura/pkg/pagination"
	"github.com/ledgerworks/factura/pkg/runner"
	"github.com/ledgerworks/factura/pkg/storage"
)

// --- fakes ---

type memStore struct {
	blobs map[string][]byte
}

func newMemStore() *memStore {
	return &memStore{blobs: make(map[string][]byte)}
}

func (m *memStore) Start(*lifecycle.Coordinator) error { return nil }

func (m *memStore) Upload(_ context.Context, key string, reader io.Reader, _ string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	m.blobs[key] = data
	return nil
}

func (m *memStore) Download(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.blobs[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memStore) Delete(_ context.Context, key string) error {
	delete(m.blobs, key)
	return nil
}

func (m *memStore) Exists(_ context.Context, key string) (bool, error) {
	_, ok := m.blobs[key]
	return ok, nil
}

type fakeExtractor struct {
	response json.RawMessage
	err      error
	failures int // fail this many calls before recovering; 0 fails forever
	calls    int
}

func (f *fakeExtractor) Extract(context.Context, []byte) (json.RawMessage, error) {
	f.calls++
	if f.err != nil && (f.failures == 0 || f.calls <= f.failures) {
		return nil, f.err
	}
	return f.response, nil
}

func (f *fakeExtractor) TemplateKey() string { return "templates/extract-invoice.json" }

type memCompanies struct {
	nextID  int64
	byTaxID map[string]companies.Company
}

func newMemCompanies() *memCompanies {
	return &memCompanies{nextID: 1, byTaxID: make(map[string]companies.Company)}
}

func (m *memCompanies) Resolve(_ context.Context, taxID, name string) (*companies.Resolution, error) {
	if c, ok := m.byTaxID[taxID]; ok {
		return &companies.Resolution{Company: c, NameMismatch: c.DisplayName != name}, nil
	}
	c := companies.Company{
		ID:             m.nextID,
		TaxID:          taxID,
		DisplayName:    name,
		NormalizedName: strings.ToLower(strings.Map(keepAlnum, name)),
	}
	m.nextID++
	m.byTaxID[taxID] = c
	return &companies.Resolution{Company: c, Created: true}, nil
}

func (m *memCompanies) Find(_ context.Context, id int64) (*companies.Company, error) {
	for _, c := range m.byTaxID {
		if c.ID == id {
			return &c, nil
		}
	}
	return nil, companies.ErrNotFound
}

func keepAlnum(r rune) rune {
	if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
		return r
	}
	return -1
}

type memInvoices struct {
	nextID  int64
	headers map[int64]invoices.Header
	lines   map[int64][]ro.Line
}

func newMemInvoices() *memInvoices {
	return &memInvoices{
		nextID:  1,
		headers: make(map[int64]invoices.Header),
		lines:   make(map[int64][]ro.Line),
	}
}

func (m *memInvoices) Handler() *invoices.Handler { return nil }

func (m *memInvoices) List(context.Context, pagination.PageRequest, invoices.Filters) (*pagination.PageResult[invoices.Header], error) {
	return nil, errors.New("not implemented")
}

func (m *memInvoices) Find(_ context.Context, id int64) (*invoices.Header, error) {
	h, ok := m.headers[id]
	if !ok {
		return nil, invoices.ErrNotFound
	}
	return &h, nil
}

func (m *memInvoices) Lines(_ context.Context, headerID int64) ([]invoices.Line, error) {
	return nil, nil
}

func (m *memInvoices) Store(_ context.Context, cmd invoices.StoreCommand) (*invoices.StoreResult, error) {
	overwritten := false
	for id, h := range m.headers {
		if h.CompanyID == cmd.CompanyID && h.InvoiceNumber == cmd.InvoiceNumber {
			delete(m.headers, id)
			delete(m.lines, id)
			overwritten = true
		}
	}

	h := invoices.Header{
		ID:                      m.nextID,
		CompanyID:               cmd.CompanyID,
		InvoiceNumber:           cmd.InvoiceNumber,
		NormalizedInvoiceNumber: cmd.NormalizedInvoiceNumber,
		IssueDate:               cmd.General.IssueDate,
		Currency:                cmd.General.Currency,
		BaseTotal:               cmd.General.BaseTotal,
		TaxTotal:                cmd.General.TaxTotal,
		WithholdingTotal:        cmd.General.WithholdingTotal,
		GrandTotal:              cmd.General.GrandTotal,
	}
	m.nextID++
	m.headers[h.ID] = h
	return &invoices.StoreResult{Header: h, Overwritten: overwritten}, nil
}

func (m *memInvoices) ReplaceLines(_ context.Context, headerID int64, lines []ro.Line) error {
	m.lines[headerID] = lines
	return nil
}

type memFiles struct {
	records     map[string]*files.Record
	failUpserts int // fail this many upserts before recovering
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
	if m.failUpserts > 0 {
		m.failUpserts--
		return "", errors.New("record store unavailable")
	}

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

	if cmd.HeaderID != nil {
		rec.HeaderID = cmd.HeaderID
	}
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
}

func (f *fakeNotifier) Send(_ context.Context, subject, body string) error {
	f.subjects = append(f.subjects, subject)
	f.bodies = append(f.bodies, body)
	return nil
}

// --- harness ---

type harness struct {
	store     *memStore
	extractor *fakeExtractor
	companies *memCompanies
	invoices  *memInvoices
	files     *memFiles
	notifier  *fakeNotifier
	orch      *pipeline.Orchestrator
}

func newHarness(t *testing.T, extractor *fakeExtractor) *harness {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	store := newMemStore()
	store.blobs["templates/extract-invoice.json"] = []byte(`{"model":"doc-reader","input":"{{FILE_URL}}"}`)
	store.blobs["pdfs/inv-1.pdf"] = []byte("%PDF-1.4 fake")

	companySys := newMemCompanies()
	invoiceSys := newMemInvoices()
	fileSys := newMemFiles()
	notifier := &fakeNotifier{}

	notifyCfg := &notify.Config{
		Enabled: true,
		Host:    "smtp.example",
		Port:    587,
		From:    "factura@example.com",
		To:      []string{"ops@example.com"},
	}
	dispatcher := notify.NewDispatcher(notifyCfg, notifier, fileSys, logger)

	cfg := &pipeline.Config{}
	if err := cfg.Finalize(nil); err != nil {
		t.Fatalf("finalize pipeline config: %v", err)
	}

	orch := pipeline.New(
		cfg, store, extractor,
		companySys, invoiceSys, fileSys,
		dispatcher, runner.Inline{}, logger,
	)

	return &harness{
		store:     store,
		extractor: extractor,
		companies: companySys,
		invoices:  invoiceSys,
		files:     fileSys,
		notifier:  notifier,
		orch:      orch,
	}
}

func request() pipeline.Request {
	return pipeline.Request{
		InvoiceID:        "inv-1",
		FileURL:          "https://files.example/inv-1.pdf",
		PDFKey:           "pdfs/inv-1.pdf",
		OriginalFileName: "factura.pdf",
		ContentType:      "application/pdf",
	}
}

func serviceResponse(t *testing.T, doc map[string]any) json.RawMessage {
	t.Helper()
	text, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal doc: %v", err)
	}
	resp, err := json.Marshal(map[string]any{
		"output": []any{
			map[string]any{"content": []any{map[string]any{"text": string(text)}}},
		},
	})
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}
	return resp
}

func validDoc() map[string]any {
	return map[string]any{
		"general_data": map[string]any{
			"provider_name":     "Águila, S.L.",
			"tax_id":            "Z999",
			"invoice_number":    "FAC-001",
			"issue_date":        "2024-03-15",
			"currency":          "EUR",
			"base_total":        100.0,
			"tax_total":         21.0,
			"withholding_total": 0.0,
			"grand_total":       121.0,
			"notes":             "",
		},
		"lines": []any{
			map[string]any{
				"description":  "Widget",
				"product_code": "W-1",
				"quantity":     2.0,
				"unit_price":   50.0,
				"tax_pct":      21.0,
				"base_amount":  100.0,
				"tax_amount":   21.0,
				"total_amount": 121.0,
			},
		},
	}
}

// --- tests ---

func TestRunSuccess(t *testing.T) {
	h := newHarness(t, &fakeExtractor{response: serviceResponse(t, validDoc())})

	if err := h.orch.Run(context.Background(), request()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	record := h.files.records["inv-1"]
	if record == nil {
		t.Fatal("no file record written")
	}
	if record.ValidationState != files.StateValidated {
		t.Errorf("state: got %q, want validated", record.ValidationState)
	}
	if record.ExportKey == nil {
		t.Fatal("export key not set")
	}
	if want := "invoices/inv-1/aguilasl_fac001.xlsx"; *record.ExportKey != want {
		t.Errorf("export key: got %q, want %q", *record.ExportKey, want)
	}
	if _, ok := h.store.blobs[*record.ExportKey]; !ok {
		t.Error("export artifact not persisted")
	}

	if len(h.invoices.headers) != 1 {
		t.Fatalf("expected 1 header, got %d", len(h.invoices.headers))
	}
	if record.HeaderID == nil {
		t.Fatal("header id not linked on record")
	}
	if lines := h.invoices.lines[*record.HeaderID]; len(lines) != 1 {
		t.Errorf("expected 1 line under header, got %d", len(lines))
	}

	if len(h.notifier.subjects) != 1 {
		t.Fatalf("expected exactly 1 notification, got %d", len(h.notifier.subjects))
	}
	if !strings.Contains(h.notifier.subjects[0], "success") {
		t.Errorf("notification not success: %q", h.notifier.subjects[0])
	}
}

func TestRunIsReplaySafe(t *testing.T) {
	h := newHarness(t, &fakeExtractor{response: serviceResponse(t, validDoc())})

	if err := h.orch.Run(context.Background(), request()); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if err := h.orch.Run(context.Background(), request()); err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if h.extractor.calls != 1 {
		t.Errorf("extraction re-called on replay: %d calls", h.extractor.calls)
	}
	if len(h.notifier.subjects) != 1 {
		t.Errorf("expected 1 notification across replays, got %d", len(h.notifier.subjects))
	}

	// The rewrite replaces the prior header wholesale: one live header
	// under a fresh id, carrying its own line set.
	if len(h.invoices.headers) != 1 {
		t.Fatalf("expected 1 live header after replay, got %d", len(h.invoices.headers))
	}
	for id := range h.invoices.headers {
		if id != 2 {
			t.Errorf("header id: got %d, want replacement id 2", id)
		}
		if len(h.invoices.lines[id]) != 1 {
			t.Errorf("replacement header has %d lines, want 1", len(h.invoices.lines[id]))
		}
	}
}

func TestRunRecoversAfterExtractionOutage(t *testing.T) {
	h := newHarness(t, &fakeExtractor{
		response: serviceResponse(t, validDoc()),
		err:      errors.New("service unavailable"),
		failures: 1,
	})

	if err := h.orch.Run(context.Background(), request()); err == nil {
		t.Fatal("first run should fail while the service is down")
	}

	// The error envelope persisted by the failed call must not satisfy
	// the next attempt; the service has to be called again.
	if err := h.orch.Run(context.Background(), request()); err != nil {
		t.Fatalf("retry after outage failed: %v", err)
	}
	if h.extractor.calls != 2 {
		t.Errorf("extractor calls across both runs: %d, want 2", h.extractor.calls)
	}

	record := h.files.records["inv-1"]
	if record == nil || record.ValidationState != files.StateValidated {
		t.Fatalf("record not validated after retry: %+v", record)
	}
	if record.ExportKey == nil {
		t.Error("export key not set after retry")
	}
}

func TestRunKeepsEventsAcrossFailedRecordWrite(t *testing.T) {
	h := newHarness(t, &fakeExtractor{response: serviceResponse(t, validDoc())})
	h.files.failUpserts = 1

	err := h.orch.Run(context.Background(), request())
	if err == nil {
		t.Fatal("expected retryable failure from the record write")
	}
	if !pipeline.Retryable(err) {
		t.Errorf("record write failure should be retryable: %v", err)
	}

	// The events buffered before the failed write must survive into the
	// failure-path record instead of being dropped with the failed call.
	record := h.files.records["inv-1"]
	if record == nil {
		t.Fatal("failure-path record not written")
	}
	seen := make(map[string]bool)
	for _, event := range record.AuditLog {
		seen[event.Type] = true
	}
	for _, want := range []string{"validation_passed", "provider_resolved", "header_written", "stage_failed"} {
		if !seen[want] {
			t.Errorf("audit log missing %s event", want)
		}
	}
}

func TestRunTerminalValidationFailure(t *testing.T) {
	doc := validDoc()
	general := doc["general_data"].(map[string]any)
	delete(general, "tax_id")
	general["grand_total"] = "not numeric"

	h := newHarness(t, &fakeExtractor{response: serviceResponse(t, doc)})

	// Terminal failures stop the instance without signaling a retry.
	if err := h.orch.Run(context.Background(), request()); err != nil {
		t.Fatalf("terminal failure must not propagate: %v", err)
	}

	errDoc, ok := h.store.blobs["invoices/inv-1/validation_error.json"]
	if !ok {
		t.Fatal("error document not persisted")
	}

	var parsed map[string]any
	if err := json.Unmarshal(errDoc, &parsed); err != nil {
		t.Fatalf("error document unreadable: %v", err)
	}
	if parsed["tipo_error"] != "required_field_missing" {
		t.Errorf("tipo_error: got %v", parsed["tipo_error"])
	}
	if parsed["origen"] != "READ_AND_VALIDATE_RO" {
		t.Errorf("origen: got %v", parsed["origen"])
	}

	detail := parsed["detalle_validacion"].(map[string]any)
	missing := detail["campos_faltantes"].([]any)
	if len(missing) == 0 {
		t.Error("campos_faltantes empty")
	}

	record := h.files.records["inv-1"]
	if record == nil {
		t.Fatal("failed-pending record not written")
	}
	if record.ValidationState != files.StatePending {
		t.Errorf("state: got %q, want pending", record.ValidationState)
	}

	if len(h.notifier.subjects) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(h.notifier.subjects))
	}
	if !strings.Contains(h.notifier.subjects[0], "error") {
		t.Errorf("notification not error: %q", h.notifier.subjects[0])
	}
	if !strings.Contains(h.notifier.bodies[0], "error_validation_terminal") {
		t.Errorf("body missing terminal state:\n%s", h.notifier.bodies[0])
	}

	if len(h.invoices.headers) != 0 {
		t.Errorf("no header should be written, got %d", len(h.invoices.headers))
	}
}

func TestRunRetryableFailurePropagates(t *testing.T) {
	h := newHarness(t, &fakeExtractor{err: errors.New("service unavailable")})

	err := h.orch.Run(context.Background(), request())
	if err == nil {
		t.Fatal("retryable failure must propagate for the durable host")
	}
	if !pipeline.Retryable(err) {
		t.Errorf("error should classify retryable: %v", err)
	}

	// The failed call still leaves its envelope for diagnostics.
	envelope, ok := h.store.blobs["invoices/inv-1/extraction-output.json"]
	if !ok {
		t.Fatal("error envelope not persisted")
	}
	var parsed map[string]any
	if err := json.Unmarshal(envelope, &parsed); err != nil {
		t.Fatalf("envelope unreadable: %v", err)
	}
	if parsed["status"] != "error" {
		t.Errorf("envelope status: got %v", parsed["status"])
	}
}

func TestRunRejectsIncompleteRequest(t *testing.T) {
	h := newHarness(t, &fakeExtractor{})

	req := request()
	req.FileURL = ""
	req.ContentType = ""

	err := h.orch.Run(context.Background(), req)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, field := range []string{"fileUrl", "contentType"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("error %q missing field %s", err, field)
		}
	}

	// A malformed payload can never succeed; the durable host must not
	// retry it.
	if pipeline.Retryable(err) {
		t.Error("request rejection classified retryable")
	}
}
