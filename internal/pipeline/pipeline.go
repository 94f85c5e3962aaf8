// Package pipeline orchestrates the durable invoice-processing sequence:
// extraction, validation, provider resolution, relational writes, export,
// and the final notification. Stages run strictly in order; each failure
// is classified by kind to decide whether the instance stops permanently
// or re-raises for the durable runner to retry.
package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/ledgerworks/factura/internal/companies"
	"github.com/ledgerworks/factura/internal/export"
	"github.com/ledgerworks/factura/internal/extraction"
	"github.com/ledgerworks/factura/internal/fault"
	"github.com/ledgerworks/factura/internal/files"
	"github.com/ledgerworks/factura/internal/invoices"
	"github.com/ledgerworks/factura/internal/notify"
	"github.com/ledgerworks/factura/internal/ro"
	"github.com/ledgerworks/factura/pkg/normalize"
	"github.com/ledgerworks/factura/pkg/runner"
	"github.com/ledgerworks/factura/pkg/storage"
)

// Stage names, in execution order.
const (
	StageExtract         = "EXTRACT"
	StageReadAndValidate = "READ_AND_VALIDATE_RO"
	StageResolveProvider = "RESOLVE_PROVIDER"
	StageWriteHeader     = "WRITE_HEADER"
	StageMarkPending     = "MARK_PENDING"
	StageWriteLines      = "WRITE_LINES"
	StageBuildExport     = "BUILD_EXPORT"
)

// FinalStateErrorTerminal labels a permanently stopped instance in
// notifications and audit events. The file record itself only ever holds
// pending or validated.
const FinalStateErrorTerminal = "error_validation_terminal"

// Orchestrator wires the pipeline's collaborators and runs instances.
type Orchestrator struct {
	cfg        *Config
	store      storage.System
	extractor  extraction.Client
	companies  companies.System
	invoices   invoices.System
	files      files.System
	dispatcher *notify.Dispatcher
	steps      runner.StepRunner
	http       *http.Client
	logger     *slog.Logger
}

// New creates an Orchestrator.
func New(
	cfg *Config,
	store storage.System,
	extractor extraction.Client,
	companySys companies.System,
	invoiceSys invoices.System,
	fileSys files.System,
	dispatcher *notify.Dispatcher,
	steps runner.StepRunner,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		store:      store,
		extractor:  extractor,
		companies:  companySys,
		invoices:   invoiceSys,
		files:      fileSys,
		dispatcher: dispatcher,
		steps:      steps,
		http:       &http.Client{},
		logger:     logger.With("system", "pipeline"),
	}
}

// Retryable reports whether an instance error should be re-invoked by the
// durable runner. Terminal faults stop inside Run and never surface here,
// so anything that does surface is retryable unless classified terminal.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return !fault.From(err, fault.KindReadError).Terminal()
}

// instance carries the mutable state of one pipeline run.
type instance struct {
	req    Request
	events []files.LogEvent

	doc        any
	recognized *ro.RO
	resolution *companies.Resolution
	header     *invoices.Header
	exportKey  *string

	finalState string
	summary    string
	success    bool
}

func (in *instance) record(eventType, detail string) {
	event := files.NewEvent(eventType, in.req.InvoiceID)
	if in.header != nil {
		event.HeaderID = &in.header.ID
	}
	event.Detail = detail
	in.events = append(in.events, event)
}

func (in *instance) headerID() *int64 {
	if in.header == nil {
		return nil
	}
	return &in.header.ID
}

// Run processes one invoice instance end to end. A terminal failure stops
// the instance and returns nil so the runner does not retry; a retryable
// failure returns the error for the runner to re-invoke. Exactly one
// notification dispatch is attempted per call, whatever the outcome.
func (o *Orchestrator) Run(ctx context.Context, req Request) error {
	if err := req.Validate(); err != nil {
		// Request-level rejection: a malformed payload can never succeed,
		// so the durable host must not retry it.
		return fault.Newf(fault.KindInvalidInput, "%v", err)
	}

	in := &instance{req: req, finalState: files.StatePending}
	logger := o.logger.With("invoiceId", req.InvoiceID)
	logger.Info("instance started", "file", req.OriginalFileName)

	defer o.dispatch(ctx, in)

	stages := []struct {
		name string
		run  func(context.Context, *instance) error
	}{
		{StageExtract, o.extract},
		{StageReadAndValidate, o.readAndValidate},
		{StageResolveProvider, o.resolveProvider},
		{StageWriteHeader, o.writeHeader},
		{StageMarkPending, o.markPending},
		{StageWriteLines, o.writeLines},
		{StageBuildExport, o.buildExport},
	}

	for _, stage := range stages {
		err := o.steps.Do(ctx, stage.name, func(ctx context.Context) error {
			return stage.run(ctx, in)
		})
		if err == nil {
			continue
		}

		f := fault.From(err, fault.KindReadError).WithStage(stage.name)
		o.persistFailure(ctx, in, stage.name, f)

		if f.Terminal() {
			in.finalState = FinalStateErrorTerminal
			in.summary = f.Description
			logger.Error("instance stopped", "stage", stage.name, "kind", f.Kind, "error", f.Description)
			return nil
		}

		in.summary = f.Description
		logger.Warn("instance failed, retryable", "stage", stage.name, "kind", f.Kind, "error", f.Description)
		return f
	}

	in.success = true
	in.finalState = files.StateValidated
	in.summary = fmt.Sprintf("invoice %s processed", in.header.InvoiceNumber)
	logger.Info("instance complete", "headerId", in.header.ID)
	return nil
}

// extract verifies the source PDF, calls the document-understanding
// service with the stored request template, and persists the response
// envelope. The envelope is written even when the call fails, so failed
// runs keep their diagnostics.
func (o *Orchestrator) extract(ctx context.Context, in *instance) error {
	key := extractionKey(o.cfg.Prefix, in.req.InvoiceID)

	// Reuse a stored envelope only when it holds a completed response. An
	// error envelope from a failed call must not shadow the retry, or the
	// service would never be re-called.
	var stored extraction.Envelope
	if err := storage.GetJSON(ctx, o.store, key, &stored); err == nil && stored.Status == "ok" {
		in.record("extraction_reused", key)
		return nil
	}

	if err := o.stagePDF(ctx, in); err != nil {
		return fault.Newf(fault.KindReadError, "stage source pdf: %v", err)
	}

	var template string
	if err := o.fetchTemplate(ctx, &template); err != nil {
		return fault.Newf(fault.KindReadError, "load extraction template: %v", err)
	}

	body, err := extraction.RenderTemplate(template, in.req.FileURL)
	if err != nil {
		return fault.Newf(fault.KindMalformedStructure, "render extraction template: %v", err)
	}

	raw, callErr := o.extractor.Extract(ctx, body)

	var envelope *extraction.Envelope
	if callErr != nil {
		envelope = extraction.NewErrorEnvelope(in.req.InvoiceID, callErr)
	} else {
		envelope = extraction.NewEnvelope(in.req.InvoiceID, raw)
	}
	if err := storage.PutJSON(ctx, o.store, key, envelope); err != nil {
		return fault.Newf(fault.KindReadError, "persist extraction envelope: %v", err)
	}

	if callErr != nil {
		return fault.Newf(fault.KindReadError, "extraction call: %v", callErr)
	}

	in.record("extraction_completed", key)
	return nil
}

// stagePDF downloads the source PDF, checks it parses as a PDF, and
// mirrors it into blob storage under the collaborator-supplied key when
// not already present.
func (o *Orchestrator) stagePDF(ctx context.Context, in *instance) error {
	if exists, err := o.store.Exists(ctx, in.req.PDFKey); err == nil && exists {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, in.req.FileURL, nil)
	if err != nil {
		return fmt.Errorf("build pdf request: %w", err)
	}
	resp, err := o.http.Do(req)
	if err != nil {
		return fmt.Errorf("download pdf: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download pdf: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read pdf: %w", err)
	}

	if pages, err := api.PageCount(bytes.NewReader(data), nil); err != nil {
		o.logger.Warn("source file is not a readable pdf", "invoiceId", in.req.InvoiceID, "error", err)
	} else {
		o.logger.Info("source pdf staged", "invoiceId", in.req.InvoiceID, "pages", pages)
	}

	return o.store.Upload(ctx, in.req.PDFKey, bytes.NewReader(data), in.req.ContentType)
}

func (o *Orchestrator) fetchTemplate(ctx context.Context, out *string) error {
	body, err := o.store.Download(ctx, o.extractor.TemplateKey())
	if err != nil {
		return err
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	*out = string(data)
	return nil
}

func (o *Orchestrator) readAndValidate(ctx context.Context, in *instance) error {
	doc, err := extraction.ReadOutput(ctx, o.store, extractionKey(o.cfg.Prefix, in.req.InvoiceID))
	if err != nil {
		return err
	}
	in.doc = doc

	recognized, f := ro.Validate(doc)
	if f != nil {
		return f
	}
	if f := ro.ValidateLines(recognized); f != nil {
		return f
	}

	in.recognized = recognized
	in.record("validation_passed", fmt.Sprintf("%d lines", len(recognized.Lines)))
	return nil
}

func (o *Orchestrator) resolveProvider(ctx context.Context, in *instance) error {
	res, err := o.companies.Resolve(
		ctx,
		in.recognized.GeneralData.TaxID,
		in.recognized.GeneralData.ProviderName,
	)
	if err != nil {
		return err
	}

	in.resolution = res
	in.record("provider_resolved", fmt.Sprintf("company %d", res.Company.ID))
	if res.NameMismatch {
		in.record("provider_name_mismatch", fmt.Sprintf(
			"stored %q, extracted %q",
			res.Company.DisplayName,
			in.recognized.GeneralData.ProviderName,
		))
	}
	return nil
}

func (o *Orchestrator) writeHeader(ctx context.Context, in *instance) error {
	normalized, err := normalizeNumber(in.recognized.GeneralData.InvoiceNumber)
	if err != nil {
		return err
	}

	result, err := o.invoices.Store(ctx, invoices.StoreCommand{
		CompanyID:               in.resolution.Company.ID,
		InvoiceNumber:           in.recognized.GeneralData.InvoiceNumber,
		NormalizedInvoiceNumber: normalized,
		General:                 in.recognized.GeneralData,
	})
	if err != nil {
		return err
	}

	in.header = &result.Header
	detail := fmt.Sprintf("header %d", result.Header.ID)
	if result.Overwritten {
		detail += " (replaced prior record)"
	}
	in.record("header_written", detail)
	return nil
}

func (o *Orchestrator) markPending(ctx context.Context, in *instance) error {
	events := in.drain()
	outcome, err := o.files.Upsert(ctx, files.UpsertCommand{
		InvoiceID:        in.req.InvoiceID,
		HeaderID:         in.headerID(),
		SourcePDFKey:     in.req.PDFKey,
		SourceFileURL:    in.req.FileURL,
		OriginalFilename: in.req.OriginalFileName,
		ValidationState:  files.StatePending,
		Events:           events,
	})
	if err != nil {
		in.requeue(events)
		return err
	}

	in.record("file_record_"+string(outcome), "")
	return nil
}

func (o *Orchestrator) writeLines(ctx context.Context, in *instance) error {
	if err := o.invoices.ReplaceLines(ctx, in.header.ID, in.recognized.Lines); err != nil {
		return err
	}
	in.record("lines_written", fmt.Sprintf("%d lines", len(in.recognized.Lines)))
	return nil
}

func (o *Orchestrator) buildExport(ctx context.Context, in *instance) error {
	if o.cfg.ReconcileTotals {
		o.reconcile(ctx, in)
	}

	data, err := export.Build(
		o.cfg.SheetName,
		in.resolution.Company.DisplayName,
		in.recognized.GeneralData,
		in.recognized.Lines,
	)
	if err != nil {
		return fault.Newf(fault.KindReadError, "build export: %v", err)
	}

	key := export.Key(
		o.cfg.Prefix,
		in.req.InvoiceID,
		in.resolution.Company.NormalizedName,
		in.header.NormalizedInvoiceNumber,
	)
	if err := o.store.Upload(
		ctx, key, bytes.NewReader(data),
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	); err != nil {
		return fault.Newf(fault.KindReadError, "persist export %s: %v", key, err)
	}

	in.exportKey = &key
	in.record("export_built", key)

	events := in.drain()
	if _, err := o.files.Upsert(ctx, files.UpsertCommand{
		InvoiceID:        in.req.InvoiceID,
		HeaderID:         in.headerID(),
		SourcePDFKey:     in.req.PDFKey,
		SourceFileURL:    in.req.FileURL,
		OriginalFilename: in.req.OriginalFileName,
		ValidationState:  files.StateValidated,
		ExportKey:        &key,
		Events:           events,
	}); err != nil {
		in.requeue(events)
		return err
	}
	return nil
}

// reconcile compares declared header totals against sums recomputed from
// the lines. Differences are diagnostic only: they are persisted and
// logged, never failed on.
func (o *Orchestrator) reconcile(ctx context.Context, in *instance) {
	expected := invoices.DeclaredTotals(in.recognized.GeneralData)
	computed := invoices.ComputedTotals(in.recognized.Lines, in.recognized.GeneralData.WithholdingTotal)

	result := invoices.Compare(expected, computed, o.cfg.Tolerance)
	if result.OK {
		return
	}

	key := reconciliationKey(o.cfg.Prefix, in.req.InvoiceID)
	if err := storage.PutJSON(ctx, o.store, key, result); err != nil {
		o.logger.Warn("persist reconciliation failed", "invoiceId", in.req.InvoiceID, "error", err)
	}
	in.record("totals_mismatch", fmt.Sprintf("%d fields beyond tolerance", len(result.Diffs)))
}

// persistFailure is the shared failure path: write the error document,
// append the audit event, and best-effort upsert a pending file record so
// diagnostics survive even if the step never retries.
func (o *Orchestrator) persistFailure(ctx context.Context, in *instance, stage string, f *fault.Failure) {
	key := errorDocKey(o.cfg.Prefix, in.req.InvoiceID)
	if err := storage.PutJSON(ctx, o.store, key, newErrorDocument(in.req, stage, f)); err != nil {
		o.logger.Warn("persist error document failed", "invoiceId", in.req.InvoiceID, "error", err)
	}

	event := files.NewEvent("stage_failed", in.req.InvoiceID)
	event.HeaderID = in.headerID()
	event.State = string(f.Kind)
	event.Detail = fmt.Sprintf("%s: %s", stage, f.Description)
	in.events = append(in.events, event)

	events := in.drain()
	if _, err := o.files.Upsert(ctx, files.UpsertCommand{
		InvoiceID:        in.req.InvoiceID,
		HeaderID:         in.headerID(),
		SourcePDFKey:     in.req.PDFKey,
		SourceFileURL:    in.req.FileURL,
		OriginalFilename: in.req.OriginalFileName,
		ValidationState:  files.StatePending,
		Events:           events,
	}); err != nil {
		in.requeue(events)
		o.logger.Warn("persist failed-pending record failed", "invoiceId", in.req.InvoiceID, "error", err)
	}
}

func (o *Orchestrator) dispatch(ctx context.Context, in *instance) {
	if len(in.events) > 0 {
		if err := o.files.AppendEvents(ctx, in.req.InvoiceID, in.drain()...); err != nil {
			o.logger.Warn("flush audit events failed", "invoiceId", in.req.InvoiceID, "error", err)
		}
	}

	o.dispatcher.Dispatch(ctx, notify.Report{
		InvoiceID:        in.req.InvoiceID,
		HeaderID:         in.headerID(),
		Success:          in.success,
		FinalState:       in.finalState,
		Summary:          in.summary,
		OriginalFilename: in.req.OriginalFileName,
		PDFKey:           in.req.PDFKey,
		SourceURL:        in.req.FileURL,
		ExportKey:        in.exportKey,
		ErrorDocKey:      errorDocKey(o.cfg.Prefix, in.req.InvoiceID),
	})
}

// drain returns the buffered events and clears the buffer, so each event
// is persisted exactly once across staged upserts.
func (in *instance) drain() []files.LogEvent {
	events := in.events
	in.events = nil
	return events
}

// requeue puts drained events back at the front of the buffer after a
// failed write, so they are retried with the next persistence attempt.
func (in *instance) requeue(events []files.LogEvent) {
	in.events = append(events, in.events...)
}

func normalizeNumber(number string) (string, error) {
	normalized, err := normalize.Normalize(number)
	if err != nil {
		return "", fault.Newf(fault.KindEmptyNormalizedName, "invoice number %q normalizes to nothing", number)
	}
	return normalized, nil
}
