package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ledgerworks/factura/internal/files"
)

// Audit event types recorded by dispatch.
const (
	EventSent          = "notification_sent"
	EventError         = "notification_error"
	EventSkippedConfig = "notification_skipped_config"
)

// Report describes a finished pipeline run for notification purposes.
type Report struct {
	InvoiceID        string
	HeaderID         *int64
	Success          bool
	FinalState       string
	Summary          string
	OriginalFilename string
	PDFKey           string
	SourceURL        string
	ExportKey        *string
	ErrorDocKey      string
}

// Dispatcher sends at most one notification per pipeline instance,
// using the file record's audit log for idempotence.
type Dispatcher struct {
	cfg      *Config
	notifier Notifier
	files    files.System
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg *Config, notifier Notifier, fileSys files.System, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:      cfg,
		notifier: notifier,
		files:    fileSys,
		logger:   logger.With("system", "notify"),
	}
}

// Dispatch sends the end-of-run notification for a report. Notification
// problems never fail the pipeline: delivery errors are logged and
// recorded in the audit trail instead of propagating. A record whose log
// already holds a sent event is skipped, so durable-host replays of the
// final step stay single-delivery.
func (d *Dispatcher) Dispatch(ctx context.Context, report Report) {
	record, err := d.files.Find(ctx, report.InvoiceID)
	if err != nil && !errors.Is(err, files.ErrNotFound) {
		d.logger.Warn("notification skipped, file record unreadable", "invoiceId", report.InvoiceID, "error", err)
		return
	}

	var lastEvent *files.LogEvent
	if record != nil {
		for i := range record.AuditLog {
			if record.AuditLog[i].Type == EventSent {
				d.logger.Info("notification already sent", "invoiceId", report.InvoiceID)
				return
			}
		}
		if len(record.AuditLog) > 0 {
			lastEvent = &record.AuditLog[len(record.AuditLog)-1]
		}
	}

	if !d.cfg.Configured() {
		d.append(ctx, report, EventSkippedConfig, "notifications not configured")
		return
	}

	subject, body := d.compose(report, lastEvent)
	if err := d.notifier.Send(ctx, subject, body); err != nil {
		d.logger.Warn("notification delivery failed", "invoiceId", report.InvoiceID, "error", err)
		d.append(ctx, report, EventError, err.Error())
		return
	}

	d.logger.Info("notification sent", "invoiceId", report.InvoiceID, "success", report.Success)
	d.append(ctx, report, EventSent, "")
}

func (d *Dispatcher) append(ctx context.Context, report Report, eventType, detail string) {
	event := files.NewEvent(eventType, report.InvoiceID)
	event.HeaderID = report.HeaderID
	event.State = report.FinalState
	event.Detail = detail

	if err := d.files.AppendEvents(ctx, report.InvoiceID, event); err != nil {
		d.logger.Warn("audit append failed", "invoiceId", report.InvoiceID, "event", eventType, "error", err)
	}
}

func (d *Dispatcher) compose(report Report, lastEvent *files.LogEvent) (string, string) {
	resultLabel := "error"
	if report.Success {
		resultLabel = "success"
	}

	subject := fmt.Sprintf("[factura] %s %s", resultLabel, report.OriginalFilename)

	var b strings.Builder
	write := func(label, value string) {
		if value != "" {
			fmt.Fprintf(&b, "%s: %s\n", label, value)
		}
	}

	write("Result", resultLabel)
	write("Final state", report.FinalState)
	write("Summary", report.Summary)
	write("Invoice id", report.InvoiceID)
	if report.HeaderID != nil {
		write("Header id", fmt.Sprintf("%d", *report.HeaderID))
	}
	write("Original file", report.OriginalFilename)
	write("PDF key", report.PDFKey)
	if report.ExportKey != nil {
		write("Export key", *report.ExportKey)
	}
	write("Error document", report.ErrorDocKey)
	if lastEvent != nil {
		write("Last event", lastEvent.Type)
		write("Last event detail", lastEvent.Detail)
	}
	write("Source URL", report.SourceURL)

	return subject, b.String()
}
