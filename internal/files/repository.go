package files

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ledgerworks/factura/internal/fault"
	"github.com/ledgerworks/factura/pkg/repository"
)

type repo struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a file record repository implementing the System interface.
func New(db *sql.DB, logger *slog.Logger) System {
	return &repo{
		db:     db,
		logger: logger.With("system", "files"),
	}
}

const selectRecord = `
	SELECT invoice_id, header_id, source_pdf_key, source_file_url,
		original_filename, validation_state, export_key, audit_log
	FROM invoice_files WHERE invoice_id = $1`

func scanRecord(s repository.Scanner) (Record, error) {
	var (
		rec Record
		raw []byte
	)
	err := s.Scan(
		&rec.InvoiceID,
		&rec.HeaderID,
		&rec.SourcePDFKey,
		&rec.SourceFileURL,
		&rec.OriginalFilename,
		&rec.ValidationState,
		&rec.ExportKey,
		&raw,
	)
	if err != nil {
		return rec, err
	}
	rec.AuditLog = parseLog(raw)
	return rec, nil
}

func (r *repo) Find(ctx context.Context, invoiceID string) (*Record, error) {
	rec, err := repository.QueryOne(ctx, r.db, selectRecord, []any{invoiceID}, scanRecord)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &rec, nil
}

// Upsert writes the processing record for an invoice. The stored audit
// log is preserved and the command's events are appended after it. A nil
// ExportKey keeps the stored key. A record already linked to a different
// header is a data defect and fails with an inconsistency fault.
func (r *repo) Upsert(ctx context.Context, cmd UpsertCommand) (Outcome, error) {
	existing, err := r.Find(ctx, cmd.InvoiceID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", fault.Newf(fault.KindQueryFailed, "lookup file record %s: %v", cmd.InvoiceID, err)
	}

	if existing != nil && existing.HeaderID != nil && cmd.HeaderID != nil &&
		*existing.HeaderID != *cmd.HeaderID {
		return "", fault.Newf(
			fault.KindInconsistentRecord,
			"file record %s already linked to header %d, got %d",
			cmd.InvoiceID, *existing.HeaderID, *cmd.HeaderID,
		)
	}

	var stored []LogEvent
	if existing != nil {
		stored = existing.AuditLog
	}
	merged, err := mergeLog(stored, cmd.Events)
	if err != nil {
		return "", fault.Newf(fault.KindInsertFailed, "encode audit log for %s: %v", cmd.InvoiceID, err)
	}

	headerID := cmd.HeaderID
	if headerID == nil && existing != nil {
		headerID = existing.HeaderID
	}
	exportKey := resolveExportKey(existing, cmd.ExportKey)

	if existing == nil {
		if err := r.insert(ctx, cmd, headerID, merged); err != nil {
			return "", err
		}
		r.logger.Info("file record created", "invoiceId", cmd.InvoiceID, "state", cmd.ValidationState)
		return OutcomeInserted, nil
	}

	if err := r.update(ctx, cmd, headerID, exportKey, merged); err != nil {
		return "", err
	}
	r.logger.Info("file record updated", "invoiceId", cmd.InvoiceID, "state", cmd.ValidationState)
	return OutcomeUpdated, nil
}

func (r *repo) insert(ctx context.Context, cmd UpsertCommand, headerID *int64, log []byte) error {
	_, err := r.db.ExecContext(
		ctx,
		`INSERT INTO invoice_files(
			invoice_id, header_id, source_pdf_key, source_file_url,
			original_filename, validation_state, export_key, audit_log
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		cmd.InvoiceID,
		headerID,
		cmd.SourcePDFKey,
		cmd.SourceFileURL,
		cmd.OriginalFilename,
		cmd.ValidationState,
		cmd.ExportKey,
		log,
	)
	if err != nil {
		return fault.Newf(fault.KindInsertFailed, "insert file record %s: %v", cmd.InvoiceID, err)
	}
	return nil
}

func (r *repo) update(ctx context.Context, cmd UpsertCommand, headerID *int64, exportKey *string, log []byte) error {
	err := repository.ExecExpectOne(
		ctx, r.db,
		`UPDATE invoice_files SET
			header_id = $2,
			source_pdf_key = $3,
			source_file_url = $4,
			original_filename = $5,
			validation_state = $6,
			export_key = $7,
			audit_log = $8
		WHERE invoice_id = $1`,
		cmd.InvoiceID,
		headerID,
		cmd.SourcePDFKey,
		cmd.SourceFileURL,
		cmd.OriginalFilename,
		cmd.ValidationState,
		exportKey,
		log,
	)
	if err != nil {
		return fault.Newf(fault.KindInsertFailed, "update file record %s: %v", cmd.InvoiceID, err)
	}
	return nil
}

// AppendEvents adds events to an existing record's audit log. Missing
// records are a no-op: events raised before the record exists only live
// in the blob-side documents.
func (r *repo) AppendEvents(ctx context.Context, invoiceID string, events ...LogEvent) error {
	if len(events) == 0 {
		return nil
	}

	existing, err := r.Find(ctx, invoiceID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup file record %s: %w", invoiceID, err)
	}

	merged, err := mergeLog(existing.AuditLog, events)
	if err != nil {
		return fmt.Errorf("encode audit log for %s: %w", invoiceID, err)
	}

	if err := repository.ExecExpectOne(
		ctx, r.db,
		"UPDATE invoice_files SET audit_log = $2 WHERE invoice_id = $1",
		invoiceID, merged,
	); err != nil {
		return fmt.Errorf("append events for %s: %w", invoiceID, err)
	}
	return nil
}
