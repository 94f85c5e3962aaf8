package invoices

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/ledgerworks/factura/internal/fault"
	"github.com/ledgerworks/factura/internal/ro"
	"github.com/ledgerworks/factura/pkg/pagination"
	"github.com/ledgerworks/factura/pkg/query"
	"github.com/ledgerworks/factura/pkg/repository"
)

type repo struct {
	db         *sql.DB
	logger     *slog.Logger
	pagination pagination.Config
}

// New creates an invoice repository implementing the System interface.
func New(db *sql.DB, logger *slog.Logger, pagination pagination.Config) System {
	return &repo{
		db:         db,
		logger:     logger.With("system", "invoices"),
		pagination: pagination,
	}
}

func (r *repo) Handler() *Handler {
	return NewHandler(r, r.logger, r.pagination)
}

func (r *repo) List(
	ctx context.Context,
	page pagination.PageRequest,
	filters Filters,
) (*pagination.PageResult[Header], error) {
	page.Normalize(r.pagination)

	qb := query.
		NewBuilder(projection, defaultSort).
		WhereSearch(page.Search, "InvoiceNumber", "ProviderName", "ProviderTaxID")

	filters.Apply(qb)

	if len(page.Sort) > 0 {
		qb.OrderByFields(page.Sort)
	}

	countSQL, countArgs := qb.BuildCount()
	var total int
	if err := r.db.QueryRowContext(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count invoices: %w", err)
	}

	pageSQL, pageArgs := qb.BuildPage(page.Page, page.PageSize)
	headers, err := repository.QueryMany(ctx, r.db, pageSQL, pageArgs, scanHeader)
	if err != nil {
		return nil, fmt.Errorf("query invoices: %w", err)
	}

	result := pagination.NewPageResult(headers, total, page.Page, page.PageSize)
	return &result, nil
}

func (r *repo) Find(ctx context.Context, id int64) (*Header, error) {
	q, args := query.NewBuilder(projection).BuildSingle("ID", id)

	h, err := repository.QueryOne(ctx, r.db, q, args, scanHeader)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &h, nil
}

func (r *repo) Lines(ctx context.Context, headerID int64) ([]Line, error) {
	return repository.QueryMany(
		ctx, r.db,
		`SELECT id, header_id, description, product_code, quantity, unit_price,
			tax_pct, base_amount, tax_amount, total_amount, order_index
		FROM invoice_lines WHERE header_id = $1 ORDER BY order_index`,
		[]any{headerID},
		scanLine,
	)
}

const insertHeader = `
	INSERT INTO invoice_headers(
		company_id, invoice_number, normalized_invoice_number, issue_date,
		currency, base_total, tax_total, withholding_total, grand_total, notes
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	RETURNING id, company_id, invoice_number, normalized_invoice_number,
		issue_date, currency, base_total, tax_total, withholding_total,
		grand_total, notes, created_at`

// Store persists a header for a provider and invoice number. A prior
// record for the same pair is replaced wholesale: its file link, lines,
// and header are removed, in that order, before the new header is
// inserted. The whole operation runs in one transaction.
func (r *repo) Store(ctx context.Context, cmd StoreCommand) (*StoreResult, error) {
	existing, err := repository.QueryMany(
		ctx, r.db,
		"SELECT id FROM invoice_headers WHERE company_id = $1 AND invoice_number = $2",
		[]any{cmd.CompanyID, cmd.InvoiceNumber},
		func(s repository.Scanner) (int64, error) {
			var id int64
			err := s.Scan(&id)
			return id, err
		},
	)
	if err != nil {
		return nil, fault.Newf(fault.KindQueryFailed, "lookup header for invoice %s: %v", cmd.InvoiceNumber, err)
	}

	var notes *string
	if cmd.General.Notes != "" {
		notes = &cmd.General.Notes
	}

	insertArgs := []any{
		cmd.CompanyID,
		cmd.InvoiceNumber,
		cmd.NormalizedInvoiceNumber,
		cmd.General.IssueDate,
		cmd.General.Currency,
		cmd.General.BaseTotal,
		cmd.General.TaxTotal,
		cmd.General.WithholdingTotal,
		cmd.General.GrandTotal,
		notes,
	}

	h, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (Header, error) {
		for _, old := range existing {
			if _, err := tx.ExecContext(ctx, "DELETE FROM invoice_files WHERE header_id = $1", old); err != nil {
				return Header{}, fmt.Errorf("delete file record for header %d: %w", old, err)
			}
			if _, err := tx.ExecContext(ctx, "DELETE FROM invoice_lines WHERE header_id = $1", old); err != nil {
				return Header{}, fmt.Errorf("delete lines for header %d: %w", old, err)
			}
			if _, err := tx.ExecContext(ctx, "DELETE FROM invoice_headers WHERE id = $1", old); err != nil {
				return Header{}, fmt.Errorf("delete header %d: %w", old, err)
			}
		}
		return repository.QueryOne(ctx, tx, insertHeader, insertArgs, scanHeaderBase)
	})
	if err != nil {
		return nil, fault.Newf(fault.KindInsertFailed, "store header for invoice %s: %v", cmd.InvoiceNumber, err)
	}

	if len(existing) > 0 {
		r.logger.Info(
			"replaced existing invoice",
			"companyId", cmd.CompanyID,
			"invoiceNumber", cmd.InvoiceNumber,
			"replaced", len(existing),
		)
	}

	return &StoreResult{Header: h, Overwritten: len(existing) > 0}, nil
}

const insertLine = `
	INSERT INTO invoice_lines(
		header_id, description, product_code, quantity, unit_price,
		tax_pct, base_amount, tax_amount, total_amount, order_index
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

// ReplaceLines swaps a header's full line set: delete all, insert all.
// OrderIndex runs 1..N in source document order.
func (r *repo) ReplaceLines(ctx context.Context, headerID int64, lines []ro.Line) error {
	_, err := repository.WithTx(ctx, r.db, func(tx *sql.Tx) (struct{}, error) {
		if _, err := tx.ExecContext(ctx, "DELETE FROM invoice_lines WHERE header_id = $1", headerID); err != nil {
			return struct{}{}, fault.Newf(fault.KindLineDeleteFailed, "delete lines for header %d: %v", headerID, err)
		}
		for i, line := range lines {
			var code *string
			if line.ProductCode != "" {
				code = &line.ProductCode
			}
			if _, err := tx.ExecContext(
				ctx, insertLine,
				headerID,
				line.Description,
				code,
				line.Quantity,
				line.UnitPrice,
				line.TaxPct,
				line.BaseAmount,
				line.TaxAmount,
				line.TotalAmount,
				i+1,
			); err != nil {
				return struct{}{}, fault.Newf(fault.KindLineInsertFailed, "insert line %d for header %d: %v", i+1, headerID, err)
			}
		}
		return struct{}{}, nil
	})
	if err != nil {
		return fault.From(err, fault.KindLineInsertFailed)
	}

	r.logger.Info("lines replaced", "headerId", headerID, "count", len(lines))
	return nil
}
