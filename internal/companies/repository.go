package companies

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"

	"github.com/ledgerworks/factura/internal/fault"
	"github.com/ledgerworks/factura/pkg/normalize"
	"github.com/ledgerworks/factura/pkg/repository"
)

type repo struct {
	db     *sql.DB
	logger *slog.Logger
}

// New creates a company repository implementing the System interface.
func New(db *sql.DB, logger *slog.Logger) System {
	return &repo{
		db:     db,
		logger: logger.With("system", "companies"),
	}
}

const selectColumns = "id, tax_id, display_name, normalized_name, created_at"

// Resolve finds the company for a tax id, creating it when absent. The
// companies table carries no unique index on tax_id, so duplicates are
// detected by row count and surfaced rather than picked from arbitrarily.
func (r *repo) Resolve(ctx context.Context, taxID, name string) (*Resolution, error) {
	taxID = strings.TrimSpace(taxID)
	name = strings.TrimSpace(name)
	if taxID == "" || name == "" {
		return nil, fault.New(fault.KindInvalidInput, "provider resolution requires tax id and name")
	}

	normalized, err := normalize.Normalize(name)
	if err != nil {
		return nil, fault.Newf(fault.KindEmptyNormalizedName, "provider name %q normalizes to nothing", name)
	}

	matches, err := repository.QueryMany(
		ctx, r.db,
		"SELECT "+selectColumns+" FROM companies WHERE tax_id = $1",
		[]any{taxID},
		scanCompany,
	)
	if err != nil {
		return nil, fault.Newf(fault.KindQueryFailed, "lookup company by tax id %s: %v", taxID, err)
	}

	switch len(matches) {
	case 0:
		return r.create(ctx, taxID, name, normalized)
	case 1:
		c := matches[0]
		mismatch := c.DisplayName != name
		if mismatch {
			r.logger.Warn(
				"provider name differs from stored record",
				"taxId", taxID,
				"stored", c.DisplayName,
				"extracted", name,
			)
		}
		return &Resolution{Company: c, NameMismatch: mismatch}, nil
	default:
		return nil, fault.Newf(
			fault.KindDuplicateCompany,
			"%d companies share tax id %s", len(matches), taxID,
		)
	}
}

func (r *repo) create(ctx context.Context, taxID, name, normalized string) (*Resolution, error) {
	q := `
		INSERT INTO companies(tax_id, display_name, normalized_name)
		VALUES ($1, $2, $3)
		RETURNING ` + selectColumns

	c, err := repository.QueryOne(
		ctx, r.db, q,
		[]any{taxID, name, normalized},
		scanCompany,
	)
	if err != nil {
		return nil, fault.Newf(fault.KindInsertFailed, "insert company for tax id %s: %v", taxID, err)
	}

	r.logger.Info("company created", "id", c.ID, "taxId", taxID)
	return &Resolution{Company: c, Created: true}, nil
}

func (r *repo) Find(ctx context.Context, id int64) (*Company, error) {
	c, err := repository.QueryOne(
		ctx, r.db,
		"SELECT "+selectColumns+" FROM companies WHERE id = $1",
		[]any{id},
		scanCompany,
	)
	if err != nil {
		return nil, repository.MapError(err, ErrNotFound, ErrDuplicate)
	}
	return &c, nil
}
