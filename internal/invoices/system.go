package invoices

import (
	"context"

	"github.com/ledgerworks/factura/internal/ro"
	"github.com/ledgerworks/factura/pkg/pagination"
)

// System defines the public contract for invoice domain operations.
type System interface {
	Handler() *Handler

	List(
		ctx context.Context,
		page pagination.PageRequest,
		filters Filters,
	) (*pagination.PageResult[Header], error)

	Find(ctx context.Context, id int64) (*Header, error)
	Lines(ctx context.Context, headerID int64) ([]Line, error)

	Store(ctx context.Context, cmd StoreCommand) (*StoreResult, error)
	ReplaceLines(ctx context.Context, headerID int64, lines []ro.Line) error
}
