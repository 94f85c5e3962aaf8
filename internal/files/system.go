package files

import "context"

// System defines the public contract for file record persistence.
type System interface {
	Find(ctx context.Context, invoiceID string) (*Record, error)
	Upsert(ctx context.Context, cmd UpsertCommand) (Outcome, error)
	AppendEvents(ctx context.Context, invoiceID string, events ...LogEvent) error
}
