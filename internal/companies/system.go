package companies

import "context"

// System defines the public contract for provider resolution.
type System interface {
	Resolve(ctx context.Context, taxID, name string) (*Resolution, error)
	Find(ctx context.Context, id int64) (*Company, error)
}
