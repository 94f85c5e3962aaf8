package companies

import "errors"

// Domain errors for company operations.
var (
	ErrNotFound  = errors.New("company not found")
	ErrDuplicate = errors.New("company already exists")
)
