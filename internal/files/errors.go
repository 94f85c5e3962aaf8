package files

import "errors"

// Domain errors for file record operations.
var (
	ErrNotFound  = errors.New("file record not found")
	ErrDuplicate = errors.New("file record already exists")
)
