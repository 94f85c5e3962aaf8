package invoices

import (
	"errors"
	"net/http"
)

// Domain errors for invoice operations.
var (
	ErrNotFound  = errors.New("invoice not found")
	ErrDuplicate = errors.New("invoice already exists")
	ErrInvalidID = errors.New("invalid invoice id")
)

// MapHTTPStatus maps invoice domain errors to appropriate HTTP status codes.
func MapHTTPStatus(err error) int {
	if errors.Is(err, ErrNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, ErrDuplicate) {
		return http.StatusConflict
	}
	if errors.Is(err, ErrInvalidID) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
