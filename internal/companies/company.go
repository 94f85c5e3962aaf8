// Package companies resolves invoice providers to company records,
// creating them on first sight keyed by tax id.
package companies

import (
	"time"

	"github.com/ledgerworks/factura/pkg/repository"
)

// Company is a provider known to the system. NormalizedName is the
// lowercase alphanumeric form used for export keys and matching.
type Company struct {
	ID             int64     `json:"id"`
	TaxID          string    `json:"taxId"`
	DisplayName    string    `json:"displayName"`
	NormalizedName string    `json:"normalizedName"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Resolution reports the outcome of resolving a provider. NameMismatch is
// set when the stored display name differs from the extracted one; the
// stored record wins and the caller records the discrepancy.
type Resolution struct {
	Company      Company
	Created      bool
	NameMismatch bool
}

func scanCompany(s repository.Scanner) (Company, error) {
	var c Company
	err := s.Scan(
		&c.ID,
		&c.TaxID,
		&c.DisplayName,
		&c.NormalizedName,
		&c.CreatedAt,
	)
	return c, err
}
