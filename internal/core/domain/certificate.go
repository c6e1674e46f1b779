package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CertificateMetadata describes the project a certificate stands for.
type CertificateMetadata struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	EvidenceRef string `json:"evidence_ref"`
}

// Certificate is a non-fungible project certificate priced in the base asset.
type Certificate struct {
	ID        int64               `json:"id"`
	Owner     string              `json:"owner"`
	Creator   string              `json:"creator"`
	Metadata  CertificateMetadata `json:"metadata"`
	Price     decimal.Decimal     `json:"price"`
	Listed    bool                `json:"listed"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// Sale is the outcome of a purchase.
type Sale struct {
	Certificate *Certificate `json:"certificate"`
	Event       *LedgerEvent `json:"event"`
}
