package dto

import (
	"carbon-ledger/internal/core/domain"

	"github.com/shopspring/decimal"
)

// Amounts and prices travel as decimal strings of base units ("500").

// RegisterIdentityRequest is the request body for identity registration.
type RegisterIdentityRequest struct {
	Handle string `json:"handle" binding:"required,max=256"`
}

// TransferRequest is the request body for a credit transfer.
type TransferRequest struct {
	To        string `json:"to" binding:"required,evm_address"`
	Amount    string `json:"amount" binding:"required,base_units"`
	Reference string `json:"reference" binding:"omitempty,max=100,safe_id"`
}

// RetireRequest is the request body for retiring credits.
type RetireRequest struct {
	Amount    string `json:"amount" binding:"required,base_units"`
	Reference string `json:"reference" binding:"omitempty,max=100,safe_id"`
}

// IssueRequest is the request body for admin mints and deposits.
type IssueRequest struct {
	To     string `json:"to" binding:"required,evm_address"`
	Amount string `json:"amount" binding:"required,base_units"`
}

// SubmitRequest opens an issuance request or project submission. Amount is
// only read for project submissions.
type SubmitRequest struct {
	EvidenceRef string `json:"evidence_ref" binding:"max=512,content_ref"`
	Amount      string `json:"amount" binding:"omitempty,base_units"`
}

// ReviewRequest is the administrator's decision on a request.
type ReviewRequest struct {
	Decision string `json:"decision" binding:"required"`
	Amount   string `json:"amount" binding:"omitempty,base_units"`
}

// CreateCampaignRequest is the request body for a new funding campaign.
type CreateCampaignRequest struct {
	Name         string `json:"name" binding:"required,max=200"`
	Website      string `json:"website" binding:"omitempty,max=512,safe_url"`
	Description  string `json:"description" binding:"max=4000"`
	TargetAmount string `json:"target_amount" binding:"required,base_units"`
}

// DonateRequest is the request body for a donation.
type DonateRequest struct {
	Amount    string `json:"amount" binding:"required,base_units"`
	Reference string `json:"reference" binding:"omitempty,max=100,safe_id"`
}

// MintCertificateRequest is the request body for a new certificate.
type MintCertificateRequest struct {
	Name        string `json:"name" binding:"required,max=200"`
	Description string `json:"description" binding:"max=4000"`
	EvidenceRef string `json:"evidence_ref" binding:"max=512,content_ref"`
	Price       string `json:"price" binding:"required,base_units"`
}

// BuyRequest is the request body for a certificate purchase.
type BuyRequest struct {
	Payment   string `json:"payment" binding:"required,base_units"`
	Reference string `json:"reference" binding:"omitempty,max=100,safe_id"`
}

// ListingRequest changes the price and listing state of a certificate.
type ListingRequest struct {
	Price  string `json:"price" binding:"required,base_units"`
	Listed *bool  `json:"listed" binding:"required"`
}

// BalancesResponse lists an identity's holdings per asset.
type BalancesResponse struct {
	Identity string           `json:"identity"`
	Balances []domain.Balance `json:"balances"`
}

// DonationsResponse is the audit trail of a campaign.
type DonationsResponse struct {
	CampaignID int64             `json:"campaign_id"`
	Donations  []domain.Donation `json:"donations"`
	Total      decimal.Decimal   `json:"total"`
}

// ListResponse wraps a list with its length.
type ListResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

// NewList never renders a null items array.
func NewList[T any](items []T) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Items: items, Count: len(items)}
}
