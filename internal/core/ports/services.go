package ports

import (
	"context"
	"time"

	"carbon-ledger/internal/core/domain"

	"github.com/shopspring/decimal"
)

//go:generate mockgen -source=repositories.go -destination=mocks/mock_repositories.go -package=mocks
//go:generate mockgen -source=services.go -destination=mocks/mock_services.go -package=mocks

// TokenService handles JWT token operations.
type TokenService interface {
	Generate(identity string) (string, time.Time, error)
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims holds the parsed JWT claims.
type TokenClaims struct {
	Identity string
}

// IdempotencyCache is the Redis-layer idempotency check (fast path).
type IdempotencyCache interface {
	Get(ctx context.Context, key string) ([]byte, error) // Returns cached response JSON or nil
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// EventPublisher distributes committed ledger events.
type EventPublisher interface {
	Publish(ctx context.Context, event *domain.LedgerEvent) error
}

// Unit kinds reported through Metrics.AddUnits.
const (
	UnitsMinted      = "minted"
	UnitsBurned      = "burned"
	UnitsTransferred = "transferred"
)

// Metrics records ledger activity.
type Metrics interface {
	ObserveOperation(operation, outcome string)
	AddUnits(asset domain.Asset, kind string, amount decimal.Decimal)
	EventsPublished(n int)
}

// --- Service Ports (Business Logic) ---

// IdentityService is the identity registry.
type IdentityService interface {
	Register(ctx context.Context, caller, handle string) (*domain.Identity, error)
	Resolve(ctx context.Context, caller string) (*domain.Identity, error)
	IsAdmin(caller string) bool
	EnsureAdmin(ctx context.Context) error
}

// LedgerService is the fungible balance ledger for both assets.
type LedgerService interface {
	BalanceOf(ctx context.Context, identity string, asset domain.Asset) (decimal.Decimal, error)
	Balances(ctx context.Context, identity string) ([]domain.Balance, error)
	Supply(ctx context.Context, asset domain.Asset) (*domain.Supply, error)
	Mint(ctx context.Context, caller, to string, amount decimal.Decimal) (*domain.LedgerEvent, error)
	Deposit(ctx context.Context, caller, to string, amount decimal.Decimal) (*domain.LedgerEvent, error)
	Transfer(ctx context.Context, req TransferRequest) (*domain.LedgerEvent, error)
	Retire(ctx context.Context, req RetireRequest) (*domain.LedgerEvent, error)
	Events(ctx context.Context, caller string, filter domain.EventFilter) ([]domain.LedgerEvent, error)
	Verify(ctx context.Context, caller string) (*domain.VerifyReport, error)
}

// TransferRequest moves credits between identities. Reference is optional.
type TransferRequest struct {
	From      string
	To        string
	Amount    decimal.Decimal
	Reference string
}

// RetireRequest burns credits held by Holder.
type RetireRequest struct {
	Holder    string
	Amount    decimal.Decimal
	Reference string
}

// ReviewService is one approval workflow (issuance requests or project submissions).
type ReviewService interface {
	Kind() domain.RequestKind
	Submit(ctx context.Context, req SubmitRequest) (*domain.ReviewRequest, error)
	Review(ctx context.Context, req ReviewCommand) (*domain.ReviewRequest, error)
	ListPending(ctx context.Context, requester string) ([]domain.ReviewRequest, error)
	ListAllPending(ctx context.Context, caller string) ([]domain.ReviewRequest, error)
	ListByRequester(ctx context.Context, requester string) ([]domain.ReviewRequest, error)
	Get(ctx context.Context, caller string, id int64) (*domain.ReviewRequest, error)
}

// SubmitRequest opens a request. Amount is required for project submissions only.
type SubmitRequest struct {
	Requester   string
	EvidenceRef string
	Amount      decimal.Decimal
}

// ReviewCommand is the administrator's decision. Amount is the mint amount for
// issuance approvals and is ignored otherwise.
type ReviewCommand struct {
	Admin    string
	ID       int64
	Decision domain.Decision
	Amount   decimal.Decimal
}

// FundingService is the project funding pool.
type FundingService interface {
	CreateCampaign(ctx context.Context, req CreateCampaignRequest) (*domain.Campaign, error)
	Donate(ctx context.Context, req DonateRequest) (*domain.DonationReceipt, error)
	Get(ctx context.Context, id int64) (*domain.Campaign, error)
	ListActive(ctx context.Context, excludingCreator string) ([]domain.Campaign, error)
	ListByCreator(ctx context.Context, creator string) ([]domain.Campaign, error)
	Donations(ctx context.Context, campaignID int64) ([]domain.Donation, error)
}

// CreateCampaignRequest holds input for a new campaign.
type CreateCampaignRequest struct {
	Creator     string
	Name        string
	Website     string
	Description string
	Target      decimal.Decimal
}

// DonateRequest holds input for a donation.
type DonateRequest struct {
	Donor      string
	CampaignID int64
	Amount     decimal.Decimal
	Reference  string
}

// MarketplaceService is the certificate marketplace.
type MarketplaceService interface {
	MintCertificate(ctx context.Context, req MintCertificateRequest) (*domain.Certificate, error)
	Buy(ctx context.Context, req BuyRequest) (*domain.Sale, error)
	SetListing(ctx context.Context, req ListingRequest) (*domain.Certificate, error)
	Get(ctx context.Context, id int64) (*domain.Certificate, error)
	ListAll(ctx context.Context) ([]domain.Certificate, error)
	OwnedBy(ctx context.Context, identity string) ([]domain.Certificate, error)
}

// MintCertificateRequest holds input for a new certificate.
type MintCertificateRequest struct {
	Creator  string
	Metadata domain.CertificateMetadata
	Price    decimal.Decimal
}

// BuyRequest holds input for a purchase; Payment is in the base asset.
type BuyRequest struct {
	Buyer         string
	CertificateID int64
	Payment       decimal.Decimal
	Reference     string
}

// ListingRequest changes price and listing state of an owned certificate.
type ListingRequest struct {
	Owner         string
	CertificateID int64
	Price         decimal.Decimal
	Listed        bool
}
