package ports

import (
	"context"
	"errors"
	"time"

	"carbon-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// ErrReferenceConflict is returned by LedgerEventRepository.Append when the
// (actor, reference) pair is already recorded.
var ErrReferenceConflict = errors.New("reference already recorded")

// IdentityRepository defines persistence operations for identities.
type IdentityRepository interface {
	// Create inserts the identity and reports false when it already existed.
	Create(ctx context.Context, tx pgx.Tx, identity *domain.Identity) (bool, error)
	GetByID(ctx context.Context, id string) (*domain.Identity, error)
}

// BalanceRepository defines persistence operations for per-asset balances.
// Methods accepting pgx.Tx are used inside transaction blocks for pessimistic locking.
type BalanceRepository interface {
	Get(ctx context.Context, identityID string, asset domain.Asset) (decimal.Decimal, error)
	ListByIdentity(ctx context.Context, identityID string) ([]domain.Balance, error)
	ListAll(ctx context.Context) ([]domain.Balance, error)
	// GetForUpdate creates a zero row when missing and locks it.
	GetForUpdate(ctx context.Context, tx pgx.Tx, identityID string, asset domain.Asset) (decimal.Decimal, error)
	Update(ctx context.Context, tx pgx.Tx, identityID string, asset domain.Asset, amount decimal.Decimal) error
}

// SupplyRepository defines persistence for asset supply counters.
type SupplyRepository interface {
	Get(ctx context.Context, asset domain.Asset) (*domain.Supply, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, asset domain.Asset) (*domain.Supply, error)
	Update(ctx context.Context, tx pgx.Tx, supply *domain.Supply) error
}

// ReviewRequestRepository stores the requests of one approval workflow.
type ReviewRequestRepository interface {
	Create(ctx context.Context, tx pgx.Tx, req *domain.ReviewRequest) error
	GetByID(ctx context.Context, id int64) (*domain.ReviewRequest, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id int64) (*domain.ReviewRequest, error)
	UpdateReview(ctx context.Context, tx pgx.Tx, req *domain.ReviewRequest) error
	// ListByRequester returns requests in submission order; an empty status means all.
	ListByRequester(ctx context.Context, requester string, status domain.RequestStatus) ([]domain.ReviewRequest, error)
	ListByStatus(ctx context.Context, status domain.RequestStatus) ([]domain.ReviewRequest, error)
}

// CampaignRepository defines persistence operations for funding campaigns.
type CampaignRepository interface {
	Create(ctx context.Context, tx pgx.Tx, campaign *domain.Campaign) error
	GetByID(ctx context.Context, id int64) (*domain.Campaign, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id int64) (*domain.Campaign, error)
	UpdateFunding(ctx context.Context, tx pgx.Tx, campaign *domain.Campaign) error
	// ListActive returns active campaigns, skipping those of excludeCreator when set.
	ListActive(ctx context.Context, excludeCreator string) ([]domain.Campaign, error)
	ListByCreator(ctx context.Context, creator string) ([]domain.Campaign, error)
}

// CertificateRepository defines persistence operations for certificates.
type CertificateRepository interface {
	Create(ctx context.Context, tx pgx.Tx, cert *domain.Certificate) error
	GetByID(ctx context.Context, id int64) (*domain.Certificate, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id int64) (*domain.Certificate, error)
	Update(ctx context.Context, tx pgx.Tx, cert *domain.Certificate) error
	List(ctx context.Context) ([]domain.Certificate, error)
	ListByOwner(ctx context.Context, owner string) ([]domain.Certificate, error)
}

// LedgerEventRepository is the append-only, hash-chained event log.
type LedgerEventRepository interface {
	// LockHead locks the chain head; appends are serialised behind it.
	LockHead(ctx context.Context, tx pgx.Tx) (*domain.ChainHead, error)
	// Append stores a sealed event and advances the head.
	Append(ctx context.Context, tx pgx.Tx, event *domain.LedgerEvent) error
	GetByReference(ctx context.Context, actor, reference string) (*domain.LedgerEvent, error)
	List(ctx context.Context, filter domain.EventFilter) ([]domain.LedgerEvent, error)
	ListUnpublished(ctx context.Context, limit int) ([]domain.LedgerEvent, error)
	MarkPublished(ctx context.Context, seq int64, at time.Time) error
}

// DBTransactor provides database transaction management.
type DBTransactor interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}
