package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"carbon-ledger/internal/core/domain"
	"carbon-ledger/internal/core/ports"
	"carbon-ledger/pkg/apperror"
)

// MarketplaceServiceImpl implements ports.MarketplaceService. Sales settle in
// the base asset; the whole payment goes to the prior owner.
type MarketplaceServiceImpl struct {
	book         *Book
	certificates ports.CertificateRepository
}

// NewMarketplaceService creates the certificate marketplace.
func NewMarketplaceService(book *Book, certificates ports.CertificateRepository) *MarketplaceServiceImpl {
	return &MarketplaceServiceImpl{book: book, certificates: certificates}
}

type certificatePayload struct {
	Name        string `json:"name"`
	EvidenceRef string `json:"evidence_ref"`
	Price       string `json:"price"`
}

type salePayload struct {
	Price string `json:"price"`
}

type listingPayload struct {
	Price  string `json:"price"`
	Listed bool   `json:"listed"`
}

// MintCertificate creates a listed certificate owned by its creator.
func (s *MarketplaceServiceImpl) MintCertificate(ctx context.Context, req ports.MintCertificateRequest) (*domain.Certificate, error) {
	c, err := s.mint(ctx, req)
	return c, s.book.observe("mint_certificate", err)
}

func (s *MarketplaceServiceImpl) mint(ctx context.Context, req ports.MintCertificateRequest) (*domain.Certificate, error) {
	creator, err := s.book.requireRegistered(ctx, req.Creator)
	if err != nil {
		return nil, err
	}
	meta := domain.CertificateMetadata{
		Name:        strings.TrimSpace(req.Metadata.Name),
		Description: strings.TrimSpace(req.Metadata.Description),
		EvidenceRef: strings.TrimSpace(req.Metadata.EvidenceRef),
	}
	if meta.Name == "" {
		return nil, apperror.Validation("Certificate name is required")
	}
	if !domain.IsValidPrice(req.Price) {
		return nil, apperror.ErrInvalidPrice(domain.AmountString(req.Price))
	}

	dbTx, err := s.book.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	now := s.book.now()
	cert := &domain.Certificate{
		Owner:     creator,
		Creator:   creator,
		Metadata:  meta,
		Price:     req.Price,
		Listed:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.certificates.Create(ctx, dbTx, cert); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create certificate: %w", err))
	}
	event := &domain.LedgerEvent{Type: domain.EventCertificateMinted, Actor: creator, SubjectID: &cert.ID, CreatedAt: now}
	payload := certificatePayload{Name: meta.Name, EvidenceRef: meta.EvidenceRef, Price: req.Price.String()}
	if err := s.book.appendEvent(ctx, dbTx, event, payload); err != nil {
		return nil, err
	}
	if err := s.book.commit(ctx, dbTx); err != nil {
		return nil, err
	}

	s.book.log.Info().
		Str("identity", creator).
		Int64("certificate_id", cert.ID).
		Str("price", req.Price.String()).
		Msg("certificate minted")
	return cert, nil
}

// Buy pays the owner and transfers the certificate to the buyer in one
// transaction. The certificate is delisted after the sale.
func (s *MarketplaceServiceImpl) Buy(ctx context.Context, req ports.BuyRequest) (*domain.Sale, error) {
	sale, err := s.buy(ctx, req)
	return sale, s.book.observe("buy", err)
}

func (s *MarketplaceServiceImpl) buy(ctx context.Context, req ports.BuyRequest) (*domain.Sale, error) {
	buyer, err := s.book.requireRegistered(ctx, req.Buyer)
	if err != nil {
		return nil, err
	}
	if !domain.IsValidPrice(req.Payment) {
		return nil, apperror.ErrInvalidAmount(domain.AmountString(req.Payment))
	}

	op := operation{actor: buyer, reference: req.Reference, kind: domain.EventSale, subjectID: &req.CertificateID}
	if prior, err := s.book.cachedReplay(ctx, op); prior != nil || err != nil {
		return s.replayed(ctx, prior, err)
	}

	dbTx, err := s.book.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	cert, err := s.certificates.GetByIDForUpdate(ctx, dbTx, req.CertificateID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock certificate: %w", err))
	}
	if cert == nil {
		return nil, apperror.ErrNotFound("Certificate", req.CertificateID)
	}
	if prior, err := s.book.storedReplay(ctx, op); prior != nil || err != nil {
		return s.replayed(ctx, prior, err)
	}
	if cert.Owner == buyer {
		return nil, apperror.ErrSelfPurchase(cert.ID)
	}
	if !cert.Listed {
		return nil, apperror.ErrNotListed(cert.ID)
	}
	if req.Payment.LessThan(cert.Price) {
		return nil, apperror.ErrInsufficientPayment(cert.ID, cert.Price.String(), req.Payment.String())
	}

	seller := cert.Owner
	locked, err := s.book.lockBalances(ctx, dbTx, domain.AssetBase, buyer, seller)
	if err != nil {
		return nil, err
	}
	if err := s.book.move(ctx, dbTx, domain.AssetBase, buyer, seller, req.Payment, locked); err != nil {
		return nil, err
	}

	now := s.book.now()
	cert.Owner = buyer
	cert.Listed = false
	cert.UpdatedAt = now
	if err := s.certificates.Update(ctx, dbTx, cert); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("update certificate: %w", err))
	}

	event := &domain.LedgerEvent{
		Type:      domain.EventSale,
		Actor:     buyer,
		Asset:     domain.AssetBase,
		From:      buyer,
		To:        seller,
		Amount:    req.Payment,
		SubjectID: &cert.ID,
		Reference: req.Reference,
		CreatedAt: now,
	}
	if err := s.book.appendEvent(ctx, dbTx, event, salePayload{Price: cert.Price.String()}); err != nil {
		if errors.Is(err, ports.ErrReferenceConflict) {
			_ = dbTx.Rollback(ctx)
			prior, err := s.book.lostRace(ctx, op)
			return s.replayed(ctx, prior, err)
		}
		return nil, err
	}
	if err := s.book.commit(ctx, dbTx); err != nil {
		return nil, err
	}

	s.book.remember(ctx, event)
	s.book.unitsMoved(event)
	s.book.log.Info().
		Str("identity", buyer).
		Str("seller", seller).
		Int64("certificate_id", cert.ID).
		Str("payment", req.Payment.String()).
		Msg("certificate sold")
	return &domain.Sale{Certificate: cert, Event: event}, nil
}

func (s *MarketplaceServiceImpl) replayed(ctx context.Context, event *domain.LedgerEvent, err error) (*domain.Sale, error) {
	if err != nil {
		return nil, err
	}
	cert, err := s.certificates.GetByID(ctx, *event.SubjectID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get certificate: %w", err))
	}
	return &domain.Sale{Certificate: cert, Event: event}, nil
}

// SetListing lets the owner change price and listing state.
func (s *MarketplaceServiceImpl) SetListing(ctx context.Context, req ports.ListingRequest) (*domain.Certificate, error) {
	c, err := s.setListing(ctx, req)
	return c, s.book.observe("set_listing", err)
}

func (s *MarketplaceServiceImpl) setListing(ctx context.Context, req ports.ListingRequest) (*domain.Certificate, error) {
	owner, err := s.book.requireRegistered(ctx, req.Owner)
	if err != nil {
		return nil, err
	}
	if !domain.IsValidPrice(req.Price) {
		return nil, apperror.ErrInvalidPrice(domain.AmountString(req.Price))
	}

	dbTx, err := s.book.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	cert, err := s.certificates.GetByIDForUpdate(ctx, dbTx, req.CertificateID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock certificate: %w", err))
	}
	if cert == nil {
		return nil, apperror.ErrNotFound("Certificate", req.CertificateID)
	}
	if cert.Owner != owner {
		return nil, apperror.ErrNotOwner(cert.ID)
	}

	now := s.book.now()
	cert.Price = req.Price
	cert.Listed = req.Listed
	cert.UpdatedAt = now
	if err := s.certificates.Update(ctx, dbTx, cert); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("update certificate: %w", err))
	}
	event := &domain.LedgerEvent{Type: domain.EventListingChanged, Actor: owner, SubjectID: &cert.ID, CreatedAt: now}
	if err := s.book.appendEvent(ctx, dbTx, event, listingPayload{Price: req.Price.String(), Listed: req.Listed}); err != nil {
		return nil, err
	}
	if err := s.book.commit(ctx, dbTx); err != nil {
		return nil, err
	}

	s.book.log.Info().
		Str("identity", owner).
		Int64("certificate_id", cert.ID).
		Str("price", req.Price.String()).
		Bool("listed", req.Listed).
		Msg("listing changed")
	return cert, nil
}

func (s *MarketplaceServiceImpl) Get(ctx context.Context, id int64) (*domain.Certificate, error) {
	cert, err := s.certificates.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get certificate: %w", err))
	}
	if cert == nil {
		return nil, apperror.ErrNotFound("Certificate", id)
	}
	return cert, nil
}

func (s *MarketplaceServiceImpl) ListAll(ctx context.Context) ([]domain.Certificate, error) {
	certs, err := s.certificates.List(ctx)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list certificates: %w", err))
	}
	return certs, nil
}

func (s *MarketplaceServiceImpl) OwnedBy(ctx context.Context, identity string) ([]domain.Certificate, error) {
	id, err := normalize(identity)
	if err != nil {
		return nil, err
	}
	certs, err := s.certificates.ListByOwner(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list certificates: %w", err))
	}
	return certs, nil
}
