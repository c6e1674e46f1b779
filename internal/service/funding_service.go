package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"carbon-ledger/internal/core/domain"
	"carbon-ledger/internal/core/ports"
	"carbon-ledger/pkg/apperror"

	"github.com/shopspring/decimal"
)

// FundingServiceImpl implements ports.FundingService. Donations move carbon
// credits from the donor to the campaign creator.
type FundingServiceImpl struct {
	book      *Book
	campaigns ports.CampaignRepository
	policy    domain.OverfundingPolicy
}

// NewFundingService creates the project funding pool.
func NewFundingService(book *Book, campaigns ports.CampaignRepository, policy domain.OverfundingPolicy) *FundingServiceImpl {
	if policy != domain.OverfundingReject {
		policy = domain.OverfundingCap
	}
	return &FundingServiceImpl{book: book, campaigns: campaigns, policy: policy}
}

type campaignPayload struct {
	Name   string `json:"name"`
	Target string `json:"target_amount"`
}

type donationPayload struct {
	Requested string `json:"requested"`
	Closed    bool   `json:"closed,omitempty"`
}

// CreateCampaign opens an active campaign with nothing raised.
func (s *FundingServiceImpl) CreateCampaign(ctx context.Context, req ports.CreateCampaignRequest) (*domain.Campaign, error) {
	c, err := s.createCampaign(ctx, req)
	return c, s.book.observe("create_campaign", err)
}

func (s *FundingServiceImpl) createCampaign(ctx context.Context, req ports.CreateCampaignRequest) (*domain.Campaign, error) {
	creator, err := s.book.requireRegistered(ctx, req.Creator)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperror.Validation("Campaign name is required")
	}
	if !domain.IsValidAmount(req.Target) {
		return nil, apperror.ErrInvalidAmount(domain.AmountString(req.Target))
	}

	dbTx, err := s.book.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	now := s.book.now()
	campaign := &domain.Campaign{
		Creator:      creator,
		Name:         name,
		Website:      strings.TrimSpace(req.Website),
		Description:  strings.TrimSpace(req.Description),
		TargetAmount: req.Target,
		RaisedAmount: decimal.Zero,
		IsActive:     true,
		CreatedAt:    now,
	}
	if err := s.campaigns.Create(ctx, dbTx, campaign); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create campaign: %w", err))
	}
	event := &domain.LedgerEvent{Type: domain.EventCampaignCreated, Actor: creator, SubjectID: &campaign.ID, CreatedAt: now}
	if err := s.book.appendEvent(ctx, dbTx, event, campaignPayload{Name: name, Target: req.Target.String()}); err != nil {
		return nil, err
	}
	if err := s.book.commit(ctx, dbTx); err != nil {
		return nil, err
	}

	s.book.log.Info().
		Str("identity", creator).
		Int64("campaign_id", campaign.ID).
		Str("target", req.Target.String()).
		Msg("campaign created")
	return campaign, nil
}

// Donate moves the accepted part of a donation to the campaign creator and
// closes the campaign when its target is reached.
func (s *FundingServiceImpl) Donate(ctx context.Context, req ports.DonateRequest) (*domain.DonationReceipt, error) {
	r, err := s.donate(ctx, req)
	return r, s.book.observe("donate", err)
}

func (s *FundingServiceImpl) donate(ctx context.Context, req ports.DonateRequest) (*domain.DonationReceipt, error) {
	donor, err := s.book.requireRegistered(ctx, req.Donor)
	if err != nil {
		return nil, err
	}
	if !domain.IsValidAmount(req.Amount) {
		return nil, apperror.ErrInvalidAmount(domain.AmountString(req.Amount))
	}

	op := operation{actor: donor, reference: req.Reference, kind: domain.EventDonation, subjectID: &req.CampaignID}
	if prior, err := s.book.cachedReplay(ctx, op); prior != nil || err != nil {
		return s.replayed(ctx, prior, err)
	}

	dbTx, err := s.book.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	campaign, err := s.campaigns.GetByIDForUpdate(ctx, dbTx, req.CampaignID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock campaign: %w", err))
	}
	if campaign == nil {
		return nil, apperror.ErrNotFound("Campaign", req.CampaignID)
	}
	if prior, err := s.book.storedReplay(ctx, op); prior != nil || err != nil {
		return s.replayed(ctx, prior, err)
	}
	if !campaign.IsActive {
		return nil, apperror.ErrCampaignClosed(campaign.ID)
	}
	if campaign.Creator == donor {
		return nil, apperror.ErrSelfDonation(campaign.ID)
	}
	accepted, ok := campaign.Acceptable(req.Amount, s.policy)
	if !ok {
		return nil, apperror.ErrOverfundingRejected(campaign.ID, campaign.Remaining().String(), req.Amount.String())
	}

	locked, err := s.book.lockBalances(ctx, dbTx, domain.AssetCarbon, donor, campaign.Creator)
	if err != nil {
		return nil, err
	}
	if err := s.book.move(ctx, dbTx, domain.AssetCarbon, donor, campaign.Creator, accepted, locked); err != nil {
		return nil, err
	}

	now := s.book.now()
	closed := campaign.Raise(accepted, now)
	if err := s.campaigns.UpdateFunding(ctx, dbTx, campaign); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("update campaign: %w", err))
	}

	event := &domain.LedgerEvent{
		Type:      domain.EventDonation,
		Actor:     donor,
		Asset:     domain.AssetCarbon,
		From:      donor,
		To:        campaign.Creator,
		Amount:    accepted,
		SubjectID: &campaign.ID,
		Reference: req.Reference,
		CreatedAt: now,
	}
	if err := s.book.appendEvent(ctx, dbTx, event, donationPayload{Requested: req.Amount.String(), Closed: closed}); err != nil {
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
		Str("identity", donor).
		Int64("campaign_id", campaign.ID).
		Str("amount", accepted.String()).
		Str("requested", req.Amount.String()).
		Bool("closed", closed).
		Msg("donation accepted")

	return &domain.DonationReceipt{Campaign: campaign, Donation: donationOf(event), Event: event}, nil
}

// replayed rebuilds the receipt of an already committed donation.
func (s *FundingServiceImpl) replayed(ctx context.Context, event *domain.LedgerEvent, err error) (*domain.DonationReceipt, error) {
	if err != nil {
		return nil, err
	}
	campaign, err := s.campaigns.GetByID(ctx, *event.SubjectID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get campaign: %w", err))
	}
	return &domain.DonationReceipt{Campaign: campaign, Donation: donationOf(event), Event: event}, nil
}

func donationOf(e *domain.LedgerEvent) domain.Donation {
	d := domain.Donation{
		Seq:       e.Seq,
		Donor:     e.From,
		Amount:    e.Amount,
		Requested: e.Amount,
		Reference: e.Reference,
		CreatedAt: e.CreatedAt,
	}
	if e.SubjectID != nil {
		d.CampaignID = *e.SubjectID
	}
	var p donationPayload
	if err := json.Unmarshal(e.Payload, &p); err == nil && p.Requested != "" {
		if requested, err := decimal.NewFromString(p.Requested); err == nil {
			d.Requested = requested
		}
	}
	return d
}

func (s *FundingServiceImpl) Get(ctx context.Context, id int64) (*domain.Campaign, error) {
	campaign, err := s.campaigns.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get campaign: %w", err))
	}
	if campaign == nil {
		return nil, apperror.ErrNotFound("Campaign", id)
	}
	return campaign, nil
}

// ListActive returns open campaigns, optionally hiding those of one creator.
func (s *FundingServiceImpl) ListActive(ctx context.Context, excludingCreator string) ([]domain.Campaign, error) {
	if excludingCreator != "" {
		id, err := normalize(excludingCreator)
		if err != nil {
			return nil, err
		}
		excludingCreator = id
	}
	campaigns, err := s.campaigns.ListActive(ctx, excludingCreator)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list active campaigns: %w", err))
	}
	return campaigns, nil
}

func (s *FundingServiceImpl) ListByCreator(ctx context.Context, creator string) ([]domain.Campaign, error) {
	id, err := normalize(creator)
	if err != nil {
		return nil, err
	}
	campaigns, err := s.campaigns.ListByCreator(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list campaigns: %w", err))
	}
	return campaigns, nil
}

// Donations replays the audit trail of one campaign from its DONATION events.
func (s *FundingServiceImpl) Donations(ctx context.Context, campaignID int64) ([]domain.Donation, error) {
	if _, err := s.Get(ctx, campaignID); err != nil {
		return nil, err
	}
	var (
		out   []domain.Donation
		after int64
	)
	for {
		page, err := s.book.events.List(ctx, domain.EventFilter{
			Type:      domain.EventDonation,
			SubjectID: &campaignID,
			AfterSeq:  after,
			Limit:     verifyPage,
		})
		if err != nil {
			return nil, apperror.InternalError(fmt.Errorf("list donations: %w", err))
		}
		for i := range page {
			out = append(out, donationOf(&page[i]))
			after = page[i].Seq
		}
		if len(page) < verifyPage {
			return out, nil
		}
	}
}
