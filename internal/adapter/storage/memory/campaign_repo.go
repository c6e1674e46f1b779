package memory

import (
	"context"
	"fmt"
	"sort"

	"carbon-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// CampaignRepo implements ports.CampaignRepository.
type CampaignRepo struct {
	s *Store
}

// Campaigns returns the campaign table.
func (s *Store) Campaigns() *CampaignRepo {
	return &CampaignRepo{s: s}
}

func (r *CampaignRepo) Create(ctx context.Context, tx pgx.Tx, c *domain.Campaign) error {
	return r.s.write(tx, func() (func(), error) {
		r.s.nextCampaign++
		c.ID = r.s.nextCampaign
		r.s.campaigns[c.ID] = *c
		id := c.ID
		return func() {
			delete(r.s.campaigns, id)
			r.s.nextCampaign--
		}, nil
	})
}

func (r *CampaignRepo) GetByID(ctx context.Context, id int64) (*domain.Campaign, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.campaigns[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *CampaignRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id int64) (*domain.Campaign, error) {
	if _, err := r.s.own(tx); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// UpdateFunding stores raised amount, activity and close time.
func (r *CampaignRepo) UpdateFunding(ctx context.Context, tx pgx.Tx, c *domain.Campaign) error {
	return r.s.write(tx, func() (func(), error) {
		prev, ok := r.s.campaigns[c.ID]
		if !ok {
			return nil, fmt.Errorf("campaign not found: %d", c.ID)
		}
		if c.RaisedAmount.GreaterThan(prev.TargetAmount) {
			return nil, fmt.Errorf("campaign %d would exceed its target", c.ID)
		}
		next := prev
		next.RaisedAmount = c.RaisedAmount
		next.IsActive = c.IsActive
		next.ClosedAt = c.ClosedAt
		r.s.campaigns[c.ID] = next
		return func() { r.s.campaigns[c.ID] = prev }, nil
	})
}

// ListActive skips campaigns of excludeCreator when it is set.
func (r *CampaignRepo) ListActive(ctx context.Context, excludeCreator string) ([]domain.Campaign, error) {
	return r.list(func(c domain.Campaign) bool {
		return c.IsActive && (excludeCreator == "" || c.Creator != excludeCreator)
	}), nil
}

func (r *CampaignRepo) ListByCreator(ctx context.Context, creator string) ([]domain.Campaign, error) {
	return r.list(func(c domain.Campaign) bool { return c.Creator == creator }), nil
}

func (r *CampaignRepo) list(keep func(domain.Campaign) bool) []domain.Campaign {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.Campaign
	for _, c := range r.s.campaigns {
		if keep(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
