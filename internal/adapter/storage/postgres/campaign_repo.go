package postgres

import (
	"context"
	"errors"
	"fmt"

	"carbon-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// CampaignRepo implements ports.CampaignRepository.
type CampaignRepo struct {
	pool Pool
}

// NewCampaignRepo creates a new CampaignRepo.
func NewCampaignRepo(pool Pool) *CampaignRepo {
	return &CampaignRepo{pool: pool}
}

const campaignColumns = "id, creator, name, website, description, target_amount, raised_amount, is_active, created_at, closed_at"

// Create inserts a campaign and fills in its id.
func (r *CampaignRepo) Create(ctx context.Context, tx pgx.Tx, c *domain.Campaign) error {
	query := `INSERT INTO campaigns (creator, name, website, description, target_amount, raised_amount, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`

	err := tx.QueryRow(ctx, query,
		c.Creator, c.Name, c.Website, c.Description,
		c.TargetAmount, c.RaisedAmount, c.IsActive, c.CreatedAt,
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("insert campaign: %w", err)
	}
	return nil
}

// GetByID fetches a campaign without locking.
func (r *CampaignRepo) GetByID(ctx context.Context, id int64) (*domain.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1`
	return scanCampaignRow(r.pool.QueryRow(ctx, query, id), "get campaign by id")
}

// GetByIDForUpdate fetches a campaign with pessimistic locking.
// This MUST be called within a transaction.
func (r *CampaignRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id int64) (*domain.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = $1 FOR UPDATE`
	return scanCampaignRow(tx.QueryRow(ctx, query, id), "get campaign for update")
}

// UpdateFunding stores raised amount and activity of a locked campaign.
func (r *CampaignRepo) UpdateFunding(ctx context.Context, tx pgx.Tx, c *domain.Campaign) error {
	query := `UPDATE campaigns SET raised_amount = $1, is_active = $2, closed_at = $3 WHERE id = $4`

	tag, err := tx.Exec(ctx, query, c.RaisedAmount, c.IsActive, c.ClosedAt, c.ID)
	if err != nil {
		return fmt.Errorf("update campaign funding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("campaign not found: %d", c.ID)
	}
	return nil
}

// ListActive returns active campaigns, skipping those of excludeCreator when set.
func (r *CampaignRepo) ListActive(ctx context.Context, excludeCreator string) ([]domain.Campaign, error) {
	if excludeCreator == "" {
		query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE is_active ORDER BY id`
		return r.list(ctx, query)
	}
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE is_active AND creator <> $1 ORDER BY id`
	return r.list(ctx, query, excludeCreator)
}

// ListByCreator returns every campaign of one creator.
func (r *CampaignRepo) ListByCreator(ctx context.Context, creator string) ([]domain.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE creator = $1 ORDER BY id`
	return r.list(ctx, query, creator)
}

func (r *CampaignRepo) list(ctx context.Context, query string, args ...any) ([]domain.Campaign, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	defer rows.Close()

	var out []domain.Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("scan campaign: %w", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate campaigns: %w", err)
	}
	return out, nil
}

func scanCampaignRow(row pgx.Row, op string) (*domain.Campaign, error) {
	c, err := scanCampaign(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

func scanCampaign(row pgx.Row) (*domain.Campaign, error) {
	c := &domain.Campaign{}
	err := row.Scan(
		&c.ID, &c.Creator, &c.Name, &c.Website, &c.Description,
		&c.TargetAmount, &c.RaisedAmount, &c.IsActive, &c.CreatedAt, &c.ClosedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}
