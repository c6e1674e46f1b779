package postgres

import (
	"context"
	"errors"
	"fmt"

	"carbon-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// SupplyRepo implements ports.SupplyRepository.
type SupplyRepo struct {
	pool Pool
}

// NewSupplyRepo creates a new SupplyRepo.
func NewSupplyRepo(pool Pool) *SupplyRepo {
	return &SupplyRepo{pool: pool}
}

// Get fetches the supply counters of an asset.
func (r *SupplyRepo) Get(ctx context.Context, asset domain.Asset) (*domain.Supply, error) {
	query := `SELECT asset, minted, burned, updated_at FROM asset_supply WHERE asset = $1`
	return scanSupply(r.pool.QueryRow(ctx, query, string(asset)), "get supply")
}

// GetForUpdate locks the supply row of an asset.
// This MUST be called within a transaction.
func (r *SupplyRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, asset domain.Asset) (*domain.Supply, error) {
	query := `SELECT asset, minted, burned, updated_at FROM asset_supply WHERE asset = $1 FOR UPDATE`
	return scanSupply(tx.QueryRow(ctx, query, string(asset)), "get supply for update")
}

// Update stores new counters.
func (r *SupplyRepo) Update(ctx context.Context, tx pgx.Tx, s *domain.Supply) error {
	query := `UPDATE asset_supply SET minted = $1, burned = $2, updated_at = NOW() WHERE asset = $3`

	tag, err := tx.Exec(ctx, query, s.Minted, s.Burned, string(s.Asset))
	if err != nil {
		return fmt.Errorf("update supply: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("supply not found: %s", s.Asset)
	}
	return nil
}

func scanSupply(row pgx.Row, op string) (*domain.Supply, error) {
	s := &domain.Supply{}
	var asset string
	if err := row.Scan(&asset, &s.Minted, &s.Burned, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.Asset = domain.Asset(asset)
	return s, nil
}
