package memory

import (
	"context"
	"fmt"
	"time"

	"carbon-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// SupplyRepo implements ports.SupplyRepository.
type SupplyRepo struct {
	s *Store
}

// Supplies returns the asset supply table.
func (s *Store) Supplies() *SupplyRepo {
	return &SupplyRepo{s: s}
}

func (r *SupplyRepo) Get(ctx context.Context, asset domain.Asset) (*domain.Supply, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	sup, ok := r.s.supply[asset]
	if !ok {
		return nil, fmt.Errorf("unknown asset: %s", asset)
	}
	return &sup, nil
}

func (r *SupplyRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, asset domain.Asset) (*domain.Supply, error) {
	if _, err := r.s.own(tx); err != nil {
		return nil, err
	}
	return r.Get(ctx, asset)
}

func (r *SupplyRepo) Update(ctx context.Context, tx pgx.Tx, supply *domain.Supply) error {
	return r.s.write(tx, func() (func(), error) {
		prev, ok := r.s.supply[supply.Asset]
		if !ok {
			return nil, fmt.Errorf("unknown asset: %s", supply.Asset)
		}
		next := *supply
		next.UpdatedAt = time.Now().UTC()
		r.s.supply[supply.Asset] = next
		return func() { r.s.supply[supply.Asset] = prev }, nil
	})
}
