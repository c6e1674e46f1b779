package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"carbon-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// BalanceRepo implements ports.BalanceRepository.
type BalanceRepo struct {
	s *Store
}

// Balances returns the balance table.
func (s *Store) Balances() *BalanceRepo {
	return &BalanceRepo{s: s}
}

// Get returns zero for a missing row.
func (r *BalanceRepo) Get(ctx context.Context, identityID string, asset domain.Asset) (decimal.Decimal, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	b, ok := r.s.balances[balanceKey{identityID, asset}]
	if !ok {
		return decimal.Zero, nil
	}
	return b.Amount, nil
}

func (r *BalanceRepo) ListByIdentity(ctx context.Context, identityID string) ([]domain.Balance, error) {
	return r.list(func(b domain.Balance) bool { return b.IdentityID == identityID }), nil
}

func (r *BalanceRepo) ListAll(ctx context.Context) ([]domain.Balance, error) {
	return r.list(func(domain.Balance) bool { return true }), nil
}

func (r *BalanceRepo) list(keep func(domain.Balance) bool) []domain.Balance {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.Balance
	for _, b := range r.s.balances {
		if keep(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IdentityID != out[j].IdentityID {
			return out[i].IdentityID < out[j].IdentityID
		}
		return out[i].Asset < out[j].Asset
	})
	return out
}

// GetForUpdate creates a zero row when missing. The transaction slot is
// the lock.
func (r *BalanceRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, identityID string, asset domain.Asset) (decimal.Decimal, error) {
	amount := decimal.Zero
	err := r.s.write(tx, func() (func(), error) {
		key := balanceKey{identityID, asset}
		if b, ok := r.s.balances[key]; ok {
			amount = b.Amount
			return nil, nil
		}
		r.s.balances[key] = domain.Balance{IdentityID: identityID, Asset: asset, Amount: decimal.Zero, UpdatedAt: time.Now().UTC()}
		return func() { delete(r.s.balances, key) }, nil
	})
	return amount, err
}

// Update overwrites a row created by GetForUpdate.
func (r *BalanceRepo) Update(ctx context.Context, tx pgx.Tx, identityID string, asset domain.Asset, amount decimal.Decimal) error {
	return r.s.write(tx, func() (func(), error) {
		key := balanceKey{identityID, asset}
		prev, ok := r.s.balances[key]
		if !ok {
			return nil, fmt.Errorf("balance not found: %s/%s", identityID, asset)
		}
		if amount.IsNegative() {
			return nil, fmt.Errorf("balance %s/%s would become negative", identityID, asset)
		}
		next := prev
		next.Amount = amount
		next.UpdatedAt = time.Now().UTC()
		r.s.balances[key] = next
		return func() { r.s.balances[key] = prev }, nil
	})
}
