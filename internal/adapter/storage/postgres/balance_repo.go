package postgres

import (
	"context"
	"errors"
	"fmt"

	"carbon-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// BalanceRepo implements ports.BalanceRepository.
type BalanceRepo struct {
	pool Pool
}

// NewBalanceRepo creates a new BalanceRepo.
func NewBalanceRepo(pool Pool) *BalanceRepo {
	return &BalanceRepo{pool: pool}
}

// Get returns the balance without locking; a missing row is a zero balance.
func (r *BalanceRepo) Get(ctx context.Context, identityID string, asset domain.Asset) (decimal.Decimal, error) {
	query := `SELECT amount FROM balances WHERE identity_id = $1 AND asset = $2`

	var amount decimal.Decimal
	err := r.pool.QueryRow(ctx, query, identityID, string(asset)).Scan(&amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("get balance: %w", err)
	}
	return amount, nil
}

// ListByIdentity returns the stored balances of one identity.
func (r *BalanceRepo) ListByIdentity(ctx context.Context, identityID string) ([]domain.Balance, error) {
	query := `SELECT identity_id, asset, amount, updated_at FROM balances
		WHERE identity_id = $1 ORDER BY asset`
	return r.list(ctx, query, identityID)
}

// ListAll returns every stored balance.
func (r *BalanceRepo) ListAll(ctx context.Context) ([]domain.Balance, error) {
	query := `SELECT identity_id, asset, amount, updated_at FROM balances
		ORDER BY identity_id, asset`
	return r.list(ctx, query)
}

func (r *BalanceRepo) list(ctx context.Context, query string, args ...any) ([]domain.Balance, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list balances: %w", err)
	}
	defer rows.Close()

	var out []domain.Balance
	for rows.Next() {
		var b domain.Balance
		var asset string
		if err := rows.Scan(&b.IdentityID, &asset, &b.Amount, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan balance: %w", err)
		}
		b.Asset = domain.Asset(asset)
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate balances: %w", err)
	}
	return out, nil
}

// GetForUpdate creates a zero row when missing and locks it.
// This MUST be called within a transaction.
func (r *BalanceRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, identityID string, asset domain.Asset) (decimal.Decimal, error) {
	ensure := `INSERT INTO balances (identity_id, asset, amount) VALUES ($1, $2, 0)
		ON CONFLICT (identity_id, asset) DO NOTHING`
	if _, err := tx.Exec(ctx, ensure, identityID, string(asset)); err != nil {
		return decimal.Zero, fmt.Errorf("ensure balance row: %w", err)
	}

	query := `SELECT amount FROM balances WHERE identity_id = $1 AND asset = $2 FOR UPDATE`

	var amount decimal.Decimal
	if err := tx.QueryRow(ctx, query, identityID, string(asset)).Scan(&amount); err != nil {
		return decimal.Zero, fmt.Errorf("get balance for update: %w", err)
	}
	return amount, nil
}

// Update sets a locked balance to amount.
func (r *BalanceRepo) Update(ctx context.Context, tx pgx.Tx, identityID string, asset domain.Asset, amount decimal.Decimal) error {
	query := `UPDATE balances SET amount = $1, updated_at = NOW() WHERE identity_id = $2 AND asset = $3`

	tag, err := tx.Exec(ctx, query, amount, identityID, string(asset))
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("balance not found: %s/%s", identityID, asset)
	}
	return nil
}
