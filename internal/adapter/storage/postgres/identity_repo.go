package postgres

import (
	"context"
	"errors"
	"fmt"

	"carbon-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// IdentityRepo implements ports.IdentityRepository.
type IdentityRepo struct {
	pool Pool
}

// NewIdentityRepo creates a new IdentityRepo.
func NewIdentityRepo(pool Pool) *IdentityRepo {
	return &IdentityRepo{pool: pool}
}

// Create inserts the identity. The conditional insert makes concurrent
// registrations of the same id race safe: exactly one of them reports true.
func (r *IdentityRepo) Create(ctx context.Context, tx pgx.Tx, identity *domain.Identity) (bool, error) {
	query := `INSERT INTO identities (id, handle, created_at) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING`

	tag, err := tx.Exec(ctx, query, identity.ID, identity.Handle, identity.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert identity: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetByID fetches an identity. Returns nil, nil when it is not registered.
func (r *IdentityRepo) GetByID(ctx context.Context, id string) (*domain.Identity, error) {
	query := `SELECT id, handle, created_at FROM identities WHERE id = $1`

	i := &domain.Identity{}
	err := r.pool.QueryRow(ctx, query, id).Scan(&i.ID, &i.Handle, &i.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get identity by id: %w", err)
	}
	return i, nil
}
