package memory

import (
	"context"

	"carbon-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// IdentityRepo implements ports.IdentityRepository.
type IdentityRepo struct {
	s *Store
}

// Identities returns the identity table.
func (s *Store) Identities() *IdentityRepo {
	return &IdentityRepo{s: s}
}

// Create inserts the identity unless the id is already registered.
func (r *IdentityRepo) Create(ctx context.Context, tx pgx.Tx, identity *domain.Identity) (bool, error) {
	created := false
	err := r.s.write(tx, func() (func(), error) {
		if _, ok := r.s.identities[identity.ID]; ok {
			return nil, nil
		}
		r.s.identities[identity.ID] = *identity
		created = true
		return func() { delete(r.s.identities, identity.ID) }, nil
	})
	return created, err
}

// GetByID returns nil, nil for an unknown identity.
func (r *IdentityRepo) GetByID(ctx context.Context, id string) (*domain.Identity, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	i, ok := r.s.identities[id]
	if !ok {
		return nil, nil
	}
	return &i, nil
}
