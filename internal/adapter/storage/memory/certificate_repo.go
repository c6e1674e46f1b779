package memory

import (
	"context"
	"fmt"
	"sort"

	"carbon-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// CertificateRepo implements ports.CertificateRepository.
type CertificateRepo struct {
	s *Store
}

// Certificates returns the certificate table.
func (s *Store) Certificates() *CertificateRepo {
	return &CertificateRepo{s: s}
}

func (r *CertificateRepo) Create(ctx context.Context, tx pgx.Tx, c *domain.Certificate) error {
	return r.s.write(tx, func() (func(), error) {
		r.s.nextCert++
		c.ID = r.s.nextCert
		r.s.certificates[c.ID] = *c
		id := c.ID
		return func() {
			delete(r.s.certificates, id)
			r.s.nextCert--
		}, nil
	})
}

func (r *CertificateRepo) GetByID(ctx context.Context, id int64) (*domain.Certificate, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	c, ok := r.s.certificates[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (r *CertificateRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id int64) (*domain.Certificate, error) {
	if _, err := r.s.own(tx); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// Update stores owner, price and listing state.
func (r *CertificateRepo) Update(ctx context.Context, tx pgx.Tx, c *domain.Certificate) error {
	return r.s.write(tx, func() (func(), error) {
		prev, ok := r.s.certificates[c.ID]
		if !ok {
			return nil, fmt.Errorf("certificate not found: %d", c.ID)
		}
		next := prev
		next.Owner = c.Owner
		next.Price = c.Price
		next.Listed = c.Listed
		next.UpdatedAt = c.UpdatedAt
		r.s.certificates[c.ID] = next
		return func() { r.s.certificates[c.ID] = prev }, nil
	})
}

func (r *CertificateRepo) List(ctx context.Context) ([]domain.Certificate, error) {
	return r.list(func(domain.Certificate) bool { return true }), nil
}

func (r *CertificateRepo) ListByOwner(ctx context.Context, owner string) ([]domain.Certificate, error) {
	return r.list(func(c domain.Certificate) bool { return c.Owner == owner }), nil
}

func (r *CertificateRepo) list(keep func(domain.Certificate) bool) []domain.Certificate {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.Certificate
	for _, c := range r.s.certificates {
		if keep(c) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
