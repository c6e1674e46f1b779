package postgres

import (
	"context"
	"errors"
	"fmt"

	"carbon-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// CertificateRepo implements ports.CertificateRepository.
type CertificateRepo struct {
	pool Pool
}

// NewCertificateRepo creates a new CertificateRepo.
func NewCertificateRepo(pool Pool) *CertificateRepo {
	return &CertificateRepo{pool: pool}
}

const certificateColumns = "id, owner, creator, name, description, evidence_ref, price, listed, created_at, updated_at"

// Create inserts a certificate and fills in its id.
func (r *CertificateRepo) Create(ctx context.Context, tx pgx.Tx, c *domain.Certificate) error {
	query := `INSERT INTO certificates (owner, creator, name, description, evidence_ref, price, listed, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9) RETURNING id`

	err := tx.QueryRow(ctx, query,
		c.Owner, c.Creator, c.Metadata.Name, c.Metadata.Description, c.Metadata.EvidenceRef,
		c.Price, c.Listed, c.CreatedAt, c.UpdatedAt,
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("insert certificate: %w", err)
	}
	return nil
}

// GetByID fetches a certificate without locking.
func (r *CertificateRepo) GetByID(ctx context.Context, id int64) (*domain.Certificate, error) {
	query := `SELECT ` + certificateColumns + ` FROM certificates WHERE id = $1`
	return scanCertificateRow(r.pool.QueryRow(ctx, query, id), "get certificate by id")
}

// GetByIDForUpdate fetches a certificate with pessimistic locking.
// This MUST be called within a transaction.
func (r *CertificateRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id int64) (*domain.Certificate, error) {
	query := `SELECT ` + certificateColumns + ` FROM certificates WHERE id = $1 FOR UPDATE`
	return scanCertificateRow(tx.QueryRow(ctx, query, id), "get certificate for update")
}

// Update stores owner, price and listing of a locked certificate.
func (r *CertificateRepo) Update(ctx context.Context, tx pgx.Tx, c *domain.Certificate) error {
	query := `UPDATE certificates SET owner = $1, price = $2, listed = $3, updated_at = $4 WHERE id = $5`

	tag, err := tx.Exec(ctx, query, c.Owner, c.Price, c.Listed, c.UpdatedAt, c.ID)
	if err != nil {
		return fmt.Errorf("update certificate: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("certificate not found: %d", c.ID)
	}
	return nil
}

// List returns all certificates.
func (r *CertificateRepo) List(ctx context.Context) ([]domain.Certificate, error) {
	query := `SELECT ` + certificateColumns + ` FROM certificates ORDER BY id`
	return r.list(ctx, query)
}

// ListByOwner returns the certificates one identity holds.
func (r *CertificateRepo) ListByOwner(ctx context.Context, owner string) ([]domain.Certificate, error) {
	query := `SELECT ` + certificateColumns + ` FROM certificates WHERE owner = $1 ORDER BY id`
	return r.list(ctx, query, owner)
}

func (r *CertificateRepo) list(ctx context.Context, query string, args ...any) ([]domain.Certificate, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list certificates: %w", err)
	}
	defer rows.Close()

	var out []domain.Certificate
	for rows.Next() {
		c, err := scanCertificate(rows)
		if err != nil {
			return nil, fmt.Errorf("scan certificate: %w", err)
		}
		out = append(out, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate certificates: %w", err)
	}
	return out, nil
}

func scanCertificateRow(row pgx.Row, op string) (*domain.Certificate, error) {
	c, err := scanCertificate(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return c, nil
}

func scanCertificate(row pgx.Row) (*domain.Certificate, error) {
	c := &domain.Certificate{}
	err := row.Scan(
		&c.ID, &c.Owner, &c.Creator, &c.Metadata.Name, &c.Metadata.Description, &c.Metadata.EvidenceRef,
		&c.Price, &c.Listed, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}
