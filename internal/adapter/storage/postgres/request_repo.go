package postgres

import (
	"context"
	"errors"
	"fmt"

	"carbon-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// RequestRepo implements ports.ReviewRequestRepository over one workflow table.
type RequestRepo struct {
	pool  Pool
	kind  domain.RequestKind
	table string
}

// NewIssuanceRequestRepo stores issuance requests.
func NewIssuanceRequestRepo(pool Pool) *RequestRepo {
	return &RequestRepo{pool: pool, kind: domain.RequestKindIssuance, table: "issuance_requests"}
}

// NewProjectSubmissionRepo stores project submissions.
func NewProjectSubmissionRepo(pool Pool) *RequestRepo {
	return &RequestRepo{pool: pool, kind: domain.RequestKindProject, table: "project_submissions"}
}

const requestColumns = "id, requester, evidence_ref, amount, status, reviewed_by, reviewed_at, created_at"

// Create inserts a pending request and fills in its id.
func (r *RequestRepo) Create(ctx context.Context, tx pgx.Tx, req *domain.ReviewRequest) error {
	query := `INSERT INTO ` + r.table + ` (requester, evidence_ref, amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`

	err := tx.QueryRow(ctx, query,
		req.Requester, req.EvidenceRef, req.Amount, string(req.Status), req.CreatedAt,
	).Scan(&req.ID)
	if err != nil {
		return fmt.Errorf("insert %s: %w", r.table, err)
	}
	req.Kind = r.kind
	return nil
}

// GetByID fetches a request without locking.
func (r *RequestRepo) GetByID(ctx context.Context, id int64) (*domain.ReviewRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM ` + r.table + ` WHERE id = $1`
	return r.scanOne(r.pool.QueryRow(ctx, query, id), "get request by id")
}

// GetByIDForUpdate fetches a request with pessimistic locking.
// This MUST be called within a transaction.
func (r *RequestRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id int64) (*domain.ReviewRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM ` + r.table + ` WHERE id = $1 FOR UPDATE`
	return r.scanOne(tx.QueryRow(ctx, query, id), "get request for update")
}

// UpdateReview records the decision on a locked request.
func (r *RequestRepo) UpdateReview(ctx context.Context, tx pgx.Tx, req *domain.ReviewRequest) error {
	query := `UPDATE ` + r.table + ` SET status = $1, amount = $2, reviewed_by = $3, reviewed_at = $4
		WHERE id = $5 AND status = 'PENDING'`

	tag, err := tx.Exec(ctx, query, string(req.Status), req.Amount, req.ReviewedBy, req.ReviewedAt, req.ID)
	if err != nil {
		return fmt.Errorf("update %s review: %w", r.table, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("pending request not found: %d", req.ID)
	}
	return nil
}

// ListByRequester returns one requester's requests in submission order.
func (r *RequestRepo) ListByRequester(ctx context.Context, requester string, status domain.RequestStatus) ([]domain.ReviewRequest, error) {
	if status == "" {
		query := `SELECT ` + requestColumns + ` FROM ` + r.table + ` WHERE requester = $1 ORDER BY id`
		return r.list(ctx, query, requester)
	}
	query := `SELECT ` + requestColumns + ` FROM ` + r.table + ` WHERE requester = $1 AND status = $2 ORDER BY id`
	return r.list(ctx, query, requester, string(status))
}

// ListByStatus returns requests of every requester in submission order.
func (r *RequestRepo) ListByStatus(ctx context.Context, status domain.RequestStatus) ([]domain.ReviewRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM ` + r.table + ` WHERE status = $1 ORDER BY id`
	return r.list(ctx, query, string(status))
}

func (r *RequestRepo) list(ctx context.Context, query string, args ...any) ([]domain.ReviewRequest, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", r.table, err)
	}
	defer rows.Close()

	var out []domain.ReviewRequest
	for rows.Next() {
		req, err := r.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", r.table, err)
		}
		out = append(out, *req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", r.table, err)
	}
	return out, nil
}

func (r *RequestRepo) scanOne(row pgx.Row, op string) (*domain.ReviewRequest, error) {
	req, err := r.scan(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return req, nil
}

func (r *RequestRepo) scan(row pgx.Row) (*domain.ReviewRequest, error) {
	req := &domain.ReviewRequest{Kind: r.kind}
	var status string
	err := row.Scan(
		&req.ID, &req.Requester, &req.EvidenceRef, &req.Amount,
		&status, &req.ReviewedBy, &req.ReviewedAt, &req.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	req.Status = domain.RequestStatus(status)
	return req, nil
}
