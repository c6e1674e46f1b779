package memory

import (
	"context"
	"fmt"
	"sort"

	"carbon-ledger/internal/core/domain"

	"github.com/jackc/pgx/v5"
)

// RequestRepo implements ports.ReviewRequestRepository for one workflow.
type RequestRepo struct {
	s    *Store
	kind domain.RequestKind
}

// IssuanceRequests returns the issuance request table.
func (s *Store) IssuanceRequests() *RequestRepo {
	return &RequestRepo{s: s, kind: domain.RequestKindIssuance}
}

// ProjectSubmissions returns the project submission table.
func (s *Store) ProjectSubmissions() *RequestRepo {
	return &RequestRepo{s: s, kind: domain.RequestKindProject}
}

func (r *RequestRepo) table() *requestTable {
	return r.s.requests[r.kind]
}

// Create assigns the next id of the workflow.
func (r *RequestRepo) Create(ctx context.Context, tx pgx.Tx, req *domain.ReviewRequest) error {
	return r.s.write(tx, func() (func(), error) {
		t := r.table()
		t.nextID++
		req.ID = t.nextID
		req.Kind = r.kind
		t.rows[req.ID] = *req
		id := req.ID
		return func() {
			delete(t.rows, id)
			t.nextID--
		}, nil
	})
}

func (r *RequestRepo) GetByID(ctx context.Context, id int64) (*domain.ReviewRequest, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	req, ok := r.table().rows[id]
	if !ok {
		return nil, nil
	}
	return &req, nil
}

func (r *RequestRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id int64) (*domain.ReviewRequest, error) {
	if _, err := r.s.own(tx); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

// UpdateReview only applies to a pending request.
func (r *RequestRepo) UpdateReview(ctx context.Context, tx pgx.Tx, req *domain.ReviewRequest) error {
	return r.s.write(tx, func() (func(), error) {
		t := r.table()
		prev, ok := t.rows[req.ID]
		if !ok || !prev.IsPending() {
			return nil, fmt.Errorf("pending request not found: %d", req.ID)
		}
		next := prev
		next.Status = req.Status
		next.Amount = req.Amount
		next.ReviewedBy = req.ReviewedBy
		next.ReviewedAt = req.ReviewedAt
		t.rows[req.ID] = next
		return func() { t.rows[req.ID] = prev }, nil
	})
}

func (r *RequestRepo) ListByRequester(ctx context.Context, requester string, status domain.RequestStatus) ([]domain.ReviewRequest, error) {
	return r.list(func(req domain.ReviewRequest) bool {
		return req.Requester == requester && (status == "" || req.Status == status)
	}), nil
}

func (r *RequestRepo) ListByStatus(ctx context.Context, status domain.RequestStatus) ([]domain.ReviewRequest, error) {
	return r.list(func(req domain.ReviewRequest) bool { return req.Status == status }), nil
}

func (r *RequestRepo) list(keep func(domain.ReviewRequest) bool) []domain.ReviewRequest {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []domain.ReviewRequest
	for _, req := range r.table().rows {
		if keep(req) {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
