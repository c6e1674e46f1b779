package service

import (
	"context"
	"fmt"
	"strings"

	"carbon-ledger/internal/core/domain"
	"carbon-ledger/internal/core/ports"
	"carbon-ledger/pkg/apperror"

	"github.com/shopspring/decimal"
)

// ReviewServiceImpl implements ports.ReviewService for one workflow.
// Issuance approvals mint the amount chosen by the administrator; project
// approvals mint the submitted amount.
type ReviewServiceImpl struct {
	book *Book
	repo ports.ReviewRequestRepository
	kind domain.RequestKind
}

// NewIssuanceService creates the issuance approval workflow.
func NewIssuanceService(book *Book, repo ports.ReviewRequestRepository) *ReviewServiceImpl {
	return &ReviewServiceImpl{book: book, repo: repo, kind: domain.RequestKindIssuance}
}

// NewProjectReviewService creates the project submission workflow.
func NewProjectReviewService(book *Book, repo ports.ReviewRequestRepository) *ReviewServiceImpl {
	return &ReviewServiceImpl{book: book, repo: repo, kind: domain.RequestKindProject}
}

func (s *ReviewServiceImpl) Kind() domain.RequestKind {
	return s.kind
}

func (s *ReviewServiceImpl) op(name string) string {
	return strings.ToLower(string(s.kind)) + "_" + name
}

type submittedPayload struct {
	Kind        domain.RequestKind `json:"kind"`
	EvidenceRef string             `json:"evidence_ref"`
	Amount      string             `json:"amount,omitempty"`
}

type reviewedPayload struct {
	Kind     domain.RequestKind `json:"kind"`
	Decision domain.Decision    `json:"decision"`
}

// Submit opens a pending request.
func (s *ReviewServiceImpl) Submit(ctx context.Context, req ports.SubmitRequest) (*domain.ReviewRequest, error) {
	r, err := s.submit(ctx, req)
	return r, s.book.observe(s.op("submit"), err)
}

func (s *ReviewServiceImpl) submit(ctx context.Context, req ports.SubmitRequest) (*domain.ReviewRequest, error) {
	requester, err := s.book.requireRegistered(ctx, req.Requester)
	if err != nil {
		return nil, err
	}
	evidence := strings.TrimSpace(req.EvidenceRef)
	if evidence == "" {
		return nil, apperror.ErrInvalidEvidence()
	}
	amount := decimal.Zero
	if s.kind == domain.RequestKindProject {
		if !domain.IsValidAmount(req.Amount) {
			return nil, apperror.ErrInvalidAmount(domain.AmountString(req.Amount))
		}
		amount = req.Amount
	}

	dbTx, err := s.book.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	now := s.book.now()
	request := &domain.ReviewRequest{
		Kind:        s.kind,
		Requester:   requester,
		EvidenceRef: evidence,
		Amount:      amount,
		Status:      domain.RequestStatusPending,
		CreatedAt:   now,
	}
	if err := s.repo.Create(ctx, dbTx, request); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("create %s request: %w", s.kind, err))
	}

	payload := submittedPayload{Kind: s.kind, EvidenceRef: evidence}
	if s.kind == domain.RequestKindProject {
		payload.Amount = amount.String()
	}
	event := &domain.LedgerEvent{Type: domain.EventRequestSubmitted, Actor: requester, SubjectID: &request.ID, CreatedAt: now}
	if err := s.book.appendEvent(ctx, dbTx, event, payload); err != nil {
		return nil, err
	}
	if err := s.book.commit(ctx, dbTx); err != nil {
		return nil, err
	}

	s.book.log.Info().
		Str("identity", requester).
		Str("kind", string(s.kind)).
		Int64("request_id", request.ID).
		Msg("request submitted")
	return request, nil
}

// Review records the administrator's decision. An approval mints in the same
// transaction, so a failed mint leaves the request pending.
func (s *ReviewServiceImpl) Review(ctx context.Context, cmd ports.ReviewCommand) (*domain.ReviewRequest, error) {
	r, err := s.review(ctx, cmd)
	return r, s.book.observe(s.op("review"), err)
}

func (s *ReviewServiceImpl) review(ctx context.Context, cmd ports.ReviewCommand) (*domain.ReviewRequest, error) {
	admin, err := s.book.requireAdmin(cmd.Admin)
	if err != nil {
		return nil, err
	}
	if cmd.Decision != domain.DecisionApprove && cmd.Decision != domain.DecisionReject {
		return nil, apperror.Validation("Decision must be approve or reject")
	}

	dbTx, err := s.book.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer dbTx.Rollback(ctx) //nolint:errcheck

	request, err := s.repo.GetByIDForUpdate(ctx, dbTx, cmd.ID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("lock %s request: %w", s.kind, err))
	}
	if request == nil {
		return nil, apperror.ErrNotFound(s.entity(), cmd.ID)
	}
	if !request.IsPending() {
		return nil, apperror.ErrAlreadyReviewed(request.ID, string(request.Status))
	}

	event := &domain.LedgerEvent{Type: domain.EventRequestReviewed, Actor: admin, SubjectID: &request.ID}
	if cmd.Decision == domain.DecisionApprove {
		amount := request.Amount
		if s.kind == domain.RequestKindIssuance {
			amount = cmd.Amount
		}
		if !domain.IsValidAmount(amount) {
			return nil, apperror.ErrInvalidAmount(domain.AmountString(amount))
		}
		locked, err := s.book.lockBalances(ctx, dbTx, domain.AssetCarbon, request.Requester)
		if err != nil {
			return nil, err
		}
		if err := s.book.move(ctx, dbTx, domain.AssetCarbon, "", request.Requester, amount, locked); err != nil {
			return nil, err
		}
		request.Amount = amount
		event.Asset, event.To, event.Amount = domain.AssetCarbon, request.Requester, amount
	}

	now := s.book.now()
	request.Status = cmd.Decision.Status()
	request.ReviewedBy = &admin
	request.ReviewedAt = &now
	if err := s.repo.UpdateReview(ctx, dbTx, request); err != nil {
		return nil, apperror.InternalError(fmt.Errorf("update %s request: %w", s.kind, err))
	}

	event.CreatedAt = now
	if err := s.book.appendEvent(ctx, dbTx, event, reviewedPayload{Kind: s.kind, Decision: cmd.Decision}); err != nil {
		return nil, err
	}
	if err := s.book.commit(ctx, dbTx); err != nil {
		return nil, err
	}

	s.book.unitsMoved(event)
	s.book.log.Info().
		Str("identity", request.Requester).
		Str("kind", string(s.kind)).
		Int64("request_id", request.ID).
		Str("status", string(request.Status)).
		Str("amount", request.Amount.String()).
		Msg("request reviewed")
	return request, nil
}

func (s *ReviewServiceImpl) entity() string {
	if s.kind == domain.RequestKindProject {
		return "Project submission"
	}
	return "Issuance request"
}

// ListPending returns the requester's pending requests in submission order.
func (s *ReviewServiceImpl) ListPending(ctx context.Context, requester string) ([]domain.ReviewRequest, error) {
	return s.listByRequester(ctx, requester, domain.RequestStatusPending)
}

// ListByRequester returns all of the requester's requests.
func (s *ReviewServiceImpl) ListByRequester(ctx context.Context, requester string) ([]domain.ReviewRequest, error) {
	return s.listByRequester(ctx, requester, "")
}

func (s *ReviewServiceImpl) listByRequester(ctx context.Context, requester string, status domain.RequestStatus) ([]domain.ReviewRequest, error) {
	id, err := normalize(requester)
	if err != nil {
		return nil, err
	}
	requests, err := s.repo.ListByRequester(ctx, id, status)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list %s requests: %w", s.kind, err))
	}
	return requests, nil
}

// ListAllPending is the administrator's review queue.
func (s *ReviewServiceImpl) ListAllPending(ctx context.Context, caller string) ([]domain.ReviewRequest, error) {
	if _, err := s.book.requireAdmin(caller); err != nil {
		return nil, err
	}
	requests, err := s.repo.ListByStatus(ctx, domain.RequestStatusPending)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("list pending %s requests: %w", s.kind, err))
	}
	return requests, nil
}

// Get returns a request to its requester or the administrator. Anyone else
// gets NotFound.
func (s *ReviewServiceImpl) Get(ctx context.Context, caller string, id int64) (*domain.ReviewRequest, error) {
	who, err := normalize(caller)
	if err != nil {
		return nil, err
	}
	request, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("get %s request: %w", s.kind, err))
	}
	if request == nil || (request.Requester != who && who != s.book.adminID) {
		return nil, apperror.ErrNotFound(s.entity(), id)
	}
	return request, nil
}
