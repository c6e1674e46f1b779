package handler

import (
	"carbon-ledger/internal/adapter/http/dto"
	"carbon-ledger/internal/core/domain"
	"carbon-ledger/internal/core/ports"
	"carbon-ledger/pkg/apperror"
	"carbon-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// ReviewHandler serves one approval workflow. The router mounts one
// instance for issuance requests and one for project submissions.
type ReviewHandler struct {
	svc ports.ReviewService
}

// NewReviewHandler creates a new ReviewHandler.
func NewReviewHandler(svc ports.ReviewService) *ReviewHandler {
	return &ReviewHandler{svc: svc}
}

// Submit handles POST on the workflow collection.
func (h *ReviewHandler) Submit(c *gin.Context) {
	id, ok := caller(c)
	if !ok {
		return
	}
	var req dto.SubmitRequest
	if !bind(c, &req) {
		return
	}

	created, err := h.svc.Submit(c.Request.Context(), ports.SubmitRequest{
		Requester:   id,
		EvidenceRef: req.EvidenceRef,
		Amount:      dto.Amount(req.Amount),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, created)
}

// List handles GET on the workflow collection: the caller's own requests,
// optionally narrowed with ?status=.
func (h *ReviewHandler) List(c *gin.Context) {
	id, ok := caller(c)
	if !ok {
		return
	}

	raw := c.Query("status")
	if raw == "" {
		h.respondList(c)(h.svc.ListByRequester(c.Request.Context(), id))
		return
	}
	status, valid := domain.ParseRequestStatus(raw)
	if !valid {
		response.Error(c, apperror.Validation("status must be pending, approved or rejected"))
		return
	}
	if status == domain.RequestStatusPending {
		h.respondList(c)(h.svc.ListPending(c.Request.Context(), id))
		return
	}

	all, err := h.svc.ListByRequester(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	matching := make([]domain.ReviewRequest, 0, len(all))
	for _, r := range all {
		if r.Status == status {
			matching = append(matching, r)
		}
	}
	response.OK(c, dto.NewList(matching))
}

func (h *ReviewHandler) respondList(c *gin.Context) func([]domain.ReviewRequest, error) {
	return func(items []domain.ReviewRequest, err error) {
		if err != nil {
			response.Error(c, err)
			return
		}
		response.OK(c, dto.NewList(items))
	}
}

// Get handles GET on a single request (requester or administrator).
func (h *ReviewHandler) Get(c *gin.Context) {
	id, ok := caller(c)
	if !ok {
		return
	}
	reqID, ok := pathID(c, "id")
	if !ok {
		return
	}

	req, err := h.svc.Get(c.Request.Context(), id, reqID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, req)
}

// ListAllPending handles the administrator's review queue.
func (h *ReviewHandler) ListAllPending(c *gin.Context) {
	id, ok := caller(c)
	if !ok {
		return
	}
	h.respondList(c)(h.svc.ListAllPending(c.Request.Context(), id))
}

// Review handles the administrator's decision.
func (h *ReviewHandler) Review(c *gin.Context) {
	id, ok := caller(c)
	if !ok {
		return
	}
	reqID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.ReviewRequest
	if !bind(c, &req) {
		return
	}
	decision, valid := domain.ParseDecision(req.Decision)
	if !valid {
		response.Error(c, apperror.Validation("decision must be approve or reject"))
		return
	}

	reviewed, err := h.svc.Review(c.Request.Context(), ports.ReviewCommand{
		Admin:    id,
		ID:       reqID,
		Decision: decision,
		Amount:   dto.Amount(req.Amount),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, reviewed)
}
