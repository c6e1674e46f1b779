package handler

import (
	"carbon-ledger/internal/adapter/http/dto"
	"carbon-ledger/internal/core/domain"
	"carbon-ledger/internal/core/ports"
	"carbon-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// FundingHandler handles campaign endpoints.
type FundingHandler struct {
	funding ports.FundingService
}

// NewFundingHandler creates a new FundingHandler.
func NewFundingHandler(funding ports.FundingService) *FundingHandler {
	return &FundingHandler{funding: funding}
}

// Create handles POST /api/v1/campaigns.
func (h *FundingHandler) Create(c *gin.Context) {
	id, ok := caller(c)
	if !ok {
		return
	}
	var req dto.CreateCampaignRequest
	if !bind(c, &req) {
		return
	}
	dto.SanitizeStruct(&req)

	campaign, err := h.funding.CreateCampaign(c.Request.Context(), ports.CreateCampaignRequest{
		Creator:     id,
		Name:        req.Name,
		Website:     req.Website,
		Description: req.Description,
		Target:      dto.Amount(req.TargetAmount),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, campaign)
}

// ListActive handles GET /api/v1/campaigns. ?exclude_mine=true hides the
// caller's own campaigns.
func (h *FundingHandler) ListActive(c *gin.Context) {
	id, ok := caller(c)
	if !ok {
		return
	}
	exclude := ""
	if c.Query("exclude_mine") == "true" {
		exclude = id
	}

	campaigns, err := h.funding.ListActive(c.Request.Context(), exclude)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewList(campaigns))
}

// Mine handles GET /api/v1/campaigns/mine.
func (h *FundingHandler) Mine(c *gin.Context) {
	id, ok := caller(c)
	if !ok {
		return
	}
	campaigns, err := h.funding.ListByCreator(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewList(campaigns))
}

// Get handles GET /api/v1/campaigns/:id.
func (h *FundingHandler) Get(c *gin.Context) {
	campaignID, ok := pathID(c, "id")
	if !ok {
		return
	}
	campaign, err := h.funding.Get(c.Request.Context(), campaignID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, campaign)
}

// Donate handles POST /api/v1/campaigns/:id/donations.
func (h *FundingHandler) Donate(c *gin.Context) {
	id, ok := caller(c)
	if !ok {
		return
	}
	campaignID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.DonateRequest
	if !bind(c, &req) {
		return
	}

	receipt, err := h.funding.Donate(c.Request.Context(), ports.DonateRequest{
		Donor:      id,
		CampaignID: campaignID,
		Amount:     dto.Amount(req.Amount),
		Reference:  req.Reference,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, receipt)
}

// Donations handles GET /api/v1/campaigns/:id/donations.
func (h *FundingHandler) Donations(c *gin.Context) {
	campaignID, ok := pathID(c, "id")
	if !ok {
		return
	}
	donations, err := h.funding.Donations(c.Request.Context(), campaignID)
	if err != nil {
		response.Error(c, err)
		return
	}

	total := decimal.Zero
	for _, d := range donations {
		total = total.Add(d.Amount)
	}
	if donations == nil {
		donations = []domain.Donation{}
	}
	response.OK(c, dto.DonationsResponse{CampaignID: campaignID, Donations: donations, Total: total})
}
