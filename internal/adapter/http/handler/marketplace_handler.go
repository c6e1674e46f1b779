package handler

import (
	"carbon-ledger/internal/adapter/http/dto"
	"carbon-ledger/internal/core/domain"
	"carbon-ledger/internal/core/ports"
	"carbon-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// MarketplaceHandler handles certificate endpoints.
type MarketplaceHandler struct {
	market ports.MarketplaceService
}

// NewMarketplaceHandler creates a new MarketplaceHandler.
func NewMarketplaceHandler(market ports.MarketplaceService) *MarketplaceHandler {
	return &MarketplaceHandler{market: market}
}

// Mint handles POST /api/v1/certificates.
func (h *MarketplaceHandler) Mint(c *gin.Context) {
	id, ok := caller(c)
	if !ok {
		return
	}
	var req dto.MintCertificateRequest
	if !bind(c, &req) {
		return
	}
	dto.SanitizeStruct(&req)

	cert, err := h.market.MintCertificate(c.Request.Context(), ports.MintCertificateRequest{
		Creator: id,
		Metadata: domain.CertificateMetadata{
			Name:        req.Name,
			Description: req.Description,
			EvidenceRef: req.EvidenceRef,
		},
		Price: dto.Amount(req.Price),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, cert)
}

// List handles GET /api/v1/certificates.
func (h *MarketplaceHandler) List(c *gin.Context) {
	certs, err := h.market.ListAll(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewList(certs))
}

// Mine handles GET /api/v1/certificates/mine.
func (h *MarketplaceHandler) Mine(c *gin.Context) {
	id, ok := caller(c)
	if !ok {
		return
	}
	certs, err := h.market.OwnedBy(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewList(certs))
}

// Get handles GET /api/v1/certificates/:id.
func (h *MarketplaceHandler) Get(c *gin.Context) {
	certID, ok := pathID(c, "id")
	if !ok {
		return
	}
	cert, err := h.market.Get(c.Request.Context(), certID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, cert)
}

// Buy handles POST /api/v1/certificates/:id/purchase.
func (h *MarketplaceHandler) Buy(c *gin.Context) {
	id, ok := caller(c)
	if !ok {
		return
	}
	certID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.BuyRequest
	if !bind(c, &req) {
		return
	}

	sale, err := h.market.Buy(c.Request.Context(), ports.BuyRequest{
		Buyer:         id,
		CertificateID: certID,
		Payment:       dto.Amount(req.Payment),
		Reference:     req.Reference,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, sale)
}

// SetListing handles PUT /api/v1/certificates/:id/listing.
func (h *MarketplaceHandler) SetListing(c *gin.Context) {
	id, ok := caller(c)
	if !ok {
		return
	}
	certID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req dto.ListingRequest
	if !bind(c, &req) {
		return
	}

	cert, err := h.market.SetListing(c.Request.Context(), ports.ListingRequest{
		Owner:         id,
		CertificateID: certID,
		Price:         dto.Amount(req.Price),
		Listed:        *req.Listed,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, cert)
}
