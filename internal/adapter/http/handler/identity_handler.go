package handler

import (
	"carbon-ledger/internal/adapter/http/dto"
	"carbon-ledger/internal/core/ports"
	"carbon-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// IdentityHandler handles identity registry endpoints.
type IdentityHandler struct {
	identities ports.IdentityService
}

// NewIdentityHandler creates a new IdentityHandler.
func NewIdentityHandler(identities ports.IdentityService) *IdentityHandler {
	return &IdentityHandler{identities: identities}
}

// Register handles POST /api/v1/identities.
func (h *IdentityHandler) Register(c *gin.Context) {
	id, ok := caller(c)
	if !ok {
		return
	}
	var req dto.RegisterIdentityRequest
	if !bind(c, &req) {
		return
	}
	dto.SanitizeStruct(&req)

	identity, err := h.identities.Register(c.Request.Context(), id, req.Handle)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, identity)
}

// Me handles GET /api/v1/identities/me.
func (h *IdentityHandler) Me(c *gin.Context) {
	id, ok := caller(c)
	if !ok {
		return
	}
	identity, err := h.identities.Resolve(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, identity)
}

// Get handles GET /api/v1/identities/:id.
func (h *IdentityHandler) Get(c *gin.Context) {
	identity, err := h.identities.Resolve(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, identity)
}
