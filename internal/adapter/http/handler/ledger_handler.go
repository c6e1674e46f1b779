package handler

import (
	"context"
	"strconv"
	"strings"

	"carbon-ledger/internal/adapter/http/dto"
	"carbon-ledger/internal/core/domain"
	"carbon-ledger/internal/core/ports"
	"carbon-ledger/pkg/apperror"
	"carbon-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// LedgerHandler handles balance, movement and admin ledger endpoints.
type LedgerHandler struct {
	ledger ports.LedgerService
}

// NewLedgerHandler creates a new LedgerHandler.
func NewLedgerHandler(ledger ports.LedgerService) *LedgerHandler {
	return &LedgerHandler{ledger: ledger}
}

// MyBalances handles GET /api/v1/ledger/balances.
func (h *LedgerHandler) MyBalances(c *gin.Context) {
	id, ok := caller(c)
	if !ok {
		return
	}
	h.balances(c, id)
}

// Balances handles GET /api/v1/ledger/balances/:id.
func (h *LedgerHandler) Balances(c *gin.Context) {
	h.balances(c, c.Param("id"))
}

func (h *LedgerHandler) balances(c *gin.Context, identity string) {
	balances, err := h.ledger.Balances(c.Request.Context(), identity)
	if err != nil {
		response.Error(c, err)
		return
	}
	owner := identity
	if len(balances) > 0 {
		owner = balances[0].IdentityID
	}
	response.OK(c, dto.BalancesResponse{Identity: owner, Balances: balances})
}

// Supply handles GET /api/v1/ledger/supply/:asset.
func (h *LedgerHandler) Supply(c *gin.Context) {
	asset := domain.Asset(strings.ToUpper(c.Param("asset")))
	supply, err := h.ledger.Supply(c.Request.Context(), asset)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, gin.H{
		"asset":       supply.Asset,
		"minted":      supply.Minted,
		"burned":      supply.Burned,
		"circulating": supply.Circulating(),
	})
}

// Transfer handles POST /api/v1/ledger/transfers.
func (h *LedgerHandler) Transfer(c *gin.Context) {
	id, ok := caller(c)
	if !ok {
		return
	}
	var req dto.TransferRequest
	if !bind(c, &req) {
		return
	}

	event, err := h.ledger.Transfer(c.Request.Context(), ports.TransferRequest{
		From:      id,
		To:        req.To,
		Amount:    dto.Amount(req.Amount),
		Reference: req.Reference,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, event)
}

// Retire handles POST /api/v1/ledger/retirements.
func (h *LedgerHandler) Retire(c *gin.Context) {
	id, ok := caller(c)
	if !ok {
		return
	}
	var req dto.RetireRequest
	if !bind(c, &req) {
		return
	}

	event, err := h.ledger.Retire(c.Request.Context(), ports.RetireRequest{
		Holder:    id,
		Amount:    dto.Amount(req.Amount),
		Reference: req.Reference,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, event)
}

// Mint handles POST /api/v1/admin/mint.
func (h *LedgerHandler) Mint(c *gin.Context) {
	h.issue(c, h.ledger.Mint)
}

// Deposit handles POST /api/v1/admin/deposits.
func (h *LedgerHandler) Deposit(c *gin.Context) {
	h.issue(c, h.ledger.Deposit)
}

type issueFunc = func(ctx context.Context, caller, to string, amount decimal.Decimal) (*domain.LedgerEvent, error)

func (h *LedgerHandler) issue(c *gin.Context, fn issueFunc) {
	id, ok := caller(c)
	if !ok {
		return
	}
	var req dto.IssueRequest
	if !bind(c, &req) {
		return
	}

	event, err := fn(c.Request.Context(), id, req.To, dto.Amount(req.Amount))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, event)
}

// Events handles GET /api/v1/admin/events.
func (h *LedgerHandler) Events(c *gin.Context) {
	id, ok := caller(c)
	if !ok {
		return
	}
	filter, err := eventFilter(c)
	if err != nil {
		response.Error(c, err)
		return
	}

	events, err := h.ledger.Events(c.Request.Context(), id, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewList(events))
}

func eventFilter(c *gin.Context) (domain.EventFilter, error) {
	filter := domain.EventFilter{
		Type:     domain.EventType(strings.ToUpper(c.Query("type"))),
		Identity: c.Query("identity"),
	}
	if raw := c.Query("campaign_id"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return filter, apperror.Validation("invalid campaign_id")
		}
		filter.SubjectID = &v
	}
	if raw := c.Query("after"); raw != "" {
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || v < 0 {
			return filter, apperror.Validation("invalid after")
		}
		filter.AfterSeq = v
	}
	if raw := c.Query("limit"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v <= 0 {
			return filter, apperror.Validation("invalid limit")
		}
		filter.Limit = v
	}
	return filter, nil
}

// Verify handles GET /api/v1/admin/verify.
func (h *LedgerHandler) Verify(c *gin.Context) {
	id, ok := caller(c)
	if !ok {
		return
	}
	report, err := h.ledger.Verify(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, report)
}
