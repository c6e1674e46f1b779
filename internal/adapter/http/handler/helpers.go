package handler

import (
	"strconv"

	"carbon-ledger/internal/adapter/http/middleware"
	"carbon-ledger/pkg/apperror"
	"carbon-ledger/pkg/response"

	"github.com/gin-gonic/gin"
)

// caller returns the authenticated identity or writes AUTH_001.
func caller(c *gin.Context) (string, bool) {
	id, ok := middleware.Caller(c)
	if !ok {
		response.Error(c, apperror.ErrInvalidToken())
		return "", false
	}
	return id, true
}

// bind decodes a JSON body and reports binding failures as VAL_001.
func bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return false
	}
	return true
}

// pathID parses a positive integer path parameter.
func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		response.Error(c, apperror.Validation("invalid "+name))
		return 0, false
	}
	return id, true
}
