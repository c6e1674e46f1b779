package middleware

import (
	"net/http"

	"carbon-ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// AuditLog writes one structured line per successful state-changing request,
// named by the action it performed. The ledger event chain stays the record
// of truth; this log correlates requests with it.
func AuditLog(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		status := c.Writer.Status()
		if status < 200 || status >= 300 {
			return
		}
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			return
		}

		action := mapRouteToAction(c.Request.Method, c.FullPath())
		if action == "" {
			return
		}
		caller, _ := Caller(c)
		event := log.Info().
			Str("action", action).
			Str("identity", caller).
			Str("request_id", c.GetString(response.CtxRequestID)).
			Str("client_ip", c.ClientIP())
		if id := c.Param("id"); id != "" {
			event = event.Str("subject_id", id)
		}
		event.Msg("audit")
	}
}

func mapRouteToAction(method, route string) string {
	switch method + " " + route {
	case "POST /api/v1/identities":
		return "register_identity"
	case "POST /api/v1/ledger/transfers":
		return "transfer"
	case "POST /api/v1/ledger/retirements":
		return "retire"
	case "POST /api/v1/issuance-requests":
		return "submit_issuance"
	case "POST /api/v1/project-submissions":
		return "submit_project"
	case "POST /api/v1/campaigns":
		return "create_campaign"
	case "POST /api/v1/campaigns/:id/donations":
		return "donate"
	case "POST /api/v1/certificates":
		return "mint_certificate"
	case "POST /api/v1/certificates/:id/purchase":
		return "buy_certificate"
	case "PUT /api/v1/certificates/:id/listing":
		return "change_listing"
	case "POST /api/v1/admin/mint":
		return "mint"
	case "POST /api/v1/admin/deposits":
		return "deposit"
	case "POST /api/v1/admin/issuance-requests/:id/review":
		return "review_issuance"
	case "POST /api/v1/admin/project-submissions/:id/review":
		return "review_project"
	}
	return ""
}
