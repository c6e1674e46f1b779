package handler

import (
	"carbon-ledger/internal/adapter/http/middleware"
	"carbon-ledger/internal/adapter/metrics"
	redisStore "carbon-ledger/internal/adapter/storage/redis"
	"carbon-ledger/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	Identities     ports.IdentityService
	Ledger         ports.LedgerService
	Issuance       ports.ReviewService
	Projects       ports.ReviewService
	Funding        ports.FundingService
	Market         ports.MarketplaceService
	TokenSvc       ports.TokenService
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	Metrics        *metrics.Metrics // nil = no /metrics route
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()

	// Global middleware
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit
	if deps.Metrics != nil {
		r.Use(middleware.Metrics(deps.Metrics))
	}
	r.Use(middleware.AuditLog(deps.Logger))

	// Health check (deep: verifies every storage dependency)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	rules := middleware.DefaultRateLimitRules()
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}
	read, write := rl(middleware.GroupRead), rl(middleware.GroupWrite)

	// Every API route is authenticated; the token subject is the caller.
	v1 := r.Group("/api/v1", middleware.JWTAuth(deps.TokenSvc, deps.Logger))

	identityHandler := NewIdentityHandler(deps.Identities)
	identities := v1.Group("/identities")
	{
		identities.POST("", rl(middleware.GroupRegister), identityHandler.Register)
		identities.GET("/me", read, identityHandler.Me)
		identities.GET("/:id", read, identityHandler.Get)
	}

	ledgerHandler := NewLedgerHandler(deps.Ledger)
	ledger := v1.Group("/ledger")
	{
		ledger.GET("/balances", read, ledgerHandler.MyBalances)
		ledger.GET("/balances/:id", read, ledgerHandler.Balances)
		ledger.GET("/supply/:asset", read, ledgerHandler.Supply)
		ledger.POST("/transfers", write, ledgerHandler.Transfer)
		ledger.POST("/retirements", write, ledgerHandler.Retire)
	}

	issuanceHandler := NewReviewHandler(deps.Issuance)
	issuance := v1.Group("/issuance-requests")
	{
		issuance.POST("", write, issuanceHandler.Submit)
		issuance.GET("", read, issuanceHandler.List)
		issuance.GET("/:id", read, issuanceHandler.Get)
	}

	projectHandler := NewReviewHandler(deps.Projects)
	projects := v1.Group("/project-submissions")
	{
		projects.POST("", write, projectHandler.Submit)
		projects.GET("", read, projectHandler.List)
		projects.GET("/:id", read, projectHandler.Get)
	}

	fundingHandler := NewFundingHandler(deps.Funding)
	campaigns := v1.Group("/campaigns")
	{
		campaigns.POST("", write, fundingHandler.Create)
		campaigns.GET("", read, fundingHandler.ListActive)
		campaigns.GET("/mine", read, fundingHandler.Mine)
		campaigns.GET("/:id", read, fundingHandler.Get)
		campaigns.POST("/:id/donations", write, fundingHandler.Donate)
		campaigns.GET("/:id/donations", read, fundingHandler.Donations)
	}

	marketHandler := NewMarketplaceHandler(deps.Market)
	certificates := v1.Group("/certificates")
	{
		certificates.POST("", write, marketHandler.Mint)
		certificates.GET("", read, marketHandler.List)
		certificates.GET("/mine", read, marketHandler.Mine)
		certificates.GET("/:id", read, marketHandler.Get)
		certificates.POST("/:id/purchase", write, marketHandler.Buy)
		certificates.PUT("/:id/listing", write, marketHandler.SetListing)
	}

	// The services enforce that the caller is the administrator.
	admin := v1.Group("/admin")
	{
		admin.POST("/mint", write, ledgerHandler.Mint)
		admin.POST("/deposits", write, ledgerHandler.Deposit)
		admin.GET("/issuance-requests", read, issuanceHandler.ListAllPending)
		admin.POST("/issuance-requests/:id/review", write, issuanceHandler.Review)
		admin.GET("/project-submissions", read, projectHandler.ListAllPending)
		admin.POST("/project-submissions/:id/review", write, projectHandler.Review)
		admin.GET("/events", read, ledgerHandler.Events)
		admin.GET("/verify", read, ledgerHandler.Verify)
	}

	return r
}
