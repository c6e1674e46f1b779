package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"carbon-ledger/internal/adapter/http/handler"
	"carbon-ledger/internal/adapter/metrics"
	"carbon-ledger/internal/adapter/storage/memory"
	redisStore "carbon-ledger/internal/adapter/storage/redis"
	"carbon-ledger/internal/core/domain"
	"carbon-ledger/internal/core/ports"
	"carbon-ledger/internal/service"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	admin = "0xD1220A0cf47c7B9Be7A2E6BA89F429762e7b9aDb"
	alice = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	bob   = "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"
)

type apiEnv struct {
	router *gin.Engine
	tokens ports.TokenService
	redis  *miniredis.Miniredis
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.NewStore()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	m := metrics.New(prometheus.NewRegistry())
	log := zerolog.Nop()

	book := service.NewBook(service.BookDeps{
		Identities: store.Identities(),
		Balances:   store.Balances(),
		Supply:     store.Supplies(),
		Events:     store.Events(),
		Transactor: store,
		Cache:      redisStore.NewIdempotencyCache(client),
		Metrics:    m,
	}, admin, log)
	identities := service.NewIdentityService(book, "registry")
	require.NoError(t, identities.EnsureAdmin(context.Background()))

	tokens := service.NewJWTTokenService("router-test-secret-0123456789abcdef", time.Hour, "carbon-ledger")
	router := handler.SetupRouter(handler.RouterDeps{
		Identities:     identities,
		Ledger:         service.NewLedgerService(book),
		Issuance:       service.NewIssuanceService(book, store.IssuanceRequests()),
		Projects:       service.NewProjectReviewService(book, store.ProjectSubmissions()),
		Funding:        service.NewFundingService(book, store.Campaigns(), domain.OverfundingCap),
		Market:         service.NewMarketplaceService(book, store.Certificates()),
		TokenSvc:       tokens,
		RateLimitStore: redisStore.NewRateLimitStore(client),
		HealthCheckers: []ports.HealthChecker{store, redisStore.NewHealthCheck(client)},
		Metrics:        m,
		Logger:         log,
	})
	return &apiEnv{router: router, tokens: tokens, redis: mr}
}

type apiResponse struct {
	Code      int
	Data      json.RawMessage `json:"data"`
	ErrorCode string          `json:"error_code"`
	RequestID string          `json:"request_id"`
}

func (e *apiEnv) do(t *testing.T, as, method, path string, body any) apiResponse {
	t.Helper()
	var raw []byte
	if body != nil {
		var err error
		raw, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if as != "" {
		token, _, err := e.tokens.Generate(as)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)

	resp := apiResponse{Code: w.Code}
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	}
	return resp
}

func (r apiResponse) decode(t *testing.T, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(r.Data, v), string(r.Data))
}

func (e *apiEnv) register(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		resp := e.do(t, id, http.MethodPost, "/api/v1/identities", map[string]string{"handle": "user-" + id[2:8]})
		require.Equal(t, http.StatusCreated, resp.Code, resp.ErrorCode)
	}
}

func (e *apiEnv) balanceOf(t *testing.T, id string, asset domain.Asset) string {
	t.Helper()
	resp := e.do(t, id, http.MethodGet, "/api/v1/ledger/balances", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var body struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Amount string `json:"amount"`
		} `json:"balances"`
	}
	resp.decode(t, &body)
	for _, b := range body.Balances {
		if b.Asset == string(asset) {
			return b.Amount
		}
	}
	return "0"
}

func TestRouter_RequiresToken(t *testing.T) {
	env := newAPIEnv(t)

	resp := env.do(t, "", http.MethodGet, "/api/v1/identities/me", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Equal(t, "AUTH_001", resp.ErrorCode)
	assert.NotEmpty(t, resp.RequestID)
}

func TestRouter_HealthAndMetrics(t *testing.T) {
	env := newAPIEnv(t)

	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"memory"`)

	env.register(t, alice)

	w = httptest.NewRecorder()
	env.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/api/v1/identities")
}

func TestRouter_UnregisteredCallerIsRejected(t *testing.T) {
	env := newAPIEnv(t)

	resp := env.do(t, alice, http.MethodGet, "/api/v1/identities/me", nil)
	assert.Equal(t, http.StatusForbidden, resp.Code)
	assert.Equal(t, "IDN_001", resp.ErrorCode)

	env.register(t, alice)
	resp = env.do(t, alice, http.MethodGet, "/api/v1/identities/me", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var me domain.Identity
	resp.decode(t, &me)
	assert.Equal(t, alice, me.ID)
	assert.False(t, me.IsAdmin)

	resp = env.do(t, alice, http.MethodPost, "/api/v1/identities", map[string]string{"handle": "again"})
	assert.Equal(t, "IDN_002", resp.ErrorCode)
}

func TestRouter_IssuanceTransferAndRetire(t *testing.T) {
	env := newAPIEnv(t)
	env.register(t, alice, bob)

	resp := env.do(t, alice, http.MethodPost, "/api/v1/issuance-requests", map[string]string{"evidence_ref": "ipfs://bafy-audit-2026"})
	require.Equal(t, http.StatusCreated, resp.Code, resp.ErrorCode)
	var req domain.ReviewRequest
	resp.decode(t, &req)
	assert.Equal(t, domain.RequestStatusPending, req.Status)

	// Only the administrator sees the queue and decides.
	resp = env.do(t, alice, http.MethodGet, "/api/v1/admin/issuance-requests", nil)
	assert.Equal(t, "IDN_004", resp.ErrorCode)

	reviewPath := fmt.Sprintf("/api/v1/admin/issuance-requests/%d/review", req.ID)
	resp = env.do(t, admin, http.MethodPost, reviewPath, map[string]string{"decision": "approve", "amount": "1000"})
	require.Equal(t, http.StatusOK, resp.Code, resp.ErrorCode)

	resp = env.do(t, admin, http.MethodPost, reviewPath, map[string]string{"decision": "reject"})
	assert.Equal(t, "WFL_001", resp.ErrorCode)
	assert.Equal(t, "1000", env.balanceOf(t, alice, domain.AssetCarbon))

	transfer := map[string]string{"to": bob, "amount": "300", "reference": "invoice-17"}
	resp = env.do(t, alice, http.MethodPost, "/api/v1/ledger/transfers", transfer)
	require.Equal(t, http.StatusCreated, resp.Code, resp.ErrorCode)
	var first domain.LedgerEvent
	resp.decode(t, &first)

	// A retried reference returns the original event without moving funds again.
	resp = env.do(t, alice, http.MethodPost, "/api/v1/ledger/transfers", transfer)
	require.Equal(t, http.StatusCreated, resp.Code, resp.ErrorCode)
	var replay domain.LedgerEvent
	resp.decode(t, &replay)
	assert.Equal(t, first.Seq, replay.Seq)
	assert.Equal(t, "700", env.balanceOf(t, alice, domain.AssetCarbon))
	assert.Equal(t, "300", env.balanceOf(t, bob, domain.AssetCarbon))

	resp = env.do(t, alice, http.MethodPost, "/api/v1/ledger/transfers", map[string]string{"to": bob, "amount": "5000"})
	assert.Equal(t, http.StatusPaymentRequired, resp.Code)
	assert.Equal(t, "LED_001", resp.ErrorCode)

	resp = env.do(t, bob, http.MethodPost, "/api/v1/ledger/retirements", map[string]string{"amount": "100"})
	require.Equal(t, http.StatusCreated, resp.Code, resp.ErrorCode)

	resp = env.do(t, bob, http.MethodGet, "/api/v1/ledger/supply/carb", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var supply map[string]string
	resp.decode(t, &supply)
	assert.Equal(t, "1000", supply["minted"])
	assert.Equal(t, "100", supply["burned"])
	assert.Equal(t, "900", supply["circulating"])

	resp = env.do(t, admin, http.MethodGet, "/api/v1/admin/verify", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var report domain.VerifyReport
	resp.decode(t, &report)
	assert.True(t, report.OK(), "problems: %v", report.Problems)
}

func TestRouter_FundingCampaign(t *testing.T) {
	env := newAPIEnv(t)
	env.register(t, alice, bob)

	resp := env.do(t, admin, http.MethodPost, "/api/v1/admin/mint", map[string]string{"to": bob, "amount": "2000"})
	require.Equal(t, http.StatusCreated, resp.Code, resp.ErrorCode)

	resp = env.do(t, alice, http.MethodPost, "/api/v1/campaigns", map[string]string{
		"name":          "Mangrove restoration",
		"website":       "https://mangroves.example.org",
		"target_amount": "1000",
	})
	require.Equal(t, http.StatusCreated, resp.Code, resp.ErrorCode)
	var campaign domain.Campaign
	resp.decode(t, &campaign)

	donate := fmt.Sprintf("/api/v1/campaigns/%d/donations", campaign.ID)
	resp = env.do(t, alice, http.MethodPost, donate, map[string]string{"amount": "10"})
	assert.Equal(t, "FND_003", resp.ErrorCode)

	resp = env.do(t, bob, http.MethodPost, donate, map[string]string{"amount": "1200"})
	require.Equal(t, http.StatusCreated, resp.Code, resp.ErrorCode)
	var receipt domain.DonationReceipt
	resp.decode(t, &receipt)
	assert.Equal(t, "1000", receipt.Donation.Amount.String())
	assert.False(t, receipt.Campaign.IsActive)

	resp = env.do(t, bob, http.MethodPost, donate, map[string]string{"amount": "1"})
	assert.Equal(t, "FND_001", resp.ErrorCode)

	resp = env.do(t, bob, http.MethodGet, donate, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var trail struct {
		Total     string            `json:"total"`
		Donations []domain.Donation `json:"donations"`
	}
	resp.decode(t, &trail)
	assert.Equal(t, "1000", trail.Total)
	assert.Len(t, trail.Donations, 1)
	assert.Equal(t, "1000", env.balanceOf(t, alice, domain.AssetCarbon))
}

func TestRouter_Marketplace(t *testing.T) {
	env := newAPIEnv(t)
	env.register(t, alice, bob)

	resp := env.do(t, admin, http.MethodPost, "/api/v1/admin/deposits", map[string]string{"to": bob, "amount": "80"})
	require.Equal(t, http.StatusCreated, resp.Code, resp.ErrorCode)

	resp = env.do(t, alice, http.MethodPost, "/api/v1/certificates", map[string]string{
		"name":  "Peatland block 7",
		"price": "50",
	})
	require.Equal(t, http.StatusCreated, resp.Code, resp.ErrorCode)
	var cert domain.Certificate
	resp.decode(t, &cert)
	assert.True(t, cert.Listed)

	buy := fmt.Sprintf("/api/v1/certificates/%d/purchase", cert.ID)
	resp = env.do(t, bob, http.MethodPost, buy, map[string]string{"payment": "40"})
	assert.Equal(t, "MKT_002", resp.ErrorCode)

	resp = env.do(t, bob, http.MethodPost, buy, map[string]string{"payment": "50"})
	require.Equal(t, http.StatusCreated, resp.Code, resp.ErrorCode)
	var sale domain.Sale
	resp.decode(t, &sale)
	assert.Equal(t, bob, sale.Certificate.Owner)

	assert.Equal(t, "30", env.balanceOf(t, bob, domain.AssetBase))
	assert.Equal(t, "50", env.balanceOf(t, alice, domain.AssetBase))

	listing := fmt.Sprintf("/api/v1/certificates/%d/listing", cert.ID)
	resp = env.do(t, alice, http.MethodPut, listing, map[string]any{"price": "70", "listed": true})
	assert.Equal(t, "MKT_005", resp.ErrorCode)

	resp = env.do(t, bob, http.MethodGet, "/api/v1/certificates/mine", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	var mine struct {
		Count int `json:"count"`
	}
	resp.decode(t, &mine)
	assert.Equal(t, 1, mine.Count)
}

func TestRouter_RegisterRateLimitedPerIdentity(t *testing.T) {
	env := newAPIEnv(t)

	// The register group allows five attempts per hour for one identity.
	for i := 0; i < 5; i++ {
		env.do(t, alice, http.MethodPost, "/api/v1/identities", map[string]string{"handle": "alice"})
	}
	resp := env.do(t, alice, http.MethodPost, "/api/v1/identities", map[string]string{"handle": "alice"})
	assert.Equal(t, http.StatusTooManyRequests, resp.Code)
	assert.Equal(t, "RATE_001", resp.ErrorCode)

	resp = env.do(t, bob, http.MethodPost, "/api/v1/identities", map[string]string{"handle": "bob"})
	assert.Equal(t, http.StatusCreated, resp.Code)
}

// TestRouter_ConcurrentTransfersNeverOverdraw fires more transfers than the
// balance covers; exactly the affordable ones succeed.
func TestRouter_ConcurrentTransfersNeverOverdraw(t *testing.T) {
	env := newAPIEnv(t)
	env.register(t, alice, bob)

	resp := env.do(t, admin, http.MethodPost, "/api/v1/admin/mint", map[string]string{"to": alice, "amount": "100"})
	require.Equal(t, http.StatusCreated, resp.Code, resp.ErrorCode)

	const workers = 25
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		statuses = map[int]int{}
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r := env.do(t, alice, http.MethodPost, "/api/v1/ledger/transfers", map[string]string{
				"to":        bob,
				"amount":    "10",
				"reference": fmt.Sprintf("batch-%d", i),
			})
			mu.Lock()
			statuses[r.Code]++
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, statuses[http.StatusCreated])
	assert.Equal(t, workers-10, statuses[http.StatusPaymentRequired])
	assert.Equal(t, "0", env.balanceOf(t, alice, domain.AssetCarbon))
	assert.Equal(t, "100", env.balanceOf(t, bob, domain.AssetCarbon))
}
