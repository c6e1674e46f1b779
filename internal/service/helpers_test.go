package service

import (
	"context"
	"testing"

	"carbon-ledger/internal/adapter/metrics"
	"carbon-ledger/internal/adapter/storage/memory"
	"carbon-ledger/internal/adapter/storage/redis"
	"carbon-ledger/internal/core/domain"
	"carbon-ledger/pkg/apperror"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// EIP-55 checksummed test accounts.
const (
	admin = "0xD1220A0cf47c7B9Be7A2E6BA89F429762e7b9aDb"
	alice = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	bob   = "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359"
	carol = "0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// mockTx implements pgx.Tx for testing
type mockTx struct{ pgx.Tx }

func (m *mockTx) Rollback(_ context.Context) error { return nil }
func (m *mockTx) Commit(_ context.Context) error   { return nil }

// ledgerEnv wires every service on the memory store with a miniredis cache.
type ledgerEnv struct {
	store    *memory.Store
	redis    *miniredis.Miniredis
	metrics  *metrics.Metrics
	book     *Book
	identity *IdentityServiceImpl
	ledger   *LedgerServiceImpl
	issuance *ReviewServiceImpl
	projects *ReviewServiceImpl
	funding  *FundingServiceImpl
	market   *MarketplaceServiceImpl
}

func newLedgerEnv(t *testing.T, policy domain.OverfundingPolicy) *ledgerEnv {
	t.Helper()
	store := memory.NewStore()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	m := metrics.New(prometheus.NewRegistry())

	book := NewBook(BookDeps{
		Identities: store.Identities(),
		Balances:   store.Balances(),
		Supply:     store.Supplies(),
		Events:     store.Events(),
		Transactor: store,
		Cache:      redis.NewIdempotencyCache(client),
		Metrics:    m,
	}, admin, zerolog.Nop())

	e := &ledgerEnv{
		store:    store,
		redis:    mr,
		metrics:  m,
		book:     book,
		identity: NewIdentityService(book, "admin"),
		ledger:   NewLedgerService(book),
		issuance: NewIssuanceService(book, store.IssuanceRequests()),
		projects: NewProjectReviewService(book, store.ProjectSubmissions()),
		funding:  NewFundingService(book, store.Campaigns(), policy),
		market:   NewMarketplaceService(book, store.Certificates()),
	}
	require.NoError(t, e.identity.EnsureAdmin(context.Background()))
	return e
}

func (e *ledgerEnv) register(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, err := e.identity.Register(context.Background(), id, "user-"+id[2:8])
		require.NoError(t, err)
	}
}

func (e *ledgerEnv) mint(t *testing.T, to, amount string) {
	t.Helper()
	_, err := e.ledger.Mint(context.Background(), admin, to, dec(amount))
	require.NoError(t, err)
}

func (e *ledgerEnv) deposit(t *testing.T, to, amount string) {
	t.Helper()
	_, err := e.ledger.Deposit(context.Background(), admin, to, dec(amount))
	require.NoError(t, err)
}

func (e *ledgerEnv) balance(t *testing.T, id string, asset domain.Asset) string {
	t.Helper()
	b, err := e.ledger.BalanceOf(context.Background(), id, asset)
	require.NoError(t, err)
	return b.String()
}

// verified asserts that the chain replays to the stored state.
func (e *ledgerEnv) verified(t *testing.T) *domain.VerifyReport {
	t.Helper()
	report, err := e.ledger.Verify(context.Background(), admin)
	require.NoError(t, err)
	assert.True(t, report.OK(), "problems: %v", report.Problems)
	return report
}

func assertAppError(t *testing.T, err error, expectedCode string) {
	t.Helper()
	var appErr *apperror.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, expectedCode, appErr.Code)
}
