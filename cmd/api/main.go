package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"carbon-ledger/config"
	httpHandler "carbon-ledger/internal/adapter/http/handler"
	"carbon-ledger/internal/adapter/messaging/rabbitmq"
	"carbon-ledger/internal/adapter/metrics"
	"carbon-ledger/internal/adapter/storage/memory"
	pgStorage "carbon-ledger/internal/adapter/storage/postgres"
	redisStorage "carbon-ledger/internal/adapter/storage/redis"
	"carbon-ledger/internal/core/domain"
	"carbon-ledger/internal/core/ports"
	"carbon-ledger/internal/service"
	"carbon-ledger/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// backend bundles the repositories of one storage driver.
type backend struct {
	identities ports.IdentityRepository
	balances   ports.BalanceRepository
	supplies   ports.SupplyRepository
	issuance   ports.ReviewRequestRepository
	projects   ports.ReviewRequestRepository
	campaigns  ports.CampaignRepository
	certs      ports.CertificateRepository
	events     ports.LedgerEventRepository
	transactor ports.DBTransactor
	health     ports.HealthChecker
	close      func()
}

func openBackend(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*backend, error) {
	if cfg.Storage.Driver == config.DriverMemory {
		log.Warn().Msg("Using the in-memory store; state is lost on exit")
		store := memory.NewStore()
		return &backend{
			identities: store.Identities(),
			balances:   store.Balances(),
			supplies:   store.Supplies(),
			issuance:   store.IssuanceRequests(),
			projects:   store.ProjectSubmissions(),
			campaigns:  store.Campaigns(),
			certs:      store.Certificates(),
			events:     store.Events(),
			transactor: store,
			health:     store,
			close:      func() {},
		}, nil
	}

	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if cfg.Database.AutoMigrate {
		if err := pgStorage.Migrate(ctx, pool, log); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrating: %w", err)
		}
	}
	log.Info().Msg("PostgreSQL connected")

	return &backend{
		identities: pgStorage.NewIdentityRepo(pool),
		balances:   pgStorage.NewBalanceRepo(pool),
		supplies:   pgStorage.NewSupplyRepo(pool),
		issuance:   pgStorage.NewIssuanceRequestRepo(pool),
		projects:   pgStorage.NewProjectSubmissionRepo(pool),
		campaigns:  pgStorage.NewCampaignRepo(pool),
		certs:      pgStorage.NewCertificateRepo(pool),
		events:     pgStorage.NewEventRepo(pool),
		transactor: pgStorage.NewTransactor(pool),
		health:     pgStorage.NewHealthCheck(pool),
		close:      pool.Close,
	}, nil
}

func main() {
	// Load configuration
	cfg, err := config.Load(os.Getenv("CCL_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)
	gin.SetMode(cfg.Server.Mode)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Str("storage", cfg.Storage.Driver).
		Int("port", cfg.Server.Port).
		Msg("Starting carbon credit ledger")

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("Ledger stopped with error")
	}
	log.Info().Msg("Server exited")
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer store.close()
	healthCheckers := []ports.HealthChecker{store.health}

	// Redis: idempotency fast path and rate limiting
	var cache ports.IdempotencyCache = redisStorage.NoopIdempotencyCache{}
	var rateLimitStore *redisStorage.RateLimitStore
	if cfg.Redis.Enabled {
		rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer rdb.Close()
		cache = redisStorage.NewIdempotencyCache(rdb)
		rateLimitStore = redisStorage.NewRateLimitStore(rdb)
		healthCheckers = append(healthCheckers, redisStorage.NewHealthCheck(rdb))
	} else {
		log.Warn().Msg("Redis disabled: no idempotency cache, no rate limiting")
	}

	// Committed events go to RabbitMQ, or to the log when messaging is off.
	var publisher ports.EventPublisher = rabbitmq.NewLogPublisher(log)
	if cfg.Messaging.Enabled {
		conn, err := rabbitmq.Dial(ctx, cfg.Messaging.URL, 5, log)
		if err != nil {
			return fmt.Errorf("connecting to rabbitmq: %w", err)
		}
		defer conn.Close()
		pub, err := rabbitmq.NewPublisher(rabbitmq.ConnectionOpener(conn), cfg.Messaging.Exchange, log)
		if err != nil {
			return fmt.Errorf("declaring exchange: %w", err)
		}
		defer pub.Close()
		publisher = pub
	}

	// A nil *Metrics records nothing and keeps /metrics unrouted.
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(prometheus.NewRegistry())
	}

	book := service.NewBook(service.BookDeps{
		Identities: store.identities,
		Balances:   store.balances,
		Supply:     store.supplies,
		Events:     store.events,
		Transactor: store.transactor,
		Cache:      cache,
		Metrics:    m,
	}, cfg.Ledger.AdminID, log)

	identitySvc := service.NewIdentityService(book, cfg.Ledger.AdminHandle)
	if err := identitySvc.EnsureAdmin(ctx); err != nil {
		return fmt.Errorf("registering administrator: %w", err)
	}

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		Identities:     identitySvc,
		Ledger:         service.NewLedgerService(book),
		Issuance:       service.NewIssuanceService(book, store.issuance),
		Projects:       service.NewProjectReviewService(book, store.projects),
		Funding:        service.NewFundingService(book, store.campaigns, domain.OverfundingPolicy(cfg.Funding.OverfundingPolicy)),
		Market:         service.NewMarketplaceService(book, store.certs),
		TokenSvc:       service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer),
		RateLimitStore: rateLimitStore,
		HealthCheckers: healthCheckers,
		Metrics:        m,
		Logger:         log,
	})

	relay := service.NewEventRelay(store.events, publisher, m,
		cfg.Messaging.RelayInterval, cfg.Messaging.BatchSize, log)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return relay.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
