package di

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/go-chi/chi/v5"
	"github.com/pannpers/go-logging/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	scanhttp "github.com/ticketcore/scancore/internal/adapter/http"
	"github.com/ticketcore/scancore/internal/entity"
	"github.com/ticketcore/scancore/internal/infrastructure/auth"
	"github.com/ticketcore/scancore/internal/infrastructure/chain"
	"github.com/ticketcore/scancore/internal/infrastructure/database/rdb"
	"github.com/ticketcore/scancore/internal/infrastructure/dlq"
	"github.com/ticketcore/scancore/internal/infrastructure/kv"
	"github.com/ticketcore/scancore/internal/infrastructure/metadata"
	"github.com/ticketcore/scancore/internal/infrastructure/resilience"
	"github.com/ticketcore/scancore/internal/infrastructure/server"
	"github.com/ticketcore/scancore/internal/infrastructure/telemetry"
	"github.com/ticketcore/scancore/internal/infrastructure/treasury"
	"github.com/ticketcore/scancore/internal/infrastructure/vault"
	"github.com/ticketcore/scancore/internal/usecase"
	"github.com/ticketcore/scancore/pkg/config"
	"github.com/ticketcore/scancore/pkg/shutdown"
)

// kvMemorySweepInterval bounds the background sweep goroutine the
// in-memory KV fallback runs. Redis expires keys on its own; this only
// applies to the MemoryStore path.
const kvMemorySweepInterval = time.Minute

// registerMetrics installs this module's collectors into the default
// Prometheus registry exactly once per process, whichever entry point
// (API or consumer) initializes first.
var registerMetrics = sync.OnceFunc(func() {
	prometheus.MustRegister(telemetry.All()...)
})

// InitializeApp creates a new App with all dependencies wired up manually:
// config, database, KV stores, the Chain Adapter, the Custodial Key
// Vault, every repository, the four usecases, and the HTTP surface that
// serves /scan, /offline/manifest, and /mint.
func InitializeApp(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	logger, err := provideLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	shutdown.Init(logger)
	registerMetrics()

	tracing, err := telemetry.InitTracing(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName, cfg.Telemetry.ServiceVersion)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	if tracing != nil {
		shutdown.AddObservePhase(tracing)
	}

	db, err := rdb.New(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	shutdown.AddDatastorePhase(db)

	if err := rdb.RunMigrations(ctx, cfg, logger); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	txRunner := rdb.NewTxRunner(db)

	tickets := rdb.NewTicketRepository(db)
	devices := rdb.NewDeviceRepository(db)
	scanEvents := rdb.NewScanEventRepository(db)
	securityEvents := rdb.NewSecurityEventRepository(db)
	policies := rdb.NewPolicyRepository(db)
	shutdown.AddDatastorePhase(policies)
	events := rdb.NewEventRepository(db)
	wallets := rdb.NewWalletRepository(db)
	blockchainTxs := rdb.NewBlockchainTxRepository(db)
	dlqRepo := rdb.NewDLQRepository(db)
	findings := rdb.NewFindingRepository(db)

	nonceStore, idempotencyStore, recoveryStore, lock := provideKV(cfg, logger)

	chainPool, err := chain.DialPool(ctx, logger, cfg.Chain.RPCEndpoints, cfg.Chain.ProbeInterval)
	if err != nil {
		return nil, fmt.Errorf("dial chain RPC pool: %w", err)
	}
	shutdown.AddDrainPhase(chainPool)
	chainBreaker := resilience.NewBreaker("chain-adapter", resilience.DefaultBreakerParams())
	chainAdapter := provideGuardedChain(cfg, db, chain.NewAdapter(chainPool, chainBreaker, logger), logger)

	kmsClient, err := provideKMSClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create KMS client: %w", err)
	}
	kmsBreaker := resilience.NewBreaker("kms", resilience.DefaultBreakerParams())
	signer := vault.NewVault(kmsClient, cfg.Vault.KMSKeyID, wallets, kmsBreaker, logger)

	metadataUploader, err := metadata.New(ctx, metadata.Config{
		Bucket:   cfg.Metadata.Bucket,
		Region:   cfg.Vault.Region,
		Endpoint: cfg.Metadata.Endpoint,
		Prefix:   cfg.Metadata.Prefix,
	})
	if err != nil {
		return nil, fmt.Errorf("create metadata uploader: %w", err)
	}

	scanUC := usecase.NewScanUseCase(tickets, devices, scanEvents, securityEvents, policies, events, nonceStore, txRunner, logger)
	manifestUC := usecase.NewManifestUseCase(tickets, events, devices, []byte(cfg.Secrets.HMACSecret), logger)
	mintUC := usecase.NewMintUseCase(tickets, blockchainTxs, wallets, signer, chainAdapter, metadataUploader, txRunner, lock, idempotencyStore, recoveryStore, dlqRepo, logger)
	anomalyUC := usecase.NewAnomalyUseCase(scanEvents, findings, txRunner, logger)

	mintRetrier := dlq.NewMintRetrier(func(ctx context.Context, ticketID, tenantID, idempotencyKey string) error {
		_, err := mintUC.Mint(ctx, ticketID, tenantID, idempotencyKey)
		return err
	})
	dlqProcessor := dlq.NewProcessor(dlqRepo, mintRetrier, logger)
	dlqProcessor.Start(ctx)
	shutdown.AddFlushPhase(processorCloser{dlqProcessor})

	jwtValidator, err := auth.NewJWTValidator(cfg.JWT.Issuer, cfg.JWT.JWKSURL, cfg.JWT.JWKSRefreshInterval)
	if err != nil {
		return nil, fmt.Errorf("create JWT validator: %w", err)
	}

	scanBulkhead := resilience.NewBulkhead(resilience.BulkheadQuery, resilience.DefaultBulkheadCapacities()[resilience.BulkheadQuery])
	mintBulkhead := resilience.NewBulkhead(resilience.BulkheadMint, resilience.DefaultBulkheadCapacities()[resilience.BulkheadMint])

	handler := scanhttp.NewHandler(scanUC, manifestUC, mintUC, anomalyUC, scanBulkhead, mintBulkhead, logger)

	router := chi.NewRouter()
	router.Group(func(r chi.Router) {
		r.Use(scanhttp.BearerAuth(jwtValidator))
		handler.Mount(r)
	})
	corsHandler := server.NewCORSHandler(router, &cfg.Server)

	httpServer := server.NewServer(cfg, logger, corsHandler)
	shutdown.AddDrainPhase(serverCloser{httpServer})

	healthAddr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port+1))
	healthServer := server.NewHealthServer(healthAddr)
	go func() {
		if err := healthServer.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, "health server exited", err)
		}
	}()

	go func() {
		if err := httpServer.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error(ctx, "http server exited", err)
		}
	}()

	return &App{
		Server:          httpServer,
		HealthServer:    healthServer,
		Logger:          logger,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}, nil
}

// provideKV builds the NonceStore, IdempotencyStore, RecoveryStore and
// Lock over Redis when configured, falling back to the in-process
// MemoryStore in local development. Degraded wrapping (primary Redis,
// fallback memory) is only ever applied to the three KV-store
// collaborators that may tolerate a stale/lost entry; Lock is built
// directly over the primary store so an outage fails mint acquisition
// closed instead of silently granting two concurrent holders.
func provideKV(cfg *config.Config, logger *logging.Logger) (*kv.NonceStore, entity.IdempotencyStore, entity.RecoveryStore, *kv.Lock) {
	memory := kv.NewMemoryStore(kvMemorySweepInterval)

	var primary kv.Store = memory
	lockStore := memory

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		redisStore := kv.NewRedisStore(client)
		primary = kv.NewDegraded(redisStore, memory, func(err error) {
			logger.Warn(context.Background(), "KV store degraded to memory fallback", slog.Any("error", err))
		})
		return kv.NewNonceStore(primary), kv.NewIdempotencyStore(primary), kv.NewRecoveryStore(primary), kv.NewLock(redisStore)
	}

	return kv.NewNonceStore(primary), kv.NewIdempotencyStore(primary), kv.NewRecoveryStore(primary), kv.NewLock(lockStore)
}

// provideGuardedChain wraps the raw Chain Adapter in the Treasury Guard:
// destination whitelist on transfers, fee-drain monitoring on every
// submission, de-duplicated alerting to the configured webhook.
func provideGuardedChain(cfg *config.Config, db *rdb.Database, inner entity.ChainAdapter, logger *logging.Logger) entity.ChainAdapter {
	var dispatcher entity.AlertDispatcher = treasury.NewLogDispatcher(logger)
	if cfg.Treasury.AlertWebhookURL != "" {
		dispatcher = treasury.NewSlackDispatcher(cfg.Treasury.AlertWebhookURL)
	}

	thresholds := entity.TreasuryThresholds{
		BalanceWarning:  cfg.Treasury.BalanceWarning,
		BalanceCritical: cfg.Treasury.BalanceCritical,
		SingleTxWarning: cfg.Treasury.SingleTxWarning,
		DrainCritical1h: cfg.Treasury.DrainCritical1h,
	}

	monitor := treasury.NewMonitor(
		rdb.NewTreasuryRepository(db),
		dispatcher,
		thresholds,
		cfg.Treasury.WhitelistedDestinations,
		logger,
	)
	return treasury.NewGuardedAdapter(inner, monitor, cfg.Treasury.Address, logger)
}

func provideKMSClient(ctx context.Context, cfg *config.Config) (*kms.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Vault.Region))
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return kms.NewFromConfig(awsCfg), nil
}

// serverCloser adapts server.Server's Stop to io.Closer for the shutdown
// phase registry.
type serverCloser struct{ s *server.Server }

func (c serverCloser) Close() error { return c.s.Stop() }

// processorCloser adapts dlq.Processor's Stop to io.Closer.
type processorCloser struct{ p *dlq.Processor }

func (c processorCloser) Close() error {
	c.p.Stop()
	return nil
}
