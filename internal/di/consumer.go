package di

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pannpers/go-logging/logging"

	"github.com/ticketcore/scancore/internal/adapter/event"
	"github.com/ticketcore/scancore/internal/infrastructure/callback"
	"github.com/ticketcore/scancore/internal/infrastructure/chain"
	"github.com/ticketcore/scancore/internal/infrastructure/database/rdb"
	"github.com/ticketcore/scancore/internal/infrastructure/dlq"
	"github.com/ticketcore/scancore/internal/infrastructure/messaging"
	"github.com/ticketcore/scancore/internal/infrastructure/metadata"
	"github.com/ticketcore/scancore/internal/infrastructure/resilience"
	"github.com/ticketcore/scancore/internal/infrastructure/server"
	"github.com/ticketcore/scancore/internal/infrastructure/telemetry"
	"github.com/ticketcore/scancore/internal/infrastructure/vault"
	"github.com/ticketcore/scancore/internal/usecase"
	"github.com/ticketcore/scancore/pkg/config"
)

// ConsumerApp represents the event consumer process: a Watermill Router
// driving the Sync Consumer against event.blockchain_sync_requested, the
// Mint Orchestrator it invokes, and the DLQ processor retrying failed
// mints.
type ConsumerApp struct {
	Router       *message.Router
	HealthServer *server.HealthServer
	Logger       *logging.Logger
	closers      []io.Closer
}

// Shutdown closes every resource the consumer app opened, in registration
// order, joining any errors rather than stopping at the first.
func (a *ConsumerApp) Shutdown(ctx context.Context) error {
	a.Logger.Info(ctx, "starting consumer shutdown")

	var errs error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = errors.Join(errs, fmt.Errorf("close resource: %w", err))
		}
	}
	if errs != nil {
		return errs
	}
	a.Logger.Info(ctx, "consumer shutdown complete")
	return nil
}

// InitializeConsumerApp wires the event.blockchain_sync_requested consumer
// process: database, KV stores, the Chain Adapter, the Custodial Key
// Vault, the Mint Orchestrator, the DLQ processor, and the Watermill
// router dispatching to SyncConsumer and PoisonHandler.
func InitializeConsumerApp(ctx context.Context) (*ConsumerApp, error) {
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

	registerMetrics()

	tracing, err := telemetry.InitTracing(ctx, cfg.Telemetry.OTLPEndpoint, cfg.Telemetry.ServiceName, cfg.Telemetry.ServiceVersion)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	db, err := rdb.New(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	txRunner := rdb.NewTxRunner(db)
	tickets := rdb.NewTicketRepository(db)
	wallets := rdb.NewWalletRepository(db)
	blockchainTxs := rdb.NewBlockchainTxRepository(db)
	dlqRepo := rdb.NewDLQRepository(db)
	events := rdb.NewEventRepository(db)

	_, idempotencyStore, recoveryStore, lock := provideKV(cfg, logger)

	chainPool, err := chain.DialPool(ctx, logger, cfg.Chain.RPCEndpoints, cfg.Chain.ProbeInterval)
	if err != nil {
		return nil, fmt.Errorf("dial chain RPC pool: %w", err)
	}
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

	mintUC := usecase.NewMintUseCase(tickets, blockchainTxs, wallets, signer, chainAdapter, metadataUploader, txRunner, lock, idempotencyStore, recoveryStore, dlqRepo, logger)

	dlqRetrier := dlq.NewMintRetrier(func(ctx context.Context, ticketID, tenantID, idempotencyKey string) error {
		_, err := mintUC.Mint(ctx, ticketID, tenantID, idempotencyKey)
		return err
	})
	dlqProcessor := dlq.NewProcessor(dlqRepo, dlqRetrier, logger)
	dlqProcessor.Start(ctx)

	wmLogger := watermill.NewStdLogger(false, false)
	var goChannel *gochannel.GoChannel
	if cfg.NATS.URL == "" {
		goChannel = gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: 256}, wmLogger)
	}

	publisher, err := messaging.NewPublisher(cfg.NATS, wmLogger, goChannel)
	if err != nil {
		return nil, fmt.Errorf("create messaging publisher: %w", err)
	}
	subscriber, err := messaging.NewSubscriber(cfg.NATS, wmLogger, goChannel)
	if err != nil {
		return nil, fmt.Errorf("create messaging subscriber: %w", err)
	}

	router, err := messaging.NewRouter(wmLogger, publisher, cfg.NATS.PoisonQueueTopic)
	if err != nil {
		return nil, fmt.Errorf("create messaging router: %w", err)
	}

	authn := resilience.NewInternalAuthenticator([]byte(cfg.Secrets.InternalServiceSecret), cfg.EventService.AllowedCallerServices)
	callbackBreaker := resilience.NewBreaker("event-service-callback", resilience.DefaultBreakerParams())
	statusCallback := callback.NewHTTPCallback(cfg.EventService.BaseURL, http.DefaultClient, authn, callbackBreaker)

	syncConsumer := event.NewSyncConsumer(events, mintUC, logger)
	poisonHandler := event.NewPoisonHandler(statusCallback, logger)

	router.AddNoPublisherHandler(
		"blockchain-sync-requested",
		cfg.NATS.BlockchainSyncTopic,
		subscriber,
		syncConsumer.Handle,
	)
	router.AddNoPublisherHandler(
		"blockchain-sync-requested-poison",
		cfg.NATS.PoisonQueueTopic,
		subscriber,
		poisonHandler.Handle,
	)

	healthServer := server.NewHealthServer(fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port+1))

	closers := []io.Closer{db, publisher, chainPool, processorCloser{dlqProcessor}, healthServerCloser{healthServer}}
	if tracing != nil {
		closers = append(closers, tracing)
	}

	return &ConsumerApp{
		Router:       router,
		HealthServer: healthServer,
		Logger:       logger,
		closers:      closers,
	}, nil
}

// healthServerCloser adapts HealthServer's Close to io.Closer for the
// consumer app's shutdown sequence (rdb.New already returns an io.Closer
// shaped Database, unlike the API process which uses the shutdown
// package's phased registry).
type healthServerCloser struct{ h *server.HealthServer }

func (c healthServerCloser) Close() error { return c.h.Close() }
