package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"

	"github.com/Checker-Finance/copytrader/internal/api"
	"github.com/Checker-Finance/copytrader/internal/background"
	"github.com/Checker-Finance/copytrader/internal/classifier"
	"github.com/Checker-Finance/copytrader/internal/config"
	"github.com/Checker-Finance/copytrader/internal/dispatch"
	"github.com/Checker-Finance/copytrader/internal/executor"
	"github.com/Checker-Finance/copytrader/internal/gatekeeper"
	"github.com/Checker-Finance/copytrader/internal/holdings"
	"github.com/Checker-Finance/copytrader/internal/ingest"
	"github.com/Checker-Finance/copytrader/internal/jobs"
	"github.com/Checker-Finance/copytrader/internal/notify"
	"github.com/Checker-Finance/copytrader/internal/publisher"
	"github.com/Checker-Finance/copytrader/internal/rate"
	internalsecrets "github.com/Checker-Finance/copytrader/internal/secrets"
	"github.com/Checker-Finance/copytrader/internal/store"
	"github.com/Checker-Finance/copytrader/internal/subscriptions"
	"github.com/Checker-Finance/copytrader/internal/swap"
	"github.com/Checker-Finance/copytrader/internal/webhooks"
	"github.com/Checker-Finance/copytrader/pkg/logger"
	"github.com/Checker-Finance/copytrader/pkg/secrets"
	"github.com/Checker-Finance/copytrader/pkg/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Load configuration ---
	cfg := config.Load()

	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	logg := logger.S()
	logg.Info("starting [copytrader]...")
	logg.Info("connection to DSN: ", utils.MaskDSN(cfg.DatabaseURL))

	rules, err := config.LoadRules(cfg.RulesFile, cfg.Rules)
	if err != nil {
		logg.Fatalw("failed to load classification rules", "file", cfg.RulesFile, "error", err)
	}
	classRules, err := classifier.NewRules(rules.PoolAddresses, rules.QuoteSymbols)
	if err != nil {
		logg.Fatalw("invalid classification rules", "error", err)
	}

	// --- Service credentials (AWS Secrets Manager or env JSON) ---
	var provider secrets.Provider = secrets.EnvProvider{}
	if cfg.UseSecretsManager {
		awsProvider, err := secrets.NewAWSProvider(ctx, cfg.AWSRegion)
		if err != nil {
			logg.Fatalw("failed to create AWS Secrets Manager provider", "error", err)
		}
		provider = awsProvider
	}
	credCache := secrets.NewCache[internalsecrets.ServiceCredentials](cfg.CacheTTL)
	stopCleaner := make(chan struct{})
	go credCache.StartCleaner(cfg.CleanupFreq, stopCleaner)
	credResolver := internalsecrets.NewResolver(logg.Desugar(), cfg.Env, provider, credCache)

	swapCreds := credResolver.Overlay(ctx, "swap", internalsecrets.ServiceCredentials{BaseURL: cfg.SwapBaseURL, APIKey: cfg.SwapAPIKey})
	notifyCreds := credResolver.Overlay(ctx, "notify", internalsecrets.ServiceCredentials{BaseURL: cfg.NotifyBaseURL, APIKey: cfg.NotifyAPIKey})
	webhookCreds := credResolver.Overlay(ctx, "webhook", internalsecrets.ServiceCredentials{SigningKey: cfg.WebhookSigningKey})
	alchemyCreds := credResolver.Overlay(ctx, "alchemy", internalsecrets.ServiceCredentials{BaseURL: cfg.AlchemyAPIBaseURL, APIKey: cfg.AlchemyAuthToken})

	// --- Stores ---
	kv, err := store.NewRedis(cfg.RedisAddr, cfg.RedisDB, cfg.RedisPass, logg.Desugar())
	if err != nil {
		logg.Fatalw("failed to connect to redis", "error", err)
	}
	pool, err := store.NewPGPool(ctx, cfg.DatabaseURL, store.PGPoolConfig{
		MaxConns:          int32(cfg.PGMaxConns),
		MinConns:          int32(cfg.PGMinConns),
		MaxConnLifetime:   cfg.PGMaxConnLifetime,
		MaxConnIdleTime:   cfg.PGMaxConnIdleTime,
		HealthCheckPeriod: cfg.PGHealthCheckPeriod,
	})
	if err != nil {
		logg.Fatalw("failed to init postgres", "error", err)
	}
	subRepo := store.NewSubscriptionRepo(pool, logger.Named("subscriptions.repo"))
	ledger := store.NewExecutionLedger(pool, logger.Named("ledger"), cfg.ServiceName)

	// --- NATS outcome publisher (optional) ---
	var (
		nc  *nats.Conn
		pub *publisher.Publisher
	)
	if cfg.NATSURL != "" {
		nc, err = nats.Connect(cfg.NATSURL, nats.Name(cfg.ServiceName))
		if err != nil {
			logg.Warnw("failed to connect to NATS; outcome events disabled", "error", err)
		} else if pub, err = publisher.New(nc, cfg.OutcomeSubject, cfg.ServiceName, logger.Named("publisher")); err != nil {
			logg.Warnw("failed to init publisher; outcome events disabled", "error", err)
			pub = nil
		}
	}

	// --- Job queue ---
	var broker dispatch.Broker
	var rabbit *dispatch.RabbitBroker
	switch cfg.QueueDriver {
	case "memory":
		broker = dispatch.NewMemoryBroker(1024)
		logg.Warn("QUEUE_DRIVER=memory: jobs are not durable across restarts")
	default:
		rabbit, err = dispatch.NewRabbitBroker(cfg.RabbitMQURL, cfg.QueueName, cfg.Workers*2, logger.Named("rabbitmq"))
		if err != nil {
			logg.Fatalw("failed to connect to rabbitmq", "error", err)
		}
		broker = rabbit
	}

	// --- Outbound clients ---
	rateMgr := rate.NewManager(rate.Config{
		RequestsPerSecond: cfg.RateLimitRPS,
		Burst:             cfg.RateLimitBurst,
	})
	httpClient := &http.Client{Timeout: cfg.SwapTimeout + 5*time.Second}
	swapClient := swap.NewClient(swap.Config{
		BaseURL:        swapCreds.BaseURL,
		APIKey:         swapCreds.APIKey,
		SwapTimeout:    cfg.SwapTimeout,
		BalanceTimeout: cfg.BalanceTimeout,
	}, httpClient, rateMgr, logger.Named("swap"))
	notifier := notify.NewDispatcher(notifyCreds.BaseURL, notifyCreds.APIKey, cfg.NotifyTimeout, httpClient, rateMgr, logger.Named("notify"))

	// --- Core components ---
	gate := gatekeeper.New(kv, cfg.DedupTTL, logger.Named("gatekeeper"))
	subResolver := subscriptions.NewResolver(subRepo, kv, cfg.SubscriptionCacheTTL, cfg.WarmConcurrency, logger.Named("subscriptions"))
	runner := background.NewRunner(logger.Named("background"))

	deps := executor.Deps{
		Swap:     swapClient,
		Holdings: holdings.New(kv),
		Alerts:   gate,
		Notifier: notifier,
		Runner:   runner,
		Ledger:   ledger,
		Spend:    subRepo,

		Subscriptions: subResolver,
	}
	if pub != nil {
		deps.Outcomes = pub
	}
	exec := executor.New(executor.Config{
		NativeToken:       rules.NativeToken,
		MaxAttempts:       cfg.MaxAttempts,
		BalanceAttempts:   cfg.BalanceAttempts,
		BalanceRetryDelay: cfg.BalanceRetryDelay,
		AlertTTL:          cfg.AlertTTL,
	}, deps, logger.Named("executor"))

	dispatcher := dispatch.New(broker, exec, dispatch.Config{
		Workers:       cfg.Workers,
		MaxAttempts:   cfg.MaxAttempts,
		BaseBackoff:   cfg.RetryBackoff,
		CompletedKeep: cfg.CompletedKeep,
		FailedKeep:    cfg.FailedKeep,
	}, logger.Named("dispatch"))
	pipeline := ingest.NewPipeline(gate, classRules, subResolver, dispatcher, logger.L())

	// --- Warm the subscription cache, then keep it warm ---
	warmed := subResolver.WarmCache(ctx)
	logg.Infow("subscription cache warmed", "wallets", warmed)

	var refreshPub jobs.EnvelopePublisher
	if pub != nil {
		refreshPub = pub
	}
	refresher := jobs.NewCacheRefresher(logger.Named("cache_refresher"), subResolver, refreshPub, cfg.CacheRefreshInterval)
	go refresher.Start(ctx)

	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		if err := dispatcher.Run(ctx); err != nil {
			logg.Errorw("dispatcher stopped", "error", err)
			stop()
		}
	}()

	// --- Fiber HTTP Server ---
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
		BodyLimit:    cfg.HTTPBodyLimit,
	})

	checks := map[string]api.HealthChecker{
		"redis":    kv,
		"postgres": api.HealthFunc(pool.Ping),
	}
	if pub != nil {
		checks["nats"] = pub
	}
	if rabbit != nil {
		checks["rabbitmq"] = rabbit
	}

	api.RegisterRoutes(app, checks,
		api.NewWebhookHandler(logger.Named("webhook"), pipeline, webhookCreds.SigningKey, cfg.WebhookSignatureHeader),
		api.NewOpsHandler(logger.Named("ops"), dispatcher, subResolver),
	)

	if alchemyCreds.APIKey != "" && cfg.AlchemyWebhookID != "" {
		alchemy := webhooks.NewClient(webhooks.ClientConfig{
			BaseURL:   alchemyCreds.BaseURL,
			AuthToken: alchemyCreds.APIKey,
			WebhookID: cfg.AlchemyWebhookID,
		}, httpClient, rateMgr, logger.Named("alchemy"))
		manager := webhooks.NewManager(kv, alchemy, logger.Named("webhooks"))
		api.RegisterAddressRoutes(app, api.NewAddressHandler(logger.Named("webhooks.api"), manager))
	} else {
		logg.Warn("ALCHEMY_AUTH_TOKEN or ALCHEMY_WEBHOOK_ID unset: webhook address management disabled")
	}

	go func() {
		logg.Infof("HTTP API listening on :%d", cfg.Port)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logg.Fatalw("fiber.listen_failed", "error", err)
		}
	}()

	logg.Infow("[copytrader] running",
		"env", cfg.Env,
		"queue_driver", cfg.QueueDriver,
		"workers", cfg.Workers,
		"pools", len(rules.PoolAddresses),
		"nats", pub != nil)

	<-ctx.Done()
	logg.Info("shutting down [copytrader]...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logg.Warnw("fiber.shutdown_failed", "error", err)
	}
	refresher.Stop()
	close(stopCleaner)

	select {
	case <-dispatchDone:
	case <-shutdownCtx.Done():
		logg.Warn("dispatcher did not drain before shutdown deadline")
	}
	if err := runner.Shutdown(shutdownCtx); err != nil {
		logg.Warnw("background.shutdown_incomplete", "error", err)
	}

	if err := broker.Close(); err != nil {
		logg.Warnw("broker.close_failed", "error", err)
	}
	if nc != nil {
		if err := nc.Drain(); err != nil {
			logg.Warnw("nats.drain_failed", "error", err)
		}
	}
	pool.Close()
	if err := kv.Close(); err != nil {
		logg.Warnw("redis.close_failed", "error", err)
	}
}
