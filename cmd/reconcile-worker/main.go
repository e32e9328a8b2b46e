package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/yogaspace/yogaspace-api/internal/config"
	"github.com/yogaspace/yogaspace-api/internal/domain/catalog"
	"github.com/yogaspace/yogaspace-api/internal/domain/ledger"
	"github.com/yogaspace/yogaspace-api/internal/domain/membership"
	"github.com/yogaspace/yogaspace-api/internal/domain/payment"
	"github.com/yogaspace/yogaspace-api/internal/pkg/database"
	"github.com/yogaspace/yogaspace-api/internal/pkg/lock"
	"github.com/yogaspace/yogaspace-api/internal/pkg/logger"
	provider "github.com/yogaspace/yogaspace-api/internal/pkg/payment"
)

func main() {
	cfg, err := config.Load()
	setupLogger(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Dur("interval", cfg.ReconcileInterval).
		Dur("lookback", cfg.ReconcileLookback).
		Msg("Starting reconcile-worker")

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	rdb, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(rdb)

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load catalog")
	}

	stripe := provider.NewStripeProvider(provider.StripeConfig{
		SecretKey:         cfg.StripeSecretKey,
		WebhookSecret:     cfg.StripeWebhookSecret,
		Timeout:           cfg.StripeTimeout,
		MaxNetworkRetries: int64(cfg.StripeMaxRetries),
		APIURL:            cfg.StripeAPIURL,
	})
	applier := ledger.NewApplier(ledger.NewRepository(db, cfg.DBQueryTimeout), cfg.ClaimTTL)

	var locker lock.Locker = lock.Noop{}
	if rdb != nil {
		locker = lock.NewRedisLocker(rdb)
	} else {
		log.Warn().Msg("Redis not configured: running unlocked, start only one worker")
	}

	reconciler := payment.NewReconciler(stripe, payment.NewResolver(cat), applier, locker, payment.ReconcilerConfig{
		Interval: cfg.ReconcileInterval,
		Lookback: cfg.ReconcileLookback,
	})
	if rdb != nil {
		// API instances relay these to waiting success pages.
		reconciler.WithPublisher(payment.NewHub(rdb))
	}
	membershipSvc := membership.NewService(membership.NewRepository(db, cfg.DBQueryTimeout), cfg.MembershipRenewalGrace)
	expiryWorker := membership.NewWorker(membershipSvc, cfg.MembershipExpiryInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Pub/sub only shortens the wait; the ticker still drives every pass.
	if rdb != nil {
		sub := rdb.Subscribe(ctx, payment.PendingChannel)
		defer func() { _ = sub.Close() }()
		go forwardWakeups(ctx, sub.Channel(), reconciler.Wake)
	}

	reconciler.Start(ctx)
	expiryWorker.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan
	log.Info().Msg("Shutdown signal received")

	cancel()
	reconciler.Stop()
	expiryWorker.Stop()

	log.Info().Msg("reconcile-worker stopped")
}

// forwardWakeups turns pending-session notifications into reconciler wakeups.
func forwardWakeups(ctx context.Context, msgs <-chan *redis.Message, wake func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				return
			}
			log.Debug().Str("session_id", msg.Payload).Msg("pending session reported, waking reconciler")
			wake()
		}
	}
}

func setupLogger(cfg *config.Config) {
	if cfg == nil {
		return
	}
	logger.Init(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Env,
		LogFile:     cfg.LogFile,
	})
}
