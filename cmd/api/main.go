package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/yogaspace/yogaspace-api/internal/config"
	"github.com/yogaspace/yogaspace-api/internal/domain/auth"
	"github.com/yogaspace/yogaspace-api/internal/domain/catalog"
	"github.com/yogaspace/yogaspace-api/internal/domain/checkout"
	"github.com/yogaspace/yogaspace-api/internal/domain/credit"
	"github.com/yogaspace/yogaspace-api/internal/domain/ledger"
	"github.com/yogaspace/yogaspace-api/internal/domain/membership"
	"github.com/yogaspace/yogaspace-api/internal/domain/payment"
	"github.com/yogaspace/yogaspace-api/internal/domain/user"
	"github.com/yogaspace/yogaspace-api/internal/middleware"
	"github.com/yogaspace/yogaspace-api/internal/pkg/database"
	"github.com/yogaspace/yogaspace-api/internal/pkg/jwt"
	"github.com/yogaspace/yogaspace-api/internal/pkg/lock"
	"github.com/yogaspace/yogaspace-api/internal/pkg/logger"
	"github.com/yogaspace/yogaspace-api/internal/pkg/metrics"
	provider "github.com/yogaspace/yogaspace-api/internal/pkg/payment"
	pkgresponse "github.com/yogaspace/yogaspace-api/internal/pkg/response"
	"github.com/yogaspace/yogaspace-api/internal/pkg/storage"
)

const (
	version        = "1.0.0"
	requestTimeout = 10 * time.Second
)

func main() {
	cfg, err := config.Load()
	setupLogger(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Msg("Starting YogaSpace API")

	db, err := database.NewPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer database.ClosePostgres(db)

	redis, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(redis)

	if cfg.MetricsEnabled {
		metrics.MustRegister()
	}

	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load catalog")
	}

	jwtService := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL)
	stripe := provider.NewStripeProvider(provider.StripeConfig{
		SecretKey:         cfg.StripeSecretKey,
		WebhookSecret:     cfg.StripeWebhookSecret,
		Timeout:           cfg.StripeTimeout,
		MaxNetworkRetries: int64(cfg.StripeMaxRetries),
		APIURL:            cfg.StripeAPIURL,
	})

	// ---------- Repositories ----------
	userRepo := user.NewRepository(db, cfg.DBQueryTimeout)
	ledgerRepo := ledger.NewRepository(db, cfg.DBQueryTimeout)
	creditRepo := credit.NewRepository(db, cfg.DBQueryTimeout)
	membershipRepo := membership.NewRepository(db, cfg.DBQueryTimeout)

	// ---------- Services ----------
	applier := ledger.NewApplier(ledgerRepo, cfg.ClaimTTL)
	resolver := payment.NewResolver(cat)

	var locker lock.Locker = lock.Noop{}
	var notifier payment.Notifier = payment.NoopNotifier{}
	if redis != nil {
		locker = lock.NewRedisLocker(redis)
		notifier = payment.NewRedisNotifier(redis)
	}

	checkoutService := checkout.NewService(stripe, cat, checkout.Config{
		SuccessURL: cfg.CheckoutSuccessURL,
		CancelURL:  cfg.CheckoutCancelURL,
	})
	statusHub := payment.NewHub(redis)
	webhookService := payment.NewWebhookService(stripe, resolver, applier).WithPublisher(statusHub)
	if store := archiveStore(cfg); store != nil {
		webhookService.WithArchiver(payment.NewObjectArchiver(store, ""))
	}
	verifyService := payment.NewVerifyService(stripe, resolver, applier, notifier)
	creditService := credit.NewService(creditRepo)
	membershipService := membership.NewService(membershipRepo, cfg.MembershipRenewalGrace)

	var otpService *auth.OTPService
	if redis != nil {
		otpService = auth.NewOTPService(auth.NewRedisCodeStore(redis), auth.LogSender{}, userRepo, jwtService, auth.OTPConfig{
			TTL:            cfg.OTPTTL,
			MaxAttempts:    cfg.OTPMaxAttempts,
			ResendCooldown: cfg.OTPResendCooldown,
		})
	} else {
		log.Warn().Msg("OTP login disabled: Redis is not configured")
	}

	// ---------- Background workers ----------
	var reconciler *payment.Reconciler
	var expiryWorker *membership.Worker
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	go statusHub.Run(workerCtx)
	if cfg.ReconcileEnabled {
		reconciler = payment.NewReconciler(stripe, resolver, applier, locker, payment.ReconcilerConfig{
			Interval: cfg.ReconcileInterval,
			Lookback: cfg.ReconcileLookback,
		}).WithPublisher(statusHub)
		reconciler.Start(workerCtx)

		expiryWorker = membership.NewWorker(membershipService, cfg.MembershipExpiryInterval)
		expiryWorker.Start()
	}

	// ---------- Router ----------
	r := newRouter(cfg, routes{
		jwt:        jwtService,
		catalog:    catalog.NewHandler(cat),
		checkout:   checkout.NewHandler(checkoutService),
		payment:    payment.NewHandler(webhookService, verifyService, applier).WithStream(statusHub, cfg.AllowedOrigins).WithStatusLookup(applier),
		credit:     credit.NewHandler(creditService),
		membership: membership.NewHandler(membershipService),
		auth:       authHandler(otpService),
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	if reconciler != nil {
		reconciler.Stop()
	}
	if expiryWorker != nil {
		expiryWorker.Stop()
	}
	stopWorkers()

	log.Info().Msg("Server exited properly")
}

// archiveStore picks the webhook archive backend. A misconfigured bucket
// only disables archiving.
func archiveStore(cfg *config.Config) storage.ObjectStore {
	switch {
	case cfg.ArchiveBucket != "":
		s, err := storage.NewS3Store(context.Background(), storage.S3Config{
			Endpoint:        cfg.ArchiveEndpoint,
			Region:          cfg.ArchiveRegion,
			Bucket:          cfg.ArchiveBucket,
			AccessKeyID:     cfg.ArchiveAccessKeyID,
			SecretAccessKey: cfg.ArchiveSecretAccessKey,
			UsePathStyle:    cfg.ArchivePathStyle,
		})
		if err != nil {
			log.Error().Err(err).Msg("Webhook archive disabled")
			return nil
		}
		log.Info().Str("bucket", cfg.ArchiveBucket).Msg("Archiving webhooks to object storage")
		return s
	case cfg.ArchiveDir != "":
		s, err := storage.NewLocalStore(cfg.ArchiveDir)
		if err != nil {
			log.Error().Err(err).Msg("Webhook archive disabled")
			return nil
		}
		log.Info().Str("dir", cfg.ArchiveDir).Msg("Archiving webhooks to local directory")
		return s
	}
	return nil
}

func authHandler(svc *auth.OTPService) *auth.Handler {
	if svc == nil {
		return nil
	}
	return auth.NewHandler(svc)
}

type routes struct {
	jwt        *jwt.Service
	catalog    *catalog.Handler
	checkout   *checkout.Handler
	payment    *payment.Handler
	credit     *credit.Handler
	membership *membership.Handler
	auth       *auth.Handler
}

func newRouter(cfg *config.Config, h routes) chi.Router {
	authMiddleware := middleware.Auth(h.jwt)
	optionalAuth := middleware.OptionalAuth(h.jwt)

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		pkgresponse.OK(w, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	if cfg.MetricsEnabled {
		r.Handle("/metrics", metrics.Handler())
	}

	// Websockets cannot pass through the timeout handler.
	r.Get("/api/v1/payments/stream", h.payment.Stream)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		r.Mount("/catalog", h.catalog.Routes())

		payments := h.payment.Routes(authMiddleware, optionalAuth)
		payments.With(optionalAuth).Post("/checkout", h.checkout.Create)
		r.Mount("/payments", payments)

		r.Mount("/credits", h.credit.Routes(authMiddleware))
		r.Mount("/membership", h.membership.Routes(authMiddleware))
		if h.auth != nil {
			r.Mount("/auth", h.auth.Routes())
		}
	})

	return r
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
