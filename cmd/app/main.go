// File: cmd/app/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"qrmenu-billing/internal/config"
	"qrmenu-billing/internal/domain/ports/repository"
	"qrmenu-billing/internal/infra/adapters/billing"
	"qrmenu-billing/internal/infra/api"
	pg "qrmenu-billing/internal/infra/db/postgres"
	"qrmenu-billing/internal/infra/logging"
	"qrmenu-billing/internal/infra/metrics"
	red "qrmenu-billing/internal/infra/redis"
	"qrmenu-billing/internal/infra/sched"
	"qrmenu-billing/internal/usecase"
)

// set via -ldflags
var (
	version = "dev"
	commit  = "none"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs)")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)
	logger.Info().Str("version", version).Bool("dev", cfg.Runtime.Dev).Msg("starting billing sync")

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres")
	}
	defer pool.Close()
	if cfg.Database.Migrate {
		if err := pg.RunMigrations(pool); err != nil {
			logger.Fatal().Err(err).Msg("migrations")
		}
		logger.Info().Msg("migrations applied")
	}
	go pg.ReportPoolStats(ctx, pool, 15*time.Second, logger)

	// ---- Repositories ----
	eventRepo := pg.NewBillingEventRepo(pool)
	subRepo := pg.NewSubscriptionRepo(pool)
	var tenantRepo repository.TenantRepository = pg.NewTenantRepo(pool)
	txManager := pg.NewTxManager(pool)

	// ---- Billing provider ----
	gateway, err := billing.NewStripeGateway(cfg.Stripe.SecretKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("stripe gateway")
	}
	if cfg.Stripe.WebhookSecret == "" {
		logger.Warn().Msg("stripe.webhook_secret is empty; webhook deliveries will be rejected with 500")
	}

	// ---- Redis (optional: access cache + per-subscription lock) ----
	var reconcilerOpts []usecase.ReconcilerOption
	if cfg.Redis.URL != "" {
		redisClient, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis")
		}
		defer redisClient.Close()
		tenantRepo = pg.NewTenantRepoCacheDecorator(tenantRepo, redisClient, cfg.Redis.TTL, logger)
		reconcilerOpts = append(reconcilerOpts, usecase.WithLocker(red.NewLocker(redisClient), cfg.Redis.LockTTL))
		logger.Info().Str("redis", logging.Redact(cfg.Redis.URL, cfg.Runtime.Dev)).Msg("redis enabled")
	} else {
		logger.Info().Msg("redis.url not set; access cache and subscription locks disabled")
	}

	// ---- Use cases ----
	ledger := usecase.NewEventLedger(eventRepo, logger)
	reconciler := usecase.NewReconcilerUseCase(subRepo, tenantRepo, txManager, gateway, logger, reconcilerOpts...)
	webhookUC := usecase.NewWebhookUseCase(ledger, reconciler, gateway, cfg.Stripe.WebhookSecret, logger)
	accessUC := usecase.NewAccessUseCase(subRepo, tenantRepo, txManager, cfg.Scheduler.SweepBatch, logger)

	// ---- HTTP ----
	srv := api.NewServer(webhookUC, accessUC, api.NewAdminAuth(cfg.Admin.JWTSecret, cfg.Admin.TokenTTL), api.Options{
		WebhookPath:    cfg.HTTP.WebhookPath,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		RequestTimeout: cfg.HTTP.RequestTimeout,
	}, logger)
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info().Str("addr", server.Addr).Str("webhook_path", cfg.HTTP.WebhookPath).Msg("http listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server error")
			cancel()
		}
	}()

	// ---- Expiry worker ----
	worker := sched.NewExpiryWorker(cfg.Scheduler.ExpiryInterval, accessUC, logger)
	go func() { _ = worker.Run(ctx) }()

	// ---- Graceful shutdown ----
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigc:
		logger.Info().Msg("shutdown requested")
	case <-ctx.Done():
	}
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown")
	}
}
