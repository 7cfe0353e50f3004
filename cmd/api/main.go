package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/paywallet-backend/api/routes"
	"github.com/angelmondragon/paywallet-backend/internal/audit"
	"github.com/angelmondragon/paywallet-backend/internal/fraud"
	"github.com/angelmondragon/paywallet-backend/internal/gateway"
	"github.com/angelmondragon/paywallet-backend/internal/ledger"
	"github.com/angelmondragon/paywallet-backend/internal/notify"
	"github.com/angelmondragon/paywallet-backend/internal/signature"
	"github.com/angelmondragon/paywallet-backend/pkg/config"
	"github.com/angelmondragon/paywallet-backend/pkg/db"
	"github.com/angelmondragon/paywallet-backend/pkg/logger"
	"github.com/angelmondragon/paywallet-backend/pkg/metrics"
	"github.com/angelmondragon/paywallet-backend/pkg/migrate"
	"github.com/angelmondragon/paywallet-backend/pkg/outbox"
	"github.com/angelmondragon/paywallet-backend/pkg/redis"
)

const shutdownGrace = 15 * time.Second

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	pipelineMetrics := metrics.NewPipelineMetrics(prometheus.DefaultRegisterer)

	auditService, err := audit.NewService(audit.ServiceParams{
		Repo:   audit.NewRepository(dbClient.DB()),
		Logger: logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create audit service", err)
		os.Exit(1)
	}

	verifier, err := signature.NewVerifier(signature.VerifierParams{
		Gateway: cfg.Gateway,
		Audit:   auditService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create signature verifier", err)
		os.Exit(1)
	}

	normalizer, err := gateway.NewNormalizer(gateway.NormalizerParams{
		Customers: gateway.NewEmailLookup(),
		Audit:     auditService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create event normalizer", err)
		os.Exit(1)
	}

	webhookGuard, err := gateway.NewWebhookGuard(redisClient, cfg.Gateway.IdempotencyTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook guard", err)
		os.Exit(1)
	}

	fraudService, err := fraud.NewService(fraud.ServiceParams{
		Config:  cfg.Fraud,
		History: fraud.NewHistoryRepository(dbClient.DB()),
		Alerts:  fraud.NewAlertRepository(dbClient.DB()),
		Audit:   auditService,
		Logger:  logg,
		Metrics: pipelineMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create fraud guard", err)
		os.Exit(1)
	}

	ledgerService, err := ledger.NewService(ledger.ServiceParams{
		DB:      dbClient,
		Repo:    ledger.NewRepository(dbClient.DB()),
		Fraud:   fraudService,
		Outbox:  outbox.NewService(outbox.NewRepository(dbClient.DB()), logg),
		Audit:   auditService,
		Logger:  logg,
		Metrics: pipelineMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	providers, err := buildProviders(cfg)
	if err != nil {
		logg.Error(context.Background(), "failed to create notification providers", err)
		os.Exit(1)
	}

	notifyService, err := notify.NewService(notify.ServiceParams{
		Config:    cfg.Notify,
		Repo:      notify.NewRepository(dbClient.DB()),
		Registry:  notify.NewRegistry(),
		Providers: providers,
		Audit:     auditService,
		Logger:    logg,
		Metrics:   pipelineMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create notification dispatcher", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			verifier,
			normalizer,
			webhookGuard,
			ledgerService,
			notifyService,
			auditService,
			pipelineMetrics,
		),
	}

	shutdownCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logg.Error(ctx, "api server stopped unexpectedly", err)
			os.Exit(1)
		}
	case <-shutdownCtx.Done():
		logg.Info(ctx, "shutting down api server")
		graceCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := server.Shutdown(graceCtx); err != nil {
			logg.Error(ctx, "api server shutdown error", err)
			os.Exit(1)
		}
	}

	logg.Info(ctx, "api server stopped")
}

func buildProviders(cfg *config.Config) ([]notify.Provider, error) {
	email, err := notify.NewEmailProvider(cfg.SMTP)
	if err != nil {
		return nil, err
	}
	sms, err := notify.NewSMSProvider(cfg.SMS, nil)
	if err != nil {
		return nil, err
	}
	push, err := notify.NewPushProvider(cfg.Push, nil)
	if err != nil {
		return nil, err
	}
	return []notify.Provider{email, sms, push}, nil
}
