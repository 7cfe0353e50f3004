package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/paywallet-backend/api/controllers"
	webhookcontrollers "github.com/angelmondragon/paywallet-backend/api/controllers/webhooks"
	"github.com/angelmondragon/paywallet-backend/api/middleware"
	"github.com/angelmondragon/paywallet-backend/internal/audit"
	"github.com/angelmondragon/paywallet-backend/internal/gateway"
	"github.com/angelmondragon/paywallet-backend/internal/ledger"
	"github.com/angelmondragon/paywallet-backend/internal/notify"
	"github.com/angelmondragon/paywallet-backend/internal/signature"
	"github.com/angelmondragon/paywallet-backend/pkg/config"
	"github.com/angelmondragon/paywallet-backend/pkg/db"
	"github.com/angelmondragon/paywallet-backend/pkg/logger"
	"github.com/angelmondragon/paywallet-backend/pkg/metrics"
	"github.com/angelmondragon/paywallet-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	verifier *signature.Verifier,
	normalizer *gateway.Normalizer,
	webhookGuard *gateway.WebhookGuard,
	ledgerService ledger.Service,
	notifyService notify.Service,
	auditService audit.Service,
	pipelineMetrics *metrics.PipelineMetrics,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisClient))
	})

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		if redisClient != nil {
			r.Use(middleware.RateLimit("gateway-webhook", cfg.Gateway.RateLimitMax, cfg.Gateway.RateLimitWindow, redisClient, logg))
		}
		r.Post("/gateway", webhookcontrollers.GatewayWebhook(verifier, normalizer, ledgerService, webhookGuard, pipelineMetrics, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/wallets", func(r chi.Router) {
			r.Get("/{userId}", controllers.WalletFetch(ledgerService, logg))
			r.Get("/{userId}/transactions", controllers.WalletTransactions(ledgerService, logg))
		})
		r.Get("/transactions/{transactionId}", controllers.TransactionFetch(ledgerService, logg))

		r.Route("/notifications", func(r chi.Router) {
			r.Post("/", controllers.SendNotification(notifyService, logg))
			r.Get("/", controllers.ListNotifications(notifyService, logg))
			r.Get("/{logId}", controllers.GetNotification(notifyService, logg))
			r.Post("/{logId}/resend", controllers.ResendNotification(notifyService, logg))
		})

		r.Route("/audit", func(r chi.Router) {
			r.Get("/", controllers.AuditByTimeRange(auditService, logg))
			r.Get("/transactions/{correlationId}", controllers.AuditByCorrelation(auditService, logg))
		})
	})

	return r
}
