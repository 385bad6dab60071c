package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/atlasops/atlasops-backend/api/controllers"
	analyticscontrollers "github.com/atlasops/atlasops-backend/api/controllers/analytics"
	billingcontrollers "github.com/atlasops/atlasops-backend/api/controllers/billing"
	creditcontrollers "github.com/atlasops/atlasops-backend/api/controllers/credits"
	opscontrollers "github.com/atlasops/atlasops-backend/api/controllers/ops"
	subscriptioncontrollers "github.com/atlasops/atlasops-backend/api/controllers/subscriptions"
	usagecontrollers "github.com/atlasops/atlasops-backend/api/controllers/usage"
	webhookcontrollers "github.com/atlasops/atlasops-backend/api/controllers/webhooks"
	"github.com/atlasops/atlasops-backend/api/middleware"
	"github.com/atlasops/atlasops-backend/internal/analytics"
	"github.com/atlasops/atlasops-backend/internal/credit"
	"github.com/atlasops/atlasops-backend/internal/invoices"
	subscriptionsvc "github.com/atlasops/atlasops-backend/internal/subscriptions"
	"github.com/atlasops/atlasops-backend/internal/tenantbilling"
	"github.com/atlasops/atlasops-backend/internal/usage"
	squarewebhook "github.com/atlasops/atlasops-backend/internal/webhooks/square"
	"github.com/atlasops/atlasops-backend/pkg/bigquery"
	"github.com/atlasops/atlasops-backend/pkg/config"
	"github.com/atlasops/atlasops-backend/pkg/db"
	"github.com/atlasops/atlasops-backend/pkg/enums"
	"github.com/atlasops/atlasops-backend/pkg/logger"
	"github.com/atlasops/atlasops-backend/pkg/redis"
	"github.com/atlasops/atlasops-backend/pkg/square"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *redis.Client,
	bigqueryClient bigquery.Pinger,
	usageService *usage.Service,
	planService *tenantbilling.Service,
	invoiceService *invoices.Service,
	creditService *credit.Service,
	subscriptionService *subscriptionsvc.Service,
	analyticsService analytics.Service,
	squareClient *square.Client,
	squareWebhookService *squarewebhook.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	elevated := middleware.RequireRole(logg, enums.PrincipalRoleAdmin, enums.PrincipalRoleOperator)

	readinessDeps := map[string]controllers.Pinger{
		"database": dbP,
		"bigquery": bigqueryClient,
	}
	if redisClient != nil {
		readinessDeps["redis"] = redisClient
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readinessDeps))
	})

	r.Get("/ping", controllers.PublicPing())
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/webhooks", func(r chi.Router) {
		r.Post("/square", webhookcontrollers.SquareWebhook(squareWebhookService, squareClient, logg))
	})

	// Operator surface. Human operators authenticate with their bearer
	// token, schedulers and runbooks with the pre-shared ops token.
	r.Route("/v1/ops", func(r chi.Router) {
		r.Use(middleware.OptionalAuth(cfg.JWT, logg))
		r.Use(middleware.Operator(cfg.Ops, logg))
		r.Post("/credit/reconcile", opscontrollers.ReconcileCredits(creditService, logg))
		r.Post("/refills/process", opscontrollers.ProcessRefills(subscriptionService, logg))
		r.Get("/analytics/revenue", analyticscontrollers.Revenue(analyticsService, logg))
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.TenantContext(logg))
		r.Use(middleware.Idempotency(redisClient, logg))
		r.Use(middleware.RateLimit(cfg.RateLimit, redisClient, logg))

		r.Get("/ping", controllers.PrivatePing())

		r.Post("/usage-events", usagecontrollers.RecordEvent(usageService, logg))

		r.Route("/billing", func(r chi.Router) {
			r.Get("/plan", billingcontrollers.GetPlan(planService, logg))
			r.With(elevated).Put("/plan", billingcontrollers.UpdatePlan(planService, logg))
		})

		r.Route("/invoices", func(r chi.Router) {
			r.Get("/", billingcontrollers.ListInvoices(invoiceService, logg))
			r.Get("/{invoiceID}", billingcontrollers.GetInvoice(invoiceService, logg))
			r.With(elevated).Post("/{invoiceID}/pay", billingcontrollers.PayInvoice(invoiceService, logg))
			r.Post("/{invoiceID}/charge", billingcontrollers.ChargeInvoice(invoiceService, logg))
		})

		r.Route("/credit", func(r chi.Router) {
			r.Get("/balance", creditcontrollers.GetBalance(creditService, logg))
			r.Get("/ledger", creditcontrollers.ListLedger(creditService, logg))
			r.With(elevated).Post("/grants", creditcontrollers.GrantCredits(creditService, logg))
			r.Route("/reservations", func(r chi.Router) {
				r.Post("/", creditcontrollers.ReserveCredits(creditService, logg))
				r.Post("/{reservationID}/consume", creditcontrollers.ConsumeReservation(creditService, logg))
				r.Post("/{reservationID}/release", creditcontrollers.ReleaseReservation(creditService, logg))
			})
		})

		r.Route("/subscriptions", func(r chi.Router) {
			r.With(elevated).Post("/", subscriptioncontrollers.CreateSubscription(subscriptionService, creditService, logg))
			r.Get("/{subscriptionID}", subscriptioncontrollers.GetSubscription(subscriptionService, logg))
			r.With(elevated).Post("/{subscriptionID}/refill", subscriptioncontrollers.RefillSubscription(subscriptionService, logg))
			r.With(elevated).Post("/{subscriptionID}/pause", subscriptioncontrollers.PauseSubscription(subscriptionService, logg))
			r.With(elevated).Post("/{subscriptionID}/resume", subscriptioncontrollers.ResumeSubscription(subscriptionService, logg))
			r.With(elevated).Post("/{subscriptionID}/cancel", subscriptioncontrollers.CancelSubscription(subscriptionService, logg))
		})
	})

	return r
}
