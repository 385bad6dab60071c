package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/atlasops/atlasops-backend/api/routes"
	"github.com/atlasops/atlasops-backend/internal/analytics"
	"github.com/atlasops/atlasops-backend/internal/credit"
	"github.com/atlasops/atlasops-backend/internal/invoices"
	"github.com/atlasops/atlasops-backend/internal/subscriptions"
	"github.com/atlasops/atlasops-backend/internal/tenantbilling"
	"github.com/atlasops/atlasops-backend/internal/usage"
	squarewebhook "github.com/atlasops/atlasops-backend/internal/webhooks/square"
	"github.com/atlasops/atlasops-backend/pkg/bigquery"
	"github.com/atlasops/atlasops-backend/pkg/config"
	"github.com/atlasops/atlasops-backend/pkg/db"
	"github.com/atlasops/atlasops-backend/pkg/enums"
	"github.com/atlasops/atlasops-backend/pkg/logger"
	"github.com/atlasops/atlasops-backend/pkg/metrics"
	"github.com/atlasops/atlasops-backend/pkg/migrate"
	"github.com/atlasops/atlasops-backend/pkg/outbox"
	"github.com/atlasops/atlasops-backend/pkg/redis"
	"github.com/atlasops/atlasops-backend/pkg/square"
)

// Square redelivers webhook events for up to 72 hours.
const webhookDedupeTTL = 72 * time.Hour

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

	squareClient, err := square.NewClient(context.Background(), cfg.Square, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create square client", err)
		os.Exit(1)
	}

	bigqueryClient, err := bigquery.NewClient(context.Background(), cfg.GCP, cfg.BigQuery, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create bigquery client", err)
		os.Exit(1)
	}
	defer func() {
		if err := bigqueryClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing bigquery", err)
		}
	}()

	lock, err := newLockRunner(cfg, dbClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create lock runner", err)
		os.Exit(1)
	}

	billingMetrics := metrics.NewBillingMetrics(prometheus.DefaultRegisterer)
	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)

	defaultCurrency, err := enums.ParseCurrency(cfg.Billing.DefaultCurrency)
	if err != nil {
		logg.Error(context.Background(), "invalid default currency", err)
		os.Exit(1)
	}

	planService, err := tenantbilling.NewService(tenantbilling.ServiceParams{
		Repo: tenantbilling.NewRepository(dbClient.DB()),
		Tx:   dbClient,
		Defaults: tenantbilling.Defaults{
			Currency:            defaultCurrency,
			IncludedUnits:       cfg.Billing.DefaultIncludedUnits,
			UnitPriceMinorUnits: cfg.Billing.DefaultUnitPriceMinorUnits,
			TaxRateBps:          cfg.Billing.DefaultTaxRateBps,
			Timezone:            cfg.Billing.DefaultTimezone,
		},
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create billing profile service", err)
		os.Exit(1)
	}

	invoiceService, err := invoices.NewService(invoices.ServiceParams{
		Repo:   invoices.NewRepository(dbClient.DB()),
		Lock:   lock,
		Outbox: outboxService,
		Cards:  squareClient,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create invoice service", err)
		os.Exit(1)
	}

	usageService, err := usage.NewService(usage.ServiceParams{
		Repo:     usage.NewRepository(dbClient.DB()),
		Lock:     lock,
		Profiles: planService,
		Invoices: invoiceService,
		Outbox:   outboxService,
		Metrics:  billingMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create usage service", err)
		os.Exit(1)
	}

	creditService, err := credit.NewService(credit.ServiceParams{
		Repo:       credit.NewRepository(dbClient.DB()),
		Lock:       lock,
		Outbox:     outboxService,
		StaleAfter: cfg.Credit.ReservationTimeout,
		Metrics:    billingMetrics,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create credit service", err)
		os.Exit(1)
	}

	subscriptionService, err := subscriptions.NewService(subscriptions.ServiceParams{
		Repo:   subscriptions.NewRepository(dbClient.DB()),
		Tx:     dbClient,
		Credit: creditService,
		Outbox: outboxService,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscription service", err)
		os.Exit(1)
	}

	analyticsService, err := analytics.NewService(
		bigqueryClient,
		cfg.GCP.ProjectID,
		cfg.BigQuery.Dataset,
		cfg.BigQuery.BillingEventsTable,
		cfg.BigQuery.CreditEventsTable,
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create analytics service", err)
		os.Exit(1)
	}

	webhookGuard, err := redis.NewIdempotencyGuard(redisClient, webhookDedupeTTL, "webhooks:square")
	if err != nil {
		logg.Error(context.Background(), "failed to create webhook guard", err)
		os.Exit(1)
	}

	squareWebhookService, err := squarewebhook.NewService(squarewebhook.ServiceParams{
		Logger:   logg,
		Invoices: invoiceService,
		Payments: squareClient,
		Guard:    webhookGuard,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create square webhook service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			bigqueryClient,
			usageService,
			planService,
			invoiceService,
			creditService,
			subscriptionService,
			analyticsService,
			squareClient,
			squareWebhookService,
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func newLockRunner(cfg *config.Config, dbClient *db.Client) (db.LockRunner, error) {
	if cfg.Flags.UseSQLite {
		return db.NewKeyedMutexRunner(dbClient)
	}
	return db.NewPGLockRunner(dbClient, cfg.DB.LockWaitTimeout)
}
