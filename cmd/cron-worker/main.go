package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/atlasops/atlasops-backend/internal/credit"
	"github.com/atlasops/atlasops-backend/internal/cron"
	"github.com/atlasops/atlasops-backend/internal/subscriptions"
	"github.com/atlasops/atlasops-backend/pkg/config"
	"github.com/atlasops/atlasops-backend/pkg/db"
	"github.com/atlasops/atlasops-backend/pkg/logger"
	"github.com/atlasops/atlasops-backend/pkg/metrics"
	"github.com/atlasops/atlasops-backend/pkg/migrate"
	"github.com/atlasops/atlasops-backend/pkg/outbox"
	"github.com/atlasops/atlasops-backend/pkg/redis"
)

const lockKeyFormat = "ao:cron-worker:lock:%s"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
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

	lockRunner, err := newLockRunner(cfg, dbClient)
	if err != nil {
		logg.Error(context.Background(), "failed to create lock runner", err)
		os.Exit(1)
	}

	outboxService := outbox.NewService(outbox.NewRepository(dbClient.DB()), logg)
	billingMetrics := metrics.NewBillingMetrics(prometheus.DefaultRegisterer)

	creditService, err := credit.NewService(credit.ServiceParams{
		Repo:       credit.NewRepository(dbClient.DB()),
		Lock:       lockRunner,
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

	reconcileJob, err := cron.NewCreditReconcileJob(cron.CreditReconcileJobParams{
		Logger:    logg,
		Credit:    creditService,
		BatchSize: cfg.Credit.ReconcileBatchSize,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create credit reconcile job", err)
		os.Exit(1)
	}

	refillJob, err := cron.NewSubscriptionRefillJob(cron.SubscriptionRefillJobParams{
		Logger:        logg,
		Subscriptions: subscriptionService,
		BatchSize:     cfg.Refills.BatchLimit,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create subscription refill job", err)
		os.Exit(1)
	}

	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		DB:         dbClient,
		Repository: outbox.NewRepository(dbClient.DB()),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry := cron.NewRegistry(reconcileJob, refillJob, retentionJob)
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Cron.TickInterval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func newLockRunner(cfg *config.Config, dbClient *db.Client) (db.LockRunner, error) {
	if cfg.Flags.UseSQLite {
		return db.NewKeyedMutexRunner(dbClient)
	}
	return db.NewPGLockRunner(dbClient, cfg.DB.LockWaitTimeout)
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
