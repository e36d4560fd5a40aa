package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mohacollection/storefront-backend/internal/cron"
	"github.com/mohacollection/storefront-backend/internal/payments"
	"github.com/mohacollection/storefront-backend/pkg/config"
	"github.com/mohacollection/storefront-backend/pkg/db"
	"github.com/mohacollection/storefront-backend/pkg/instance"
	"github.com/mohacollection/storefront-backend/pkg/logger"
	"github.com/mohacollection/storefront-backend/pkg/metrics"
	"github.com/mohacollection/storefront-backend/pkg/migrate"
	"github.com/mohacollection/storefront-backend/pkg/mpesa"
	"github.com/mohacollection/storefront-backend/pkg/outbox"
	"github.com/mohacollection/storefront-backend/pkg/redis"
)

const (
	serviceKind   = "cron-worker"
	lockKeyFormat = "cron-worker:%s"
	// Rows needing more than this many publish attempts are kept for review.
	outboxKeepRetries = 3
)

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceKind})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = serviceKind

	logg = logger.New(logger.Options{
		ServiceName: serviceKind,
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

	paymentMetrics := metrics.NewPaymentMetrics(prometheus.DefaultRegisterer)
	gateway, err := mpesa.NewClient(cfg.Mpesa,
		mpesa.WithLogger(logg),
		mpesa.WithMetrics(paymentMetrics),
		mpesa.WithTokenCache(redisClient, redisClient.TokenKey("mpesa")),
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create mpesa client", err)
		os.Exit(1)
	}

	outboxRepo := outbox.NewRepository(dbClient.DB())
	engine, err := payments.NewEngine(payments.EngineParams{
		Repo:      payments.NewRepository(dbClient.DB()),
		Tx:        dbClient,
		Outbox:    outbox.NewService(outboxRepo, logg),
		Gateway:   gateway,
		Guard:     redisClient,
		ReplayTTL: cfg.Checkout.CallbackReplayTTL,
		Metrics:   paymentMetrics,
		Logger:    logg,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create payment engine", err)
		os.Exit(1)
	}

	staleJob, err := cron.NewStalePaymentJob(cron.StalePaymentJobParams{
		Logger:      logg,
		Payments:    engine,
		StaleAfter:  cfg.Cron.PaymentStaleAfter,
		ExpireAfter: cfg.Cron.PaymentExpireAfter,
		BatchSize:   cfg.Cron.PaymentBatchSize,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create stale payment job", err)
		os.Exit(1)
	}

	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:      logg,
		DB:          dbClient,
		Outbox:      outboxRepo,
		Retention:   time.Duration(cfg.Outbox.RetentionDays) * 24 * time.Hour,
		KeepRetries: outboxKeepRetries,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create outbox retention job", err)
		os.Exit(1)
	}

	lock, err := cron.NewRedisLock(redisClient, redisClient.LockKey(fmt.Sprintf(lockKeyFormat, envName(cfg.App.Env))), cfg.Cron.LockTTL)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: cron.NewRegistry(staleJob, retentionJob),
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
		"interval":    cfg.Cron.Interval.String(),
		"instance":    instance.ID(),
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func envName(env string) string {
	if env == "" {
		return "local"
	}
	return env
}
