package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/mohacollection/storefront-backend/api/middleware"
	"github.com/mohacollection/storefront-backend/api/routes"
	"github.com/mohacollection/storefront-backend/internal/address"
	"github.com/mohacollection/storefront-backend/internal/auth"
	"github.com/mohacollection/storefront-backend/internal/cart"
	"github.com/mohacollection/storefront-backend/internal/checkout"
	"github.com/mohacollection/storefront-backend/internal/orders"
	"github.com/mohacollection/storefront-backend/internal/paymentmethods"
	"github.com/mohacollection/storefront-backend/internal/payments"
	"github.com/mohacollection/storefront-backend/internal/products"
	"github.com/mohacollection/storefront-backend/internal/users"
	"github.com/mohacollection/storefront-backend/pkg/auth/session"
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

const shutdownTimeout = 15 * time.Second

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logg); err != nil {
		logg.Error(context.Background(), "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return err
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return err
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	paymentMetrics := metrics.NewPaymentMetrics(registry)

	sessionManager, err := session.NewManager(redisClient, cfg.JWT)
	if err != nil {
		return err
	}

	gormDB := dbClient.DB()
	outboxSvc := outbox.NewService(outbox.NewRepository(gormDB), logg)

	authService, err := auth.NewService(auth.ServiceParams{
		UserRepo:       users.NewRepository(gormDB),
		SessionManager: sessionManager,
		JWTConfig:      cfg.JWT,
		PasswordConfig: cfg.Password,
	})
	if err != nil {
		return err
	}

	productRepo := products.NewRepository(gormDB)
	productService, err := products.NewService(productRepo)
	if err != nil {
		return err
	}

	cartService, err := cart.NewService(cart.NewRepository(gormDB), dbClient, productRepo)
	if err != nil {
		return err
	}

	orderRepo := orders.NewRepository(gormDB)
	orderService, err := orders.NewService(orderRepo, dbClient, outboxSvc, logg)
	if err != nil {
		return err
	}

	addressService, err := address.NewService(address.NewRepository(gormDB), dbClient)
	if err != nil {
		return err
	}
	methodService, err := paymentmethods.NewService(paymentmethods.NewRepository(gormDB), dbClient)
	if err != nil {
		return err
	}

	gateway, err := mpesa.NewClient(cfg.Mpesa,
		mpesa.WithLogger(logg),
		mpesa.WithMetrics(paymentMetrics),
		mpesa.WithTokenCache(redisClient, redisClient.TokenKey("mpesa")),
	)
	if err != nil {
		return err
	}

	engine, err := payments.NewEngine(payments.EngineParams{
		Repo:      payments.NewRepository(gormDB),
		Tx:        dbClient,
		Outbox:    outboxSvc,
		Gateway:   gateway,
		Guard:     redisClient,
		ReplayTTL: cfg.Checkout.CallbackReplayTTL,
		Metrics:   paymentMetrics,
		Logger:    logg,
	})
	if err != nil {
		return err
	}

	checkoutService, err := checkout.NewService(checkout.Params{
		Identity:       checkout.IdentityFunc(middleware.UserIDFromContext),
		Orders:         orderRepo,
		Addresses:      addressService,
		PaymentMethods: methodService,
		Gateway:        gateway,
		Payments:       engine,
		Locker:         redisClient,
		LockTTL:        cfg.Checkout.LockTTL,
		CallbackURL:    cfg.Mpesa.CallbackURL,
		Logger:         logg,
	})
	if err != nil {
		return err
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	logCtx := logg.WithFields(ctx, map[string]any{
		"env":        cfg.App.Env,
		"addr":       addr,
		"instance":   instance.ID(),
		"mpesa_env":  cfg.Mpesa.Env,
		"cors_count": len(cfg.App.CORSOrigins),
	})
	logg.Info(logCtx, "starting api server")

	server := &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: 10 * time.Second,
		Handler: routes.NewRouter(routes.Deps{
			Config:         cfg,
			Logger:         logg,
			DB:             dbClient,
			Redis:          redisClient,
			Sessions:       sessionManager,
			HTTPMetrics:    metrics.NewHTTPMetrics(registry),
			Gatherer:       registry,
			Auth:           authService,
			Products:       productService,
			Cart:           cartService,
			Orders:         orderService,
			Addresses:      addressService,
			PaymentMethods: methodService,
			Checkout:       checkoutService,
			Payments:       engine,
		}),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logg.Info(logCtx, "shutting down api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
