package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohacollection/storefront-backend/api/controllers"
	"github.com/mohacollection/storefront-backend/api/middleware"
	"github.com/mohacollection/storefront-backend/internal/address"
	"github.com/mohacollection/storefront-backend/internal/auth"
	"github.com/mohacollection/storefront-backend/internal/cart"
	"github.com/mohacollection/storefront-backend/internal/checkout"
	"github.com/mohacollection/storefront-backend/internal/orders"
	"github.com/mohacollection/storefront-backend/internal/paymentmethods"
	"github.com/mohacollection/storefront-backend/internal/payments"
	"github.com/mohacollection/storefront-backend/internal/products"
	"github.com/mohacollection/storefront-backend/pkg/auth/session"
	"github.com/mohacollection/storefront-backend/pkg/config"
	"github.com/mohacollection/storefront-backend/pkg/enums"
	"github.com/mohacollection/storefront-backend/pkg/logger"
	"github.com/mohacollection/storefront-backend/pkg/metrics"
	pkgredis "github.com/mohacollection/storefront-backend/pkg/redis"
)

// Deps are the collaborators wired into the HTTP surface.
type Deps struct {
	Config         *config.Config
	Logger         *logger.Logger
	DB             controllers.Pinger
	Redis          *pkgredis.Client
	Sessions       session.AccessSessionChecker
	HTTPMetrics    *metrics.HTTPMetrics
	Gatherer       prometheus.Gatherer
	Auth           auth.Service
	Products       products.Service
	Cart           cart.Service
	Orders         orders.Service
	Addresses      address.Service
	PaymentMethods paymentmethods.Service
	Checkout       checkout.Service
	Payments       payments.Engine
}

func NewRouter(d Deps) http.Handler {
	cfg, logg := d.Config, d.Logger

	var (
		idemStore pkgredis.IdempotencyStore
		rlStore   middleware.RateLimiterStore
		readiness = map[string]controllers.Pinger{}
	)
	if d.DB != nil {
		readiness["db"] = d.DB
	}
	if d.Redis != nil {
		idemStore = d.Redis
		rlStore = d.Redis
		readiness["redis"] = d.Redis
	}

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Metrics(d.HTTPMetrics),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins, cfg.Checkout.CartSessionHeader),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, readiness))
	})
	if d.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	requireAuth := middleware.Auth(cfg.JWT, d.Sessions, logg)
	optionalAuth := middleware.OptionalAuth(cfg.JWT, d.Sessions, logg)
	idempotent := middleware.Idempotency(idemStore, cfg.Checkout.IdempotencyTTL, logg)
	authLimit := middleware.RateLimit(middleware.RateLimitPolicy{
		Name:       "auth",
		Window:     cfg.RateLimit.AuthWindow,
		IPLimit:    cfg.RateLimit.AuthIPLimit,
		EmailLimit: cfg.RateLimit.AuthIPLimit,
	}, rlStore, logg)
	checkoutLimit := middleware.RateLimit(middleware.RateLimitPolicy{
		Name:      "checkout",
		Window:    cfg.RateLimit.CheckoutWindow,
		UserLimit: cfg.RateLimit.CheckoutLimit,
	}, rlStore, logg)

	// Payment routes live at the root for provider callbacks and existing
	// clients, and again under /api/v1.
	paymentRoutes := func(r chi.Router) {
		r.With(requireAuth, checkoutLimit, idempotent).Post("/checkout", controllers.Checkout(d.Checkout, logg))
		r.Post("/payment-callback", controllers.PaymentCallback(d.Payments, logg))
		r.With(requireAuth).Post("/payment-query", controllers.PaymentQuery(d.Payments, logg))
	}
	r.Group(paymentRoutes)

	r.Route("/api/v1", func(r chi.Router) {
		r.Group(paymentRoutes)

		r.Route("/auth", func(r chi.Router) {
			r.With(authLimit).Post("/login", controllers.AuthLogin(d.Auth, logg))
			r.With(authLimit, idempotent).Post("/register", controllers.AuthRegister(d.Auth, logg))
			r.Post("/refresh", controllers.AuthRefresh(d.Auth, logg))
			r.With(requireAuth).Post("/logout", controllers.AuthLogout(d.Auth, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(optionalAuth)
			r.Get("/categories", controllers.ListCategories(d.Products, logg))
			r.Get("/products", controllers.ListProducts(d.Products, logg))
			r.Get("/products/{productID}", controllers.GetProduct(d.Products, logg))
		})

		r.Route("/cart", func(r chi.Router) {
			r.Use(optionalAuth, middleware.CartSession(cfg.Checkout.CartSessionHeader, logg))
			r.Get("/", controllers.CartView(d.Cart, logg))
			r.Post("/items", controllers.CartAddItem(d.Cart, logg))
			r.Patch("/items/{itemID}", controllers.CartUpdateItem(d.Cart, logg))
			r.Delete("/items/{itemID}", controllers.CartRemoveItem(d.Cart, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(requireAuth, idempotent)
			r.Post("/orders", controllers.CreateOrder(d.Orders, d.Cart, logg))
			r.Get("/orders", controllers.ListOrders(d.Orders, logg))
			r.Get("/orders/{orderID}", controllers.GetOrder(d.Orders, logg))
			r.Post("/addresses", controllers.CreateAddress(d.Addresses, logg))
			r.Get("/addresses", controllers.ListAddresses(d.Addresses, logg))
			r.Post("/payment-methods", controllers.CreatePaymentMethod(d.PaymentMethods, logg))
			r.Get("/payment-methods", controllers.ListPaymentMethods(d.PaymentMethods, logg))
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireAuth, middleware.RequireRole(enums.UserRoleAdmin, logg), idempotent)
			r.Post("/categories", controllers.AdminCreateCategory(d.Products, logg))
			r.Post("/products", controllers.AdminCreateProduct(d.Products, logg))
			r.Patch("/products/{productID}", controllers.AdminUpdateProduct(d.Products, logg))
			r.Delete("/products/{productID}", controllers.AdminDeleteProduct(d.Products, logg))
			r.Patch("/orders/{orderID}/status", controllers.AdminUpdateOrderStatus(d.Orders, logg))
		})
	})

	return r
}
