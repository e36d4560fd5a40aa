package routes

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohacollection/storefront-backend/internal/checkout"
	"github.com/mohacollection/storefront-backend/internal/payments"
	"github.com/mohacollection/storefront-backend/internal/products"
	pkgAuth "github.com/mohacollection/storefront-backend/pkg/auth"
	"github.com/mohacollection/storefront-backend/pkg/auth/session"
	"github.com/mohacollection/storefront-backend/pkg/config"
	"github.com/mohacollection/storefront-backend/pkg/enums"
	"github.com/mohacollection/storefront-backend/pkg/metrics"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

type stubSessions struct{}

func (stubSessions) HasSession(ctx context.Context, accessID string) (bool, error) {
	return true, nil
}

type stubCheckout struct {
	calls int
}

func (s *stubCheckout) Checkout(ctx context.Context, req checkout.Request) (*checkout.Result, error) {
	s.calls++
	return &checkout.Result{CheckoutRequestID: "ws_CO_1", ResponseCode: "0"}, nil
}

type stubEngine struct {
	payments.Engine
	callbacks int
}

func (s *stubEngine) ReconcileCallback(ctx context.Context, payload []byte) (*payments.Outcome, error) {
	s.callbacks++
	return &payments.Outcome{Status: enums.TransactionStatusCompleted, Message: "payment completed"}, nil
}

type stubProducts struct {
	products.Service
	deactivated []uuid.UUID
}

func (s *stubProducts) DeactivateProduct(ctx context.Context, id uuid.UUID) error {
	s.deactivated = append(s.deactivated, id)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Env: "test"},
		JWT: config.JWTConfig{Secret: "secret", Issuer: "moha-test", ExpirationMinutes: 60},
		Checkout: config.CheckoutConfig{
			IdempotencyTTL:    time.Hour,
			CartSessionHeader: "X-Cart-Session",
		},
	}
}

func testToken(t *testing.T, cfg *config.Config, role enums.UserRole) string {
	t.Helper()
	token, err := pkgAuth.MintAccessToken(cfg.JWT, time.Now(), pkgAuth.AccessTokenPayload{
		UserID: uuid.New(),
		Email:  "achieng@example.com",
		Role:   role,
		JTI:    session.NewAccessID(),
	})
	require.NoError(t, err)
	return token
}

func newTestRouter(cfg *config.Config, co *stubCheckout, engine *stubEngine, db stubPinger) http.Handler {
	return newTestRouterWithProducts(cfg, co, engine, db, &stubProducts{})
}

func newTestRouterWithProducts(cfg *config.Config, co *stubCheckout, engine *stubEngine, db stubPinger, catalog *stubProducts) http.Handler {
	reg := prometheus.NewRegistry()
	return NewRouter(Deps{
		Config:      cfg,
		DB:          db,
		Sessions:    stubSessions{},
		HTTPMetrics: metrics.NewHTTPMetrics(reg),
		Gatherer:    reg,
		Products:    catalog,
		Checkout:    co,
		Payments:    engine,
	})
}

func TestHealthEndpoints(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg, &stubCheckout{}, &stubEngine{}, stubPinger{})

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, resp.Code)

	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, resp.Code)

	down := newTestRouter(cfg, &stubCheckout{}, &stubEngine{}, stubPinger{err: errors.New("connection refused")})
	resp = httptest.NewRecorder()
	down.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestCheckoutRequiresAuthOnBothMounts(t *testing.T) {
	cfg := testConfig()
	co := &stubCheckout{}
	router := newTestRouter(cfg, co, &stubEngine{}, stubPinger{})
	body := `{"order_id":"` + uuid.NewString() + `","shipping_address_id":"` + uuid.NewString() + `","payment_method_id":"` + uuid.NewString() + `","phone_number":"254712345678"}`

	for _, path := range []string{"/checkout", "/api/v1/checkout"} {
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
		assert.Equal(t, http.StatusUnauthorized, resp.Code, path)
	}
	assert.Zero(t, co.calls)

	token := testToken(t, cfg, enums.UserRoleCustomer)
	for _, path := range []string{"/checkout", "/api/v1/checkout"} {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token)
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, req)
		assert.Equal(t, http.StatusCreated, resp.Code, path)
	}
	assert.Equal(t, 2, co.calls)
}

func TestPaymentCallbackIsPublic(t *testing.T) {
	engine := &stubEngine{}
	router := newTestRouter(testConfig(), &stubCheckout{}, engine, stubPinger{})
	payload := `{"Body":{"stkCallback":{"MerchantRequestID":"m-1","CheckoutRequestID":"ws_CO_1","ResultCode":0,"ResultDesc":"ok"}}}`

	for _, path := range []string{"/payment-callback", "/api/v1/payment-callback"} {
		resp := httptest.NewRecorder()
		router.ServeHTTP(resp, httptest.NewRequest(http.MethodPost, path, strings.NewReader(payload)))
		assert.Equal(t, http.StatusOK, resp.Code, path)
	}
	assert.Equal(t, 2, engine.callbacks)
}

func TestAdminRoutesRequireAdminRole(t *testing.T) {
	cfg := testConfig()
	router := newTestRouter(cfg, &stubCheckout{}, &stubEngine{}, stubPinger{})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/products", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer "+testToken(t, cfg, enums.UserRoleCustomer))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusForbidden, resp.Code)
}

func TestAdminDeleteProductDeactivates(t *testing.T) {
	cfg := testConfig()
	catalog := &stubProducts{}
	router := newTestRouterWithProducts(cfg, &stubCheckout{}, &stubEngine{}, stubPinger{}, catalog)
	id := uuid.New()

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/admin/products/"+id.String(), nil)
	req.Header.Set("Authorization", "Bearer "+testToken(t, cfg, enums.UserRoleCustomer))
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusForbidden, resp.Code)
	assert.Empty(t, catalog.deactivated)

	req = httptest.NewRequest(http.MethodDelete, "/api/v1/admin/products/"+id.String(), nil)
	req.Header.Set("Authorization", "Bearer "+testToken(t, cfg, enums.UserRoleAdmin))
	resp = httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusNoContent, resp.Code)
	assert.Equal(t, []uuid.UUID{id}, catalog.deactivated)
}

func TestMetricsEndpointExposesHTTPCounters(t *testing.T) {
	router := newTestRouter(testConfig(), &stubCheckout{}, &stubEngine{}, stubPinger{})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health/live", nil))

	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Contains(t, resp.Body.String(), "http_requests_total")
}
