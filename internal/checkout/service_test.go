package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mohacollection/storefront-backend/pkg/db/models"
	"github.com/mohacollection/storefront-backend/pkg/enums"
	pkgerrors "github.com/mohacollection/storefront-backend/pkg/errors"
	"github.com/mohacollection/storefront-backend/pkg/mpesa"
)

type stubOrders struct {
	order *models.Order
}

func (s stubOrders) FindForUser(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error) {
	if s.order == nil || s.order.ID != orderID || s.order.UserID != userID {
		return nil, gorm.ErrRecordNotFound
	}
	return s.order, nil
}

type stubAddresses struct{ owner, id uuid.UUID }

func (s stubAddresses) GetForUser(ctx context.Context, userID, id uuid.UUID) (*models.ShippingAddress, error) {
	if userID != s.owner || id != s.id {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "shipping address not found")
	}
	return &models.ShippingAddress{ID: id, UserID: userID}, nil
}

type stubMethods struct{ owner, id uuid.UUID }

func (s stubMethods) GetForUser(ctx context.Context, userID, id uuid.UUID) (*models.PaymentMethod, error) {
	if userID != s.owner || id != s.id {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment method not found")
	}
	return &models.PaymentMethod{ID: id, UserID: userID}, nil
}

type stubGateway struct {
	requests []mpesa.InitiateRequest
	err      error
}

func (g *stubGateway) Initiate(ctx context.Context, req mpesa.InitiateRequest) (*mpesa.InitiateResponse, error) {
	g.requests = append(g.requests, req)
	if g.err != nil {
		return nil, g.err
	}
	return &mpesa.InitiateResponse{
		MerchantRequestID:   "29115-34620561-1",
		CheckoutRequestID:   "ws_CO_191220191020363925",
		ResponseCode:        "0",
		ResponseDescription: "Success. Request accepted for processing",
		CustomerMessage:     "Success. Request accepted for processing",
	}, nil
}

type stubEngine struct {
	inFlight bool
	started  []string
}

func (e *stubEngine) InFlight(ctx context.Context, orderID uuid.UUID) (bool, error) {
	return e.inFlight, nil
}

func (e *stubEngine) Start(ctx context.Context, order *models.Order, phone string, resp *mpesa.InitiateResponse) (*models.PaymentTransaction, error) {
	e.started = append(e.started, resp.CheckoutRequestID)
	return &models.PaymentTransaction{OrderID: order.ID, CheckoutRequestID: resp.CheckoutRequestID}, nil
}

type harness struct {
	svc     Service
	gateway *stubGateway
	engine  *stubEngine
	order   *models.Order
	req     Request
}

func newHarness(t *testing.T, paymentStatus enums.PaymentStatus) *harness {
	t.Helper()
	userID := uuid.New()
	order := &models.Order{
		ID:            uuid.New(),
		UserID:        userID,
		PaymentStatus: paymentStatus,
		TotalAmount:   decimal.RequireFromString("2500.00"),
	}
	addressID, methodID := uuid.New(), uuid.New()
	h := &harness{
		gateway: &stubGateway{},
		engine:  &stubEngine{},
		order:   order,
		req: Request{
			OrderID:           order.ID,
			ShippingAddressID: addressID,
			PaymentMethodID:   methodID,
			PhoneNumber:       "254712345678",
		},
	}
	svc, err := NewService(Params{
		Identity:       IdentityFunc(func(context.Context) (uuid.UUID, bool) { return userID, true }),
		Orders:         stubOrders{order: order},
		Addresses:      stubAddresses{owner: userID, id: addressID},
		PaymentMethods: stubMethods{owner: userID, id: methodID},
		Gateway:        h.gateway,
		Payments:       h.engine,
		CallbackURL:    "https://example.com/payment-callback",
	})
	require.NoError(t, err)
	h.svc = svc
	return h
}

func TestCheckoutForwardsPhoneVerbatim(t *testing.T) {
	h := newHarness(t, enums.PaymentStatusUnpaid)

	res, err := h.svc.Checkout(context.Background(), h.req)
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_191220191020363925", res.CheckoutRequestID)
	assert.Equal(t, "0", res.ResponseCode)

	require.Len(t, h.gateway.requests, 1)
	assert.Equal(t, "254712345678", h.gateway.requests[0].PhoneNumber)
	assert.True(t, h.gateway.requests[0].Amount.Equal(h.order.TotalAmount))
	assert.Equal(t, []string{"ws_CO_191220191020363925"}, h.engine.started)
}

func TestCheckoutPaidOrderSkipsGateway(t *testing.T) {
	h := newHarness(t, enums.PaymentStatusPaid)

	_, err := h.svc.Checkout(context.Background(), h.req)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeAlreadyProcessed))
	assert.Empty(t, h.gateway.requests)
}

func TestCheckoutRejectsLocalPhoneFormat(t *testing.T) {
	h := newHarness(t, enums.PaymentStatusUnpaid)
	h.req.PhoneNumber = "0712345678"

	_, err := h.svc.Checkout(context.Background(), h.req)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Empty(t, h.gateway.requests)
}

func TestCheckoutScopesLookupsToUser(t *testing.T) {
	h := newHarness(t, enums.PaymentStatusUnpaid)

	req := h.req
	req.OrderID = uuid.New()
	_, err := h.svc.Checkout(context.Background(), req)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	req = h.req
	req.ShippingAddressID = uuid.New()
	_, err = h.svc.Checkout(context.Background(), req)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))

	req = h.req
	req.PaymentMethodID = uuid.New()
	_, err = h.svc.Checkout(context.Background(), req)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
	assert.Empty(t, h.gateway.requests)
}

func TestCheckoutInFlightIsDuplicate(t *testing.T) {
	h := newHarness(t, enums.PaymentStatusUnpaid)
	h.engine.inFlight = true

	_, err := h.svc.Checkout(context.Background(), h.req)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDuplicateCheckout))
	assert.Empty(t, h.gateway.requests)
}

func TestCheckoutGatewayErrorRecordsNothing(t *testing.T) {
	h := newHarness(t, enums.PaymentStatusUnpaid)
	h.gateway.err = pkgerrors.New(pkgerrors.CodeGateway, "Invalid Access Token (404.001.03)")

	_, err := h.svc.Checkout(context.Background(), h.req)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeGateway))
	assert.Contains(t, err.Error(), "Invalid Access Token")
	assert.Empty(t, h.engine.started)
}

func TestCheckoutRequiresIdentity(t *testing.T) {
	h := newHarness(t, enums.PaymentStatusUnpaid)
	svc, err := NewService(Params{
		Identity:       IdentityFunc(func(context.Context) (uuid.UUID, bool) { return uuid.Nil, false }),
		Orders:         stubOrders{order: h.order},
		Addresses:      stubAddresses{},
		PaymentMethods: stubMethods{},
		Gateway:        h.gateway,
		Payments:       h.engine,
		CallbackURL:    "https://example.com/cb",
	})
	require.NoError(t, err)

	_, err = svc.Checkout(context.Background(), h.req)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeUnauthorized))
}

type memoryLocker struct {
	mu    sync.Mutex
	held  map[string]time.Duration
	freed []string
	err   error
}

func newMemoryLocker() *memoryLocker {
	return &memoryLocker{held: map[string]time.Duration{}}
}

func (l *memoryLocker) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return false, l.err
	}
	if _, ok := l.held[key]; ok {
		return false, nil
	}
	l.held[key] = ttl
	return true, nil
}

func (l *memoryLocker) Del(ctx context.Context, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, k := range keys {
		delete(l.held, k)
		l.freed = append(l.freed, k)
	}
	return nil
}

func (l *memoryLocker) LockKey(name string) string { return "lock:" + name }

func (h *harness) withLocker(t *testing.T, locker *memoryLocker) {
	t.Helper()
	svc, err := NewService(Params{
		Identity:       IdentityFunc(func(context.Context) (uuid.UUID, bool) { return h.order.UserID, true }),
		Orders:         stubOrders{order: h.order},
		Addresses:      stubAddresses{owner: h.order.UserID, id: h.req.ShippingAddressID},
		PaymentMethods: stubMethods{owner: h.order.UserID, id: h.req.PaymentMethodID},
		Gateway:        h.gateway,
		Payments:       h.engine,
		Locker:         locker,
		LockTTL:        time.Minute,
		CallbackURL:    "https://example.com/payment-callback",
	})
	require.NoError(t, err)
	h.svc = svc
}

func TestCheckoutHeldOrderLockIsDuplicate(t *testing.T) {
	h := newHarness(t, enums.PaymentStatusUnpaid)
	locker := newMemoryLocker()
	h.withLocker(t, locker)
	key := locker.LockKey("checkout:" + h.order.ID.String())
	locker.held[key] = time.Minute

	_, err := h.svc.Checkout(context.Background(), h.req)
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDuplicateCheckout))
	assert.Empty(t, h.gateway.requests)
	assert.Empty(t, h.engine.started)
	assert.Contains(t, locker.held, key)
}

func TestCheckoutReleasesOrderLock(t *testing.T) {
	h := newHarness(t, enums.PaymentStatusUnpaid)
	locker := newMemoryLocker()
	h.withLocker(t, locker)
	key := locker.LockKey("checkout:" + h.order.ID.String())

	// The client hung up while the gateway call was failing.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.gateway.err = pkgerrors.New(pkgerrors.CodeGateway, "Bad Request - Invalid PhoneNumber")
	_, err := h.svc.Checkout(ctx, h.req)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeGateway))
	assert.Empty(t, locker.held)

	h.gateway.err = nil
	_, err = h.svc.Checkout(context.Background(), h.req)
	require.NoError(t, err)
	assert.Len(t, h.engine.started, 1)
	assert.Empty(t, locker.held)
	assert.Equal(t, []string{key, key}, locker.freed)
}

func TestCheckoutProceedsWhenLockStoreDown(t *testing.T) {
	h := newHarness(t, enums.PaymentStatusUnpaid)
	locker := newMemoryLocker()
	locker.err = errors.New("dial tcp: connection refused")
	h.withLocker(t, locker)

	_, err := h.svc.Checkout(context.Background(), h.req)
	require.NoError(t, err)
	assert.Len(t, h.engine.started, 1)
	assert.Empty(t, locker.freed)
}
