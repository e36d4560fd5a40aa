package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mohacollection/storefront-backend/pkg/db/models"
	"github.com/mohacollection/storefront-backend/pkg/enums"
	pkgerrors "github.com/mohacollection/storefront-backend/pkg/errors"
	"github.com/mohacollection/storefront-backend/pkg/logger"
	"github.com/mohacollection/storefront-backend/pkg/mpesa"
)

// IdentityProvider resolves the authenticated user for the request.
type IdentityProvider interface {
	UserID(ctx context.Context) (uuid.UUID, bool)
}

// IdentityFunc adapts a function to IdentityProvider.
type IdentityFunc func(ctx context.Context) (uuid.UUID, bool)

func (f IdentityFunc) UserID(ctx context.Context) (uuid.UUID, bool) {
	return f(ctx)
}

type orderLoader interface {
	FindForUser(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error)
}

type addressLoader interface {
	GetForUser(ctx context.Context, userID, id uuid.UUID) (*models.ShippingAddress, error)
}

type paymentMethodLoader interface {
	GetForUser(ctx context.Context, userID, id uuid.UUID) (*models.PaymentMethod, error)
}

type gateway interface {
	Initiate(ctx context.Context, req mpesa.InitiateRequest) (*mpesa.InitiateResponse, error)
}

type paymentEngine interface {
	InFlight(ctx context.Context, orderID uuid.UUID) (bool, error)
	Start(ctx context.Context, order *models.Order, phone string, resp *mpesa.InitiateResponse) (*models.PaymentTransaction, error)
}

// OrderLocker serializes checkout attempts for one order across instances.
// *redis.Client satisfies it.
type OrderLocker interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	LockKey(name string) string
}

const defaultLockTTL = 45 * time.Second

// Request is the checkout payload.
type Request struct {
	OrderID           uuid.UUID
	ShippingAddressID uuid.UUID
	PaymentMethodID   uuid.UUID
	PhoneNumber       string
}

// Result echoes the gateway's correlation identifiers to the client.
type Result struct {
	CheckoutRequestID   string `json:"checkout_request_id"`
	MerchantRequestID   string `json:"merchant_request_id"`
	ResponseCode        string `json:"response_code"`
	ResponseDescription string `json:"response_description"`
	CustomerMessage     string `json:"customer_message"`
}

// Service starts an M-Pesa checkout for an existing order.
type Service interface {
	Checkout(ctx context.Context, req Request) (*Result, error)
}

// Params bundles the orchestrator's collaborators. Locker and Logger are
// optional; LockTTL should outlast a slow gateway round trip.
type Params struct {
	Identity       IdentityProvider
	Orders         orderLoader
	Addresses      addressLoader
	PaymentMethods paymentMethodLoader
	Gateway        gateway
	Payments       paymentEngine
	Locker         OrderLocker
	LockTTL        time.Duration
	CallbackURL    string
	Logger         *logger.Logger
}

type service struct {
	identity    IdentityProvider
	orders      orderLoader
	addresses   addressLoader
	methods     paymentMethodLoader
	gateway     gateway
	payments    paymentEngine
	locker      OrderLocker
	lockTTL     time.Duration
	callbackURL string
	logg        *logger.Logger
}

func NewService(p Params) (Service, error) {
	switch {
	case p.Identity == nil:
		return nil, fmt.Errorf("identity provider required")
	case p.Orders == nil:
		return nil, fmt.Errorf("order loader required")
	case p.Addresses == nil:
		return nil, fmt.Errorf("address loader required")
	case p.PaymentMethods == nil:
		return nil, fmt.Errorf("payment method loader required")
	case p.Gateway == nil:
		return nil, fmt.Errorf("payment gateway required")
	case p.Payments == nil:
		return nil, fmt.Errorf("payment engine required")
	case strings.TrimSpace(p.CallbackURL) == "":
		return nil, fmt.Errorf("callback url required")
	}
	lockTTL := p.LockTTL
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	return &service{
		identity:    p.Identity,
		orders:      p.Orders,
		addresses:   p.Addresses,
		methods:     p.PaymentMethods,
		gateway:     p.Gateway,
		payments:    p.Payments,
		locker:      p.Locker,
		lockTTL:     lockTTL,
		callbackURL: p.CallbackURL,
		logg:        p.Logger,
	}, nil
}

// Checkout validates ownership and payment state before contacting the
// gateway. No transaction is recorded when the gateway rejects the push.
func (s *service) Checkout(ctx context.Context, req Request) (*Result, error) {
	userID, ok := s.identity.UserID(ctx)
	if !ok || userID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}

	order, err := s.orders.FindForUser(ctx, userID, req.OrderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	if order.PaymentStatus != enums.PaymentStatusUnpaid {
		return nil, pkgerrors.New(pkgerrors.CodeAlreadyProcessed, "Order already processed")
	}

	if _, err := s.addresses.GetForUser(ctx, userID, req.ShippingAddressID); err != nil {
		return nil, err
	}
	if _, err := s.methods.GetForUser(ctx, userID, req.PaymentMethodID); err != nil {
		return nil, err
	}

	phone := req.PhoneNumber
	if err := mpesa.ValidatePhone(phone); err != nil {
		return nil, err
	}

	release, err := s.lockOrder(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	inFlight, err := s.payments.InFlight(ctx, order.ID)
	if err != nil {
		return nil, err
	}
	if inFlight {
		return nil, pkgerrors.New(pkgerrors.CodeDuplicateCheckout, "a payment is already in progress for this order")
	}

	resp, err := s.gateway.Initiate(ctx, mpesa.InitiateRequest{
		OrderID:     order.ID,
		PhoneNumber: phone,
		Amount:      order.TotalAmount,
		CallbackURL: s.callbackURL,
	})
	if err != nil {
		if pkgerrors.As(err) == nil {
			err = pkgerrors.Wrap(pkgerrors.CodeGateway, err, "initiate stk push")
		}
		return nil, err
	}

	if _, err := s.payments.Start(ctx, order, phone, resp); err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"order_id":            order.ID.String(),
			"checkout_request_id": resp.CheckoutRequestID,
		})
		s.logg.Info(logCtx, "stk push initiated")
	}

	return &Result{
		CheckoutRequestID:   resp.CheckoutRequestID,
		MerchantRequestID:   resp.MerchantRequestID,
		ResponseCode:        resp.ResponseCode,
		ResponseDescription: resp.ResponseDescription,
		CustomerMessage:     resp.CustomerMessage,
	}, nil
}

// lockOrder holds the order across initiate and start so two requests cannot
// both push a prompt to the customer's phone. Without Redis the database's
// in-flight index is the only guard.
func (s *service) lockOrder(ctx context.Context, orderID uuid.UUID) (func(), error) {
	noop := func() {}
	if s.locker == nil {
		return noop, nil
	}
	key := s.locker.LockKey("checkout:" + orderID.String())
	acquired, err := s.locker.SetNX(ctx, key, time.Now().UTC().Format(time.RFC3339), s.lockTTL)
	if err != nil {
		if s.logg != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "checkout lock unavailable")
		}
		return noop, nil
	}
	if !acquired {
		return nil, pkgerrors.New(pkgerrors.CodeDuplicateCheckout, "a payment is already in progress for this order")
	}
	return func() {
		if err := s.locker.Del(context.WithoutCancel(ctx), key); err != nil && s.logg != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "release checkout lock")
		}
	}, nil
}
