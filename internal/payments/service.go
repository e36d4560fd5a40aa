package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	dbpkg "github.com/mohacollection/storefront-backend/pkg/db"
	"github.com/mohacollection/storefront-backend/pkg/db/models"
	"github.com/mohacollection/storefront-backend/pkg/enums"
	pkgerrors "github.com/mohacollection/storefront-backend/pkg/errors"
	"github.com/mohacollection/storefront-backend/pkg/logger"
	"github.com/mohacollection/storefront-backend/pkg/metrics"
	"github.com/mohacollection/storefront-backend/pkg/mpesa"
	"github.com/mohacollection/storefront-backend/pkg/outbox"
	"github.com/mohacollection/storefront-backend/pkg/outbox/payloads"
)

// Reconciliation sources recorded on events and metrics.
const (
	SourceCallback = "callback"
	SourceQuery    = "query"
	SourceSweeper  = "sweeper"
)

const (
	outcomeApplied   = "applied"
	outcomeNoop      = "noop"
	outcomeReplay    = "replay"
	outcomeUnknown   = "unknown"
	outcomeError     = "error"
	defaultReplayTTL = 72 * time.Hour
)

const reasonInvalidPayload = "invalid payload"

var errUnknownTransaction = errors.New("unknown checkout request id")

// Engine owns the payment transaction lifecycle.
type Engine interface {
	Start(ctx context.Context, order *models.Order, phone string, resp *mpesa.InitiateResponse) (*models.PaymentTransaction, error)
	InFlight(ctx context.Context, orderID uuid.UUID) (bool, error)
	ReconcileCallback(ctx context.Context, payload []byte) (*Outcome, error)
	ReconcileQuery(ctx context.Context, checkoutRequestID string) (*mpesa.QueryResponse, *Outcome, error)
	ExpireStale(ctx context.Context, checkoutRequestID string) (*Outcome, error)
	ListStale(ctx context.Context, olderThan time.Duration, limit int) ([]models.PaymentTransaction, error)
}

// Gateway is the subset of the M-Pesa client the engine needs.
type Gateway interface {
	Query(ctx context.Context, checkoutRequestID string) (*mpesa.QueryResponse, error)
}

// CallbackGuard marks processed callbacks so provider replays skip the database.
type CallbackGuard interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	CallbackKey(checkoutRequestID, resultCode string) string
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Outcome summarizes one reconciliation attempt.
type Outcome struct {
	TransactionID     uuid.UUID               `json:"transaction_id"`
	OrderID           uuid.UUID               `json:"order_id"`
	CheckoutRequestID string                  `json:"checkout_request_id"`
	Status            enums.TransactionStatus `json:"status"`
	PaymentStatus     enums.PaymentStatus     `json:"payment_status"`
	Applied           bool                    `json:"applied"`
	Message           string                  `json:"message"`
}

// EngineParams bundles the engine's collaborators. Gateway, Guard, Metrics and
// Logger are optional.
type EngineParams struct {
	Repo      *Repository
	Tx        txRunner
	Outbox    outbox.Emitter
	Gateway   Gateway
	Guard     CallbackGuard
	ReplayTTL time.Duration
	Metrics   *metrics.PaymentMetrics
	Logger    *logger.Logger
	Now       func() time.Time
}

type engine struct {
	repo      *Repository
	tx        txRunner
	outbox    outbox.Emitter
	gateway   Gateway
	guard     CallbackGuard
	replayTTL time.Duration
	metrics   *metrics.PaymentMetrics
	logg      *logger.Logger
	now       func() time.Time
}

func NewEngine(params EngineParams) (Engine, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if params.Tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	ttl := params.ReplayTTL
	if ttl <= 0 {
		ttl = defaultReplayTTL
	}
	return &engine{
		repo:      params.Repo,
		tx:        params.Tx,
		outbox:    params.Outbox,
		gateway:   params.Gateway,
		guard:     params.Guard,
		replayTTL: ttl,
		metrics:   params.Metrics,
		logg:      params.Logger,
		now:       now,
	}, nil
}

func (e *engine) InFlight(ctx context.Context, orderID uuid.UUID) (bool, error) {
	pending, err := e.repo.HasPending(ctx, orderID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check in-flight payment")
	}
	return pending, nil
}

// Start records the pending transaction for an accepted STK push.
func (e *engine) Start(ctx context.Context, order *models.Order, phone string, resp *mpesa.InitiateResponse) (*models.PaymentTransaction, error) {
	if order == nil || resp == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order and gateway response are required")
	}
	if strings.TrimSpace(resp.CheckoutRequestID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeGateway, "gateway response missing CheckoutRequestID")
	}

	txn := &models.PaymentTransaction{
		OrderID:           order.ID,
		CheckoutRequestID: resp.CheckoutRequestID,
		MerchantRequestID: resp.MerchantRequestID,
		PhoneNumber:       phone,
		Amount:            order.TotalAmount,
		Status:            enums.TransactionStatusPending,
	}

	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := e.repo.WithTx(tx)
		locked, err := repo.LockOrder(ctx, order.ID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock order")
		}
		if locked.PaymentStatus != enums.PaymentStatusUnpaid {
			return pkgerrors.New(pkgerrors.CodeAlreadyProcessed, "Order already processed")
		}
		pending, err := repo.HasPending(ctx, order.ID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "check in-flight payment")
		}
		if pending {
			return pkgerrors.New(pkgerrors.CodeDuplicateCheckout, "a payment is already in progress for this order")
		}
		if err := repo.Create(ctx, txn); err != nil {
			if dbpkg.IsUniqueViolation(err, "ux_payment_transactions_inflight") {
				return pkgerrors.New(pkgerrors.CodeDuplicateCheckout, "a payment is already in progress for this order")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create payment transaction")
		}
		return e.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventCheckoutInitiated,
			AggregateType: enums.AggregatePaymentTransaction,
			AggregateID:   txn.ID,
			Actor:         &outbox.ActorRef{UserID: order.UserID, Role: enums.UserRoleCustomer.String()},
			Data: payloads.CheckoutInitiatedEvent{
				OrderID:           order.ID,
				TransactionID:     txn.ID,
				CheckoutRequestID: txn.CheckoutRequestID,
				MerchantRequestID: txn.MerchantRequestID,
				Amount:            txn.Amount,
			},
		})
	})
	if err != nil {
		e.metrics.IncCheckout(checkoutResult(err))
		return nil, err
	}
	e.metrics.IncCheckout("started")
	return txn, nil
}

// ReconcileCallback applies a provider callback. Unknown checkout ids and
// unreadable payloads are stored for replay and reported as an internal
// consistency error.
func (e *engine) ReconcileCallback(ctx context.Context, payload []byte) (*Outcome, error) {
	cb, err := mpesa.ParseCallback(payload)
	if err != nil {
		return nil, e.recordFailure(ctx, "", reasonInvalidPayload, payload)
	}
	checkoutID := strings.TrimSpace(cb.CheckoutRequestID)
	if checkoutID == "" {
		return nil, e.recordFailure(ctx, "", reasonInvalidPayload, payload)
	}
	if e.logg != nil {
		ctx = e.logg.WithCheckoutRequestID(ctx, checkoutID)
	}

	guardKey := ""
	if e.guard != nil {
		key := e.guard.CallbackKey(checkoutID, cb.ResultCode.String())
		fresh, err := e.guard.SetNX(ctx, key, e.now().Format(time.RFC3339), e.replayTTL)
		switch {
		case err != nil:
			e.warn(ctx, "callback guard unavailable", err)
		case !fresh:
			// A key left behind by a failed release must not hide a pending row.
			if outcome := e.settledOutcome(ctx, checkoutID); outcome != nil {
				e.metrics.IncReconciliation(SourceCallback, outcomeReplay)
				return outcome, nil
			}
		default:
			guardKey = key
		}
	}

	in := settlement{
		CheckoutRequestID: checkoutID,
		ResultCode:        cb.ResultCode.String(),
		ResultDesc:        cb.ResultDesc,
		Receipt:           cb.ReceiptNumber(),
		Source:            SourceCallback,
	}
	if amount, ok := cb.Amount(); ok {
		in.Amount = &amount
	}

	outcome, err := e.apply(ctx, in)
	if err != nil {
		if guardKey != "" {
			if delErr := e.guard.Del(context.WithoutCancel(ctx), guardKey); delErr != nil {
				e.warn(ctx, "release callback guard", delErr)
			}
		}
		if errors.Is(err, errUnknownTransaction) {
			return nil, e.recordFailure(ctx, checkoutID, errUnknownTransaction.Error(), payload)
		}
		return nil, err
	}
	return outcome, nil
}

// settledOutcome reports a terminal transaction without locking it. It
// returns nil when the row is missing, still pending or unreadable.
func (e *engine) settledOutcome(ctx context.Context, checkoutID string) *Outcome {
	txn, err := e.repo.FindByCheckoutID(ctx, checkoutID)
	if err != nil || !txn.Status.IsTerminal() {
		return nil
	}
	paymentStatus, err := e.repo.OrderPaymentStatus(ctx, txn.OrderID)
	if err != nil {
		return nil
	}
	return &Outcome{
		TransactionID:     txn.ID,
		OrderID:           txn.OrderID,
		CheckoutRequestID: checkoutID,
		Status:            txn.Status,
		PaymentStatus:     paymentStatus,
		Message:           settledMessage(txn.Status),
	}
}

// ReconcileQuery polls the gateway and applies a final result when one is
// available. Pending results leave the transaction untouched.
func (e *engine) ReconcileQuery(ctx context.Context, checkoutRequestID string) (*mpesa.QueryResponse, *Outcome, error) {
	checkoutID := strings.TrimSpace(checkoutRequestID)
	if checkoutID == "" {
		return nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "checkout_request_id is required")
	}
	if e.gateway == nil {
		return nil, nil, pkgerrors.New(pkgerrors.CodeDependency, "payment gateway unavailable")
	}
	if _, err := e.repo.FindByCheckoutID(ctx, checkoutID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment transaction not found")
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment transaction")
	}

	resp, err := e.gateway.Query(ctx, checkoutID)
	if err != nil {
		e.metrics.IncReconciliation(SourceQuery, outcomeError)
		return nil, nil, err
	}
	if resp.ResultCode == "" {
		return resp, &Outcome{CheckoutRequestID: checkoutID, Status: enums.TransactionStatusPending, Message: "payment still pending"}, nil
	}

	outcome, err := e.apply(ctx, settlement{
		CheckoutRequestID: checkoutID,
		ResultCode:        resp.ResultCode.String(),
		ResultDesc:        resp.ResultDesc,
		Source:            SourceQuery,
	})
	if err != nil {
		return resp, nil, err
	}
	return resp, outcome, nil
}

// ExpireStale cancels a transaction that never settled.
func (e *engine) ExpireStale(ctx context.Context, checkoutRequestID string) (*Outcome, error) {
	outcome, err := e.apply(ctx, settlement{
		CheckoutRequestID: checkoutRequestID,
		ResultDesc:        "expired without provider confirmation",
		Source:            SourceSweeper,
		Force:             enums.TransactionStatusCancelled,
	})
	if errors.Is(err, errUnknownTransaction) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment transaction not found")
	}
	return outcome, err
}

func (e *engine) ListStale(ctx context.Context, olderThan time.Duration, limit int) ([]models.PaymentTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := e.repo.ListStale(ctx, e.now().Add(-olderThan), limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list stale payments")
	}
	return rows, nil
}

// recordFailure keeps a callback the engine could not apply and returns the
// consistency error the controller acknowledges with a 200.
func (e *engine) recordFailure(ctx context.Context, checkoutID, reason string, payload []byte) error {
	raw := payload
	if !json.Valid(raw) {
		raw, _ = json.Marshal(map[string]string{"raw": string(payload)})
	}
	failure := &models.PaymentCallbackFailure{
		CheckoutRequestID: checkoutID,
		Reason:            reason,
		Payload:           raw,
	}
	if err := e.repo.InsertCallbackFailure(ctx, failure); err != nil {
		e.metrics.IncReconciliation(SourceCallback, outcomeError)
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persist unmatched callback")
	}
	e.metrics.IncReconciliation(SourceCallback, outcomeUnknown)
	if reason == reasonInvalidPayload {
		e.warn(ctx, "invalid callback payload stored for review", nil)
		return pkgerrors.New(pkgerrors.CodeInternalConsistency, "callback payload could not be processed")
	}
	e.warn(ctx, "callback for unknown transaction stored for replay", nil)
	return pkgerrors.New(pkgerrors.CodeInternalConsistency, "payment transaction not found for callback")
}

func (e *engine) warn(ctx context.Context, msg string, err error) {
	if e.logg == nil {
		return
	}
	if err != nil {
		ctx = e.logg.WithField(ctx, "error", err.Error())
	}
	e.logg.Warn(ctx, msg)
}

func checkoutResult(err error) string {
	if typed := pkgerrors.As(err); typed != nil {
		return strings.ToLower(string(typed.Code()))
	}
	return "error"
}

// overPaid compares against the whole-shilling amount actually requested.
func overPaid(paid, requested decimal.Decimal) bool {
	return paid.GreaterThan(requested.Ceil())
}
