package payments

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/mohacollection/storefront-backend/pkg/enums"
	pkgerrors "github.com/mohacollection/storefront-backend/pkg/errors"
	"github.com/mohacollection/storefront-backend/pkg/mpesa"
	"github.com/mohacollection/storefront-backend/pkg/outbox"
	"github.com/mohacollection/storefront-backend/pkg/outbox/payloads"
)

// settlement is a provider result from any source. Force overrides the
// result-code mapping.
type settlement struct {
	CheckoutRequestID string
	ResultCode        string
	ResultDesc        string
	Receipt           string
	Amount            *decimal.Decimal
	Source            string
	Force             enums.TransactionStatus
}

func (s settlement) status(requested decimal.Decimal) enums.TransactionStatus {
	if s.Force != "" {
		return s.Force
	}
	if s.ResultCode != mpesa.ResultCodeSuccess {
		return enums.TransactionStatusFailed
	}
	if s.Amount != nil && overPaid(*s.Amount, requested) {
		return enums.TransactionStatusOverPay
	}
	return enums.TransactionStatusCompleted
}

// apply locks the transaction, moves it out of pending, updates the order's
// payment status and emits the settlement event in one database transaction.
// A transaction that is already terminal is left untouched.
func (e *engine) apply(ctx context.Context, in settlement) (*Outcome, error) {
	outcome := &Outcome{CheckoutRequestID: in.CheckoutRequestID}

	err := e.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := e.repo.WithTx(tx)
		txn, err := repo.LockByCheckoutID(ctx, in.CheckoutRequestID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errUnknownTransaction
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock payment transaction")
		}
		outcome.TransactionID = txn.ID
		outcome.OrderID = txn.OrderID

		order, err := repo.LockOrder(ctx, txn.OrderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeInternalConsistency, "order missing for payment transaction")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock order")
		}

		if txn.Status.IsTerminal() {
			outcome.Status = txn.Status
			outcome.PaymentStatus = order.PaymentStatus
			outcome.Message = settledMessage(txn.Status)
			return nil
		}

		now := e.now()
		txn.Status = in.status(txn.Amount)
		txn.ResultCode = optional(in.ResultCode)
		txn.ResultDesc = optional(in.ResultDesc)
		txn.MpesaReceiptNumber = optional(in.Receipt)
		txn.CompletedAt = &now

		settled, err := repo.Settle(ctx, txn)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "settle payment transaction")
		}
		if !settled {
			return pkgerrors.New(pkgerrors.CodeInternalConsistency, "payment transaction changed concurrently")
		}

		paymentStatus := order.PaymentStatus
		if txn.Status.Settles() && paymentStatus != enums.PaymentStatusPaid {
			paymentStatus = enums.PaymentStatusPaid
			if err := repo.SetOrderPaymentStatus(ctx, order.ID, paymentStatus); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "mark order paid")
			}
		}

		outcome.Status = txn.Status
		outcome.PaymentStatus = paymentStatus
		outcome.Applied = true
		outcome.Message = settledMessage(txn.Status)

		return e.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     eventFor(txn.Status),
			AggregateType: enums.AggregatePaymentTransaction,
			AggregateID:   txn.ID,
			Data: payloads.PaymentSettledEvent{
				OrderID:            order.ID,
				TransactionID:      txn.ID,
				CheckoutRequestID:  txn.CheckoutRequestID,
				Status:             txn.Status,
				PaymentStatus:      paymentStatus,
				ResultCode:         in.ResultCode,
				ResultDesc:         in.ResultDesc,
				MpesaReceiptNumber: in.Receipt,
				Amount:             txn.Amount,
				Source:             in.Source,
				SettledAt:          now,
			},
		})
	})
	if err != nil {
		if !errors.Is(err, errUnknownTransaction) {
			e.metrics.IncReconciliation(in.Source, outcomeError)
		}
		return nil, err
	}

	if outcome.Applied {
		e.metrics.IncReconciliation(in.Source, outcomeApplied)
		if e.logg != nil {
			logCtx := e.logg.WithFields(ctx, map[string]any{
				"order_id":       outcome.OrderID.String(),
				"payment_status": string(outcome.Status),
				"source":         in.Source,
			})
			e.logg.Info(logCtx, "payment reconciled")
		}
	} else {
		e.metrics.IncReconciliation(in.Source, outcomeNoop)
	}
	return outcome, nil
}

func eventFor(status enums.TransactionStatus) enums.OutboxEventType {
	switch status {
	case enums.TransactionStatusCompleted, enums.TransactionStatusOverPay:
		return enums.EventPaymentCompleted
	case enums.TransactionStatusCancelled:
		return enums.EventPaymentCancelled
	default:
		return enums.EventPaymentFailed
	}
}

// settledMessage is shared by first and repeated deliveries so the provider
// always sees the same acknowledgment.
func settledMessage(status enums.TransactionStatus) string {
	return "payment " + string(status)
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

