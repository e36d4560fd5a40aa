package payments

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mohacollection/storefront-backend/pkg/db/models"
	"github.com/mohacollection/storefront-backend/pkg/enums"
)

// Repository persists payment transactions and the order projection they drive.
type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// HasPending reports whether the order has a transaction awaiting settlement.
func (r *Repository) HasPending(ctx context.Context, orderID uuid.UUID) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).
		Model(&models.PaymentTransaction{}).
		Where("order_id = ? AND status = ?", orderID, enums.TransactionStatusPending).
		Count(&n).Error
	return n > 0, err
}

func (r *Repository) Create(ctx context.Context, txn *models.PaymentTransaction) error {
	return r.db.WithContext(ctx).Create(txn).Error
}

func (r *Repository) FindByCheckoutID(ctx context.Context, checkoutRequestID string) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	err := r.db.WithContext(ctx).Where("checkout_request_id = ?", checkoutRequestID).First(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// LockByCheckoutID loads the transaction with SELECT ... FOR UPDATE.
func (r *Repository) LockByCheckoutID(ctx context.Context, checkoutRequestID string) (*models.PaymentTransaction, error) {
	var txn models.PaymentTransaction
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("checkout_request_id = ?", checkoutRequestID).
		First(&txn).Error
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// Settle moves a pending transaction to its terminal state. The status guard
// keeps transitions monotone even without the row lock.
func (r *Repository) Settle(ctx context.Context, txn *models.PaymentTransaction) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.PaymentTransaction{}).
		Where("id = ? AND status = ?", txn.ID, enums.TransactionStatusPending).
		Updates(map[string]any{
			"status":               txn.Status,
			"result_code":          txn.ResultCode,
			"result_desc":          txn.ResultDesc,
			"mpesa_receipt_number": txn.MpesaReceiptNumber,
			"completed_at":         txn.CompletedAt,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *Repository) LockOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", orderID).
		First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *Repository) OrderPaymentStatus(ctx context.Context, orderID uuid.UUID) (enums.PaymentStatus, error) {
	var order models.Order
	err := r.db.WithContext(ctx).Select("payment_status").Where("id = ?", orderID).First(&order).Error
	if err != nil {
		return "", err
	}
	return order.PaymentStatus, nil
}

func (r *Repository) SetOrderPaymentStatus(ctx context.Context, orderID uuid.UUID, status enums.PaymentStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", orderID).
		Update("payment_status", status).Error
}

func (r *Repository) InsertCallbackFailure(ctx context.Context, failure *models.PaymentCallbackFailure) error {
	return r.db.WithContext(ctx).Create(failure).Error
}

// ListStale returns pending transactions created before cutoff, oldest first.
func (r *Repository) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]models.PaymentTransaction, error) {
	var rows []models.PaymentTransaction
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", enums.TransactionStatusPending, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}
