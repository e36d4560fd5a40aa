package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/mohacollection/storefront-backend/pkg/enums"
)

// PaymentTransaction is one STK push attempt for an order. Only one pending
// transaction may exist per order.
type PaymentTransaction struct {
	ID                 uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID            uuid.UUID               `gorm:"column:order_id;type:uuid;not null"`
	CheckoutRequestID  string                  `gorm:"column:checkout_request_id;not null;uniqueIndex"`
	MerchantRequestID  string                  `gorm:"column:merchant_request_id;not null"`
	PhoneNumber        string                  `gorm:"column:phone_number;not null"`
	Amount             decimal.Decimal         `gorm:"column:amount;type:numeric(10,2);not null"`
	Status             enums.TransactionStatus `gorm:"column:status;not null;default:'pending'"`
	ResultCode         *string                 `gorm:"column:result_code"`
	ResultDesc         *string                 `gorm:"column:result_desc"`
	MpesaReceiptNumber *string                 `gorm:"column:mpesa_receipt_number"`
	CompletedAt        *time.Time              `gorm:"column:completed_at"`
	CreatedAt          time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (t *PaymentTransaction) BeforeCreate(*gorm.DB) error {
	ensureID(&t.ID)
	return nil
}

// PaymentCallbackFailure keeps callbacks that could not be applied so they can
// be replayed by an operator.
type PaymentCallbackFailure struct {
	ID                uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CheckoutRequestID string    `gorm:"column:checkout_request_id;not null"`
	Reason            string    `gorm:"column:reason;not null"`
	Payload           []byte    `gorm:"column:payload;type:jsonb;not null"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (f *PaymentCallbackFailure) BeforeCreate(*gorm.DB) error {
	ensureID(&f.ID)
	return nil
}
