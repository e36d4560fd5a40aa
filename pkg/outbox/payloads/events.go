package payloads

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mohacollection/storefront-backend/pkg/enums"
)

// OrderCreatedEvent is emitted when a cart is converted into an order.
type OrderCreatedEvent struct {
	OrderID     uuid.UUID       `json:"order_id"`
	UserID      uuid.UUID       `json:"user_id"`
	CartID      uuid.UUID       `json:"cart_id"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	ItemCount   int             `json:"item_count"`
}

// OrderStatusChangedEvent records an admin fulfilment transition.
type OrderStatusChangedEvent struct {
	OrderID uuid.UUID         `json:"order_id"`
	From    enums.OrderStatus `json:"from"`
	To      enums.OrderStatus `json:"to"`
}

// CheckoutInitiatedEvent is emitted once the STK push was accepted.
type CheckoutInitiatedEvent struct {
	OrderID           uuid.UUID       `json:"order_id"`
	TransactionID     uuid.UUID       `json:"transaction_id"`
	CheckoutRequestID string          `json:"checkout_request_id"`
	MerchantRequestID string          `json:"merchant_request_id"`
	Amount            decimal.Decimal `json:"amount"`
}

// PaymentSettledEvent covers completed, failed and cancelled transactions.
type PaymentSettledEvent struct {
	OrderID            uuid.UUID               `json:"order_id"`
	TransactionID      uuid.UUID               `json:"transaction_id"`
	CheckoutRequestID  string                  `json:"checkout_request_id"`
	Status             enums.TransactionStatus `json:"status"`
	PaymentStatus      enums.PaymentStatus     `json:"payment_status"`
	ResultCode         string                  `json:"result_code,omitempty"`
	ResultDesc         string                  `json:"result_desc,omitempty"`
	MpesaReceiptNumber string                  `json:"mpesa_receipt_number,omitempty"`
	Amount             decimal.Decimal         `json:"amount"`
	Source             string                  `json:"source"`
	SettledAt          time.Time               `json:"settled_at"`
}
