package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/mohacollection/storefront-backend/pkg/db/models"
	"github.com/mohacollection/storefront-backend/pkg/enums"
	pkgerrors "github.com/mohacollection/storefront-backend/pkg/errors"
	"github.com/mohacollection/storefront-backend/pkg/logger"
	"github.com/mohacollection/storefront-backend/pkg/outbox"
	"github.com/mohacollection/storefront-backend/pkg/outbox/payloads"
	"github.com/mohacollection/storefront-backend/pkg/pagination"
)

const emptyCartMessage = "Cart is empty or does not exist"

// Service exposes order creation and read/update paths.
type Service interface {
	CreateOrder(ctx context.Context, userID, cartID uuid.UUID) (*OrderDTO, error)
	ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (*pagination.Page[OrderDTO], error)
	GetForUser(ctx context.Context, userID, orderID uuid.UUID) (*OrderDTO, error)
	UpdateStatus(ctx context.Context, orderID uuid.UUID, status enums.OrderStatus) (*OrderDTO, error)
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outbox.Emitter
	logg   *logger.Logger
}

// NewService wires the order factory.
func NewService(repo Repository, tx txRunner, emitter outbox.Emitter, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	return &service{repo: repo, tx: tx, outbox: emitter, logg: logg}, nil
}

// CreateOrder converts the user's cart into an order. Prices are frozen from
// the live product rows and the cart is flipped inactive in the same
// transaction; a cart that is missing, already converted or empty yields EmptyCart.
func (s *service) CreateOrder(ctx context.Context, userID, cartID uuid.UUID) (*OrderDTO, error) {
	var created *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		cart, err := repo.LockCart(ctx, cartID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeEmptyCart, emptyCartMessage)
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock cart")
		}
		if cart.UserID == nil || *cart.UserID != userID || !cart.Active {
			return pkgerrors.New(pkgerrors.CodeEmptyCart, emptyCartMessage)
		}

		items, err := repo.CartItems(ctx, cartID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load cart items")
		}
		if len(items) == 0 {
			return pkgerrors.New(pkgerrors.CodeEmptyCart, emptyCartMessage)
		}

		order := &models.Order{
			ID:            uuid.New(),
			UserID:        userID,
			CartID:        cartID,
			Status:        enums.OrderStatusPending,
			PaymentStatus: enums.PaymentStatusUnpaid,
		}
		orderItems := make([]models.OrderItem, 0, len(items))
		total := decimal.Zero
		for _, item := range items {
			if item.Product == nil {
				return pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
			}
			price := item.Product.Price.Round(2)
			total = total.Add(price.Mul(decimal.NewFromInt(int64(item.Quantity))))
			orderItems = append(orderItems, models.OrderItem{
				OrderID:   order.ID,
				ProductID: item.ProductID,
				Quantity:  item.Quantity,
				Price:     price,
				Size:      item.Size,
			})
		}
		order.TotalAmount = total

		if err := repo.CreateOrder(ctx, order); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create order")
		}
		if err := repo.CreateOrderItems(ctx, orderItems); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create order items")
		}
		flipped, err := repo.DeactivateCart(ctx, cartID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "deactivate cart")
		}
		if !flipped {
			return pkgerrors.New(pkgerrors.CodeEmptyCart, emptyCartMessage)
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: userID, Role: enums.UserRoleCustomer.String()},
			Data: payloads.OrderCreatedEvent{
				OrderID:     order.ID,
				UserID:      userID,
				CartID:      cartID,
				TotalAmount: total,
				ItemCount:   len(orderItems),
			},
		}); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "emit order created")
		}

		order.Items = orderItems
		created = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.logg != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"order_id": created.ID.String(),
			"total":    created.TotalAmount.StringFixed(2),
		})
		s.logg.Info(logCtx, "order created")
	}
	return FromModel(created), nil
}

func (s *service) ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (*pagination.Page[OrderDTO], error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	rows, err := s.repo.ListForUser(ctx, userID, params.Limit, cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list orders")
	}
	page := pagination.Paginate(rows, params.Limit, func(o models.Order) pagination.Cursor {
		return pagination.Cursor{CreatedAt: o.CreatedAt, ID: o.ID}
	})
	items := make([]OrderDTO, 0, len(page.Items))
	for i := range page.Items {
		items = append(items, *FromModel(&page.Items[i]))
	}
	return &pagination.Page[OrderDTO]{Items: items, NextCursor: page.NextCursor}, nil
}

func (s *service) GetForUser(ctx context.Context, userID, orderID uuid.UUID) (*OrderDTO, error) {
	order, err := s.repo.FindForUser(ctx, userID, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load order")
	}
	return FromModel(order), nil
}

// UpdateStatus moves the order one step along the fulfilment lifecycle. Orders
// cannot leave pending until they are paid.
func (s *service) UpdateStatus(ctx context.Context, orderID uuid.UUID, status enums.OrderStatus) (*OrderDTO, error) {
	if !status.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid order status")
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		order, err := repo.LockByID(ctx, orderID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lock order")
		}

		next, ok := order.Status.Next()
		if !ok || next != status {
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("cannot move order from %s to %s", order.Status, status))
		}
		if order.PaymentStatus != enums.PaymentStatusPaid {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "order must be paid before fulfilment")
		}

		if err := repo.UpdateStatus(ctx, orderID, status); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update order status")
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderStatusChanged,
			AggregateType: enums.AggregateOrder,
			AggregateID:   orderID,
			Data: payloads.OrderStatusChangedEvent{
				OrderID: orderID,
				From:    order.Status,
				To:      status,
			},
		})
	})
	if err != nil {
		return nil, err
	}

	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "reload order")
	}
	return FromModel(order), nil
}
