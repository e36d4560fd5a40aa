package cart

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mohacollection/storefront-backend/pkg/db/models"
)

// CartDTO is the API view of a cart with live prices.
type CartDTO struct {
	ID        uuid.UUID     `json:"id"`
	Items     []CartItemDTO `json:"items"`
	ItemCount int           `json:"item_count"`
	Subtotal  string        `json:"subtotal"`
}

// CartItemDTO is one line of the cart view.
type CartItemDTO struct {
	ID          uuid.UUID `json:"id"`
	ProductID   uuid.UUID `json:"product_id"`
	ProductName string    `json:"product_name"`
	UnitPrice   string    `json:"unit_price"`
	Quantity    int       `json:"quantity"`
	Size        string    `json:"size"`
	LineTotal   string    `json:"line_total"`
}

// ItemUpdate carries the optional changes to a cart item. QuantityDelta is
// added to the current quantity.
type ItemUpdate struct {
	QuantityDelta *int
	Size          *string
}

// Subtotal sums price*quantity over items with a loaded product.
func Subtotal(items []models.CartItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		if item.Product == nil {
			continue
		}
		total = total.Add(item.Product.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}

func toDTO(cart *models.Cart, items []models.CartItem) *CartDTO {
	out := &CartDTO{
		ID:       cart.ID,
		Items:    make([]CartItemDTO, 0, len(items)),
		Subtotal: Subtotal(items).StringFixed(2),
	}
	for _, item := range items {
		dto := CartItemDTO{
			ID:        item.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Size:      item.Size.String(),
		}
		if item.Product != nil {
			dto.ProductName = item.Product.Name
			dto.UnitPrice = item.Product.Price.StringFixed(2)
			dto.LineTotal = item.Product.Price.Mul(decimal.NewFromInt(int64(item.Quantity))).StringFixed(2)
		}
		out.ItemCount += item.Quantity
		out.Items = append(out.Items, dto)
	}
	return out
}
