package cart

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mohacollection/storefront-backend/pkg/db/models"
	"github.com/mohacollection/storefront-backend/pkg/enums"
)

// CartRepository defines the persistence surface required by the cart service.
type CartRepository interface {
	WithTx(tx *gorm.DB) CartRepository
	FindActive(ctx context.Context, identity Identity) (*models.Cart, error)
	LockCart(ctx context.Context, id uuid.UUID) (*models.Cart, error)
	Create(ctx context.Context, cart *models.Cart) error
	UpsertItem(ctx context.Context, item *models.CartItem) (*models.CartItem, error)
	LockItem(ctx context.Context, cartID, itemID uuid.UUID) (*models.CartItem, error)
	FindItemBySize(ctx context.Context, cartID, productID uuid.UUID, size enums.ItemSize) (*models.CartItem, error)
	LockItemBySize(ctx context.Context, cartID, productID uuid.UUID, size enums.ItemSize) (*models.CartItem, error)
	SaveItem(ctx context.Context, item *models.CartItem) error
	DeleteItem(ctx context.Context, cartID, itemID uuid.UUID) (bool, error)
	ListItems(ctx context.Context, cartID uuid.UUID) ([]models.CartItem, error)
	Deactivate(ctx context.Context, cartID uuid.UUID) (bool, error)
}

type productLoader interface {
	FindActive(ctx context.Context, id uuid.UUID) (*models.Product, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}
