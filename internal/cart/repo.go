package cart

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mohacollection/storefront-backend/pkg/db/models"
	"github.com/mohacollection/storefront-backend/pkg/enums"
)

// Repository exposes persistence operations for carts and their items.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a cart repository bound to the provided DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx binds the repository to a transaction.
func (r *Repository) WithTx(tx *gorm.DB) CartRepository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// FindActive loads the single active cart for the identity.
func (r *Repository) FindActive(ctx context.Context, identity Identity) (*models.Cart, error) {
	query := r.db.WithContext(ctx).Where("active = ?", true)
	if identity.IsUser() {
		query = query.Where("user_id = ?", *identity.UserID)
	} else {
		query = query.Where("session_key = ?", identity.SessionKey)
	}
	var cart models.Cart
	if err := query.First(&cart).Error; err != nil {
		return nil, err
	}
	return &cart, nil
}

// LockCart loads the cart under a row lock so a concurrent checkout waits
// until the item write commits.
func (r *Repository) LockCart(ctx context.Context, id uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		First(&cart).Error
	if err != nil {
		return nil, err
	}
	return &cart, nil
}

// Create inserts the cart; the partial unique indexes reject a second active cart.
func (r *Repository) Create(ctx context.Context, cart *models.Cart) error {
	return r.db.WithContext(ctx).Create(cart).Error
}

// UpsertItem adds the quantity to an existing (cart, product, size) row in a
// single statement, or inserts a new row.
func (r *Repository) UpsertItem(ctx context.Context, item *models.CartItem) (*models.CartItem, error) {
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "cart_id"}, {Name: "product_id"}, {Name: "size"}},
		DoUpdates: clause.Assignments(map[string]any{
			"quantity":   gorm.Expr("cart_items.quantity + excluded.quantity"),
			"updated_at": time.Now().UTC(),
		}),
	}).Create(item).Error
	if err != nil {
		return nil, err
	}
	return r.FindItemBySize(ctx, item.CartID, item.ProductID, item.Size)
}

// LockItem loads an item scoped to the cart under a row lock.
func (r *Repository) LockItem(ctx context.Context, cartID, itemID uuid.UUID) (*models.CartItem, error) {
	var item models.CartItem
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND cart_id = ?", itemID, cartID).
		First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *Repository) FindItemBySize(ctx context.Context, cartID, productID uuid.UUID, size enums.ItemSize) (*models.CartItem, error) {
	var item models.CartItem
	err := r.db.WithContext(ctx).
		Where("cart_id = ? AND product_id = ? AND size = ?", cartID, productID, size).
		First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// LockItemBySize is FindItemBySize under a row lock. Merges read the sibling
// quantity through it so a concurrent UpsertItem increment is not overwritten.
func (r *Repository) LockItemBySize(ctx context.Context, cartID, productID uuid.UUID, size enums.ItemSize) (*models.CartItem, error) {
	var item models.CartItem
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("cart_id = ? AND product_id = ? AND size = ?", cartID, productID, size).
		First(&item).Error
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *Repository) SaveItem(ctx context.Context, item *models.CartItem) error {
	return r.db.WithContext(ctx).Model(item).Updates(map[string]any{
		"quantity": item.Quantity,
		"size":     item.Size,
	}).Error
}

// DeleteItem reports whether a row was removed.
func (r *Repository) DeleteItem(ctx context.Context, cartID, itemID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).Where("id = ? AND cart_id = ?", itemID, cartID).Delete(&models.CartItem{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListItems returns the cart's items with their products, oldest first.
func (r *Repository) ListItems(ctx context.Context, cartID uuid.UUID) ([]models.CartItem, error) {
	var items []models.CartItem
	err := r.db.WithContext(ctx).
		Preload("Product").
		Where("cart_id = ?", cartID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&items).Error
	return items, err
}

// Deactivate flips an active cart to inactive. It reports false when the cart
// was already converted.
func (r *Repository) Deactivate(ctx context.Context, cartID uuid.UUID) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Cart{}).
		Where("id = ? AND active = ?", cartID, true).
		Update("active", false)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}
