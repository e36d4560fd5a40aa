package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/mohacollection/storefront-backend/pkg/db"
	"github.com/mohacollection/storefront-backend/pkg/db/models"
	"github.com/mohacollection/storefront-backend/pkg/enums"
	pkgerrors "github.com/mohacollection/storefront-backend/pkg/errors"
)

// Service exposes cart operations keyed by the caller's identity.
type Service interface {
	GetOrCreateActive(ctx context.Context, identity Identity) (*models.Cart, error)
	AddItem(ctx context.Context, cartID, productID uuid.UUID, quantity int, size string) (*models.CartItem, error)
	UpdateItem(ctx context.Context, cartID, itemID uuid.UUID, update ItemUpdate) (*models.CartItem, error)
	RemoveItem(ctx context.Context, cartID, itemID uuid.UUID) (bool, error)
	View(ctx context.Context, identity Identity) (*CartDTO, error)
}

type service struct {
	repo     CartRepository
	tx       txRunner
	products productLoader
}

// NewService builds a cart service backed by the provided stack.
func NewService(repo CartRepository, tx txRunner, products productLoader) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if products == nil {
		return nil, fmt.Errorf("product loader required")
	}
	return &service{repo: repo, tx: tx, products: products}, nil
}

// GetOrCreateActive returns the identity's active cart, creating it when
// missing. A concurrent creator wins the unique index and the lookup is retried once.
func (s *service) GetOrCreateActive(ctx context.Context, identity Identity) (*models.Cart, error) {
	if err := identity.Validate(); err != nil {
		return nil, err
	}

	cart, err := s.repo.FindActive(ctx, identity)
	if err == nil {
		return cart, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load active cart")
	}

	cart = &models.Cart{Active: true}
	if identity.IsUser() {
		userID := *identity.UserID
		cart.UserID = &userID
	} else {
		key := identity.SessionKey
		cart.SessionKey = &key
	}
	if err := s.repo.Create(ctx, cart); err != nil {
		if !isActiveCartViolation(err) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create cart")
		}
		existing, findErr := s.repo.FindActive(ctx, identity)
		if findErr != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, findErr, "reload active cart")
		}
		return existing, nil
	}
	return cart, nil
}

func (s *service) AddItem(ctx context.Context, cartID, productID uuid.UUID, quantity int, size string) (*models.CartItem, error) {
	if quantity < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
	}
	itemSize, err := parseSize(size)
	if err != nil {
		return nil, err
	}
	if _, err := s.products.FindActive(ctx, productID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load product")
	}

	var item *models.CartItem
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if err := requireActiveCart(ctx, repo, cartID); err != nil {
			return err
		}
		saved, err := repo.UpsertItem(ctx, &models.CartItem{
			CartID:    cartID,
			ProductID: productID,
			Quantity:  quantity,
			Size:      itemSize,
		})
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "add cart item")
		}
		item = saved
		return nil
	})
	if err != nil {
		return nil, err
	}
	return item, nil
}

// UpdateItem applies a quantity delta and/or size change. Moving an item onto
// a size already in the cart merges the two rows.
func (s *service) UpdateItem(ctx context.Context, cartID, itemID uuid.UUID, update ItemUpdate) (*models.CartItem, error) {
	if update.QuantityDelta == nil && update.Size == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "nothing to update")
	}
	var newSize *enums.ItemSize
	if update.Size != nil {
		parsed, err := enums.ParseItemSize(*update.Size)
		if err != nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "size must be one of XS, S, M, L, XL, XXL")
		}
		newSize = &parsed
	}

	var result *models.CartItem
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		item, err := repo.LockItem(ctx, cartID, itemID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "cart item not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load cart item")
		}

		quantity := item.Quantity
		if update.QuantityDelta != nil {
			quantity += *update.QuantityDelta
		}
		if quantity < 1 {
			return pkgerrors.New(pkgerrors.CodeValidation, "quantity must stay at least 1")
		}

		if newSize != nil && *newSize != item.Size {
			sibling, err := repo.LockItemBySize(ctx, cartID, item.ProductID, *newSize)
			switch {
			case err == nil:
				sibling.Quantity += quantity
				if err := repo.SaveItem(ctx, sibling); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "merge cart item")
				}
				if _, err := repo.DeleteItem(ctx, cartID, item.ID); err != nil {
					return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "remove merged cart item")
				}
				result = sibling
				return nil
			case !errors.Is(err, gorm.ErrRecordNotFound):
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load cart item")
			}
			item.Size = *newSize
		}

		item.Quantity = quantity
		if err := repo.SaveItem(ctx, item); err != nil {
			if dbpkg.IsUniqueViolation(err, "ux_cart_items_cart_product_size") {
				return pkgerrors.New(pkgerrors.CodeConflict, "cart item changed concurrently; retry")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update cart item")
		}
		result = item
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) RemoveItem(ctx context.Context, cartID, itemID uuid.UUID) (bool, error) {
	removed, err := s.repo.DeleteItem(ctx, cartID, itemID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "remove cart item")
	}
	return removed, nil
}

func (s *service) View(ctx context.Context, identity Identity) (*CartDTO, error) {
	cart, err := s.GetOrCreateActive(ctx, identity)
	if err != nil {
		return nil, err
	}
	items, err := s.repo.ListItems(ctx, cart.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list cart items")
	}
	return toDTO(cart, items), nil
}

// requireActiveCart locks the cart row for the rest of the transaction.
func requireActiveCart(ctx context.Context, repo CartRepository, cartID uuid.UUID) error {
	cart, err := repo.LockCart(ctx, cartID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load cart")
	}
	if !cart.Active {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "cart has already been checked out")
	}
	return nil
}

func parseSize(raw string) (enums.ItemSize, error) {
	if raw == "" {
		return enums.DefaultItemSize, nil
	}
	size, err := enums.ParseItemSize(raw)
	if err != nil {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "size must be one of XS, S, M, L, XL, XXL")
	}
	return size, nil
}

func isActiveCartViolation(err error) bool {
	return dbpkg.IsUniqueViolation(err, "ux_carts_active_user") ||
		dbpkg.IsUniqueViolation(err, "ux_carts_active_session")
}
