package address

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mohacollection/storefront-backend/pkg/db/models"
)

// Repository persists shipping addresses.
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

func (r *Repository) Create(ctx context.Context, addr *models.ShippingAddress) error {
	return r.db.WithContext(ctx).Create(addr).Error
}

func (r *Repository) CountForUser(ctx context.Context, userID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.ShippingAddress{}).Where("user_id = ?", userID).Count(&n).Error
	return n, err
}

// ClearDefault unsets the default flag on every address owned by the user.
func (r *Repository) ClearDefault(ctx context.Context, userID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.ShippingAddress{}).
		Where("user_id = ? AND is_default = ?", userID, true).
		Update("is_default", false).Error
}

func (r *Repository) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.ShippingAddress, error) {
	var rows []models.ShippingAddress
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("is_default DESC").
		Order("created_at DESC").
		Find(&rows).Error
	return rows, err
}

func (r *Repository) FindForUser(ctx context.Context, userID, id uuid.UUID) (*models.ShippingAddress, error) {
	var addr models.ShippingAddress
	if err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&addr).Error; err != nil {
		return nil, err
	}
	return &addr, nil
}
