package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mohacollection/storefront-backend/pkg/enums"
)

// Cart is the mutable pre-order basket. At most one active cart exists per
// user and per anonymous session key.
type Cart struct {
	ID         uuid.UUID  `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID     *uuid.UUID `gorm:"column:user_id;type:uuid"`
	SessionKey *string    `gorm:"column:session_key"`
	Active     bool       `gorm:"column:active;not null;default:true"`
	Items      []CartItem `gorm:"foreignKey:CartID;constraint:OnDelete:CASCADE"`
	CreatedAt  time.Time  `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (c *Cart) BeforeCreate(*gorm.DB) error {
	ensureID(&c.ID)
	return nil
}

// CartItem is unique per (cart, product, size).
type CartItem struct {
	ID        uuid.UUID      `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	CartID    uuid.UUID      `gorm:"column:cart_id;type:uuid;not null"`
	ProductID uuid.UUID      `gorm:"column:product_id;type:uuid;not null"`
	Product   *Product       `gorm:"foreignKey:ProductID"`
	Quantity  int            `gorm:"column:quantity;not null"`
	Size      enums.ItemSize `gorm:"column:size;not null;default:'M'"`
	CreatedAt time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

func (i *CartItem) BeforeCreate(*gorm.DB) error {
	ensureID(&i.ID)
	return nil
}
