package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mohacollection/storefront-backend/pkg/enums"
)

type ShippingAddress struct {
	ID           uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID       uuid.UUID `gorm:"column:user_id;type:uuid;not null"`
	FullName     string    `gorm:"column:full_name;not null"`
	AddressLine1 string    `gorm:"column:address_line1;not null"`
	AddressLine2 *string   `gorm:"column:address_line2"`
	City         string    `gorm:"column:city;not null"`
	State        *string   `gorm:"column:state"`
	PostalCode   *string   `gorm:"column:postal_code"`
	Country      string    `gorm:"column:country;not null;default:'Kenya'"`
	Phone        string    `gorm:"column:phone;not null"`
	IsDefault    bool      `gorm:"column:is_default;not null;default:false"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (a *ShippingAddress) BeforeCreate(*gorm.DB) error {
	ensureID(&a.ID)
	return nil
}

type PaymentMethod struct {
	ID          uuid.UUID               `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID      uuid.UUID               `gorm:"column:user_id;type:uuid;not null"`
	MethodType  enums.PaymentMethodType `gorm:"column:method_type;not null;default:'mpesa'"`
	PhoneNumber *string                 `gorm:"column:phone_number"`
	LastFour    *string                 `gorm:"column:last_four"`
	IsDefault   bool                    `gorm:"column:is_default;not null;default:false"`
	CreatedAt   time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}

func (m *PaymentMethod) BeforeCreate(*gorm.DB) error {
	ensureID(&m.ID)
	return nil
}
