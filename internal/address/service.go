package address

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mohacollection/storefront-backend/pkg/db/models"
	pkgerrors "github.com/mohacollection/storefront-backend/pkg/errors"
)

const defaultCountry = "Kenya"

// CreateInput is the validated payload for a new shipping address.
type CreateInput struct {
	FullName     string
	AddressLine1 string
	AddressLine2 *string
	City         string
	State        *string
	PostalCode   *string
	Country      string
	Phone        string
	IsDefault    bool
}

// AddressDTO is the API view of a shipping address.
type AddressDTO struct {
	ID           uuid.UUID `json:"id"`
	FullName     string    `json:"full_name"`
	AddressLine1 string    `json:"address_line1"`
	AddressLine2 *string   `json:"address_line2,omitempty"`
	City         string    `json:"city"`
	State        *string   `json:"state,omitempty"`
	PostalCode   *string   `json:"postal_code,omitempty"`
	Country      string    `json:"country"`
	Phone        string    `json:"phone"`
	IsDefault    bool      `json:"is_default"`
	CreatedAt    time.Time `json:"created_at"`
}

type Service interface {
	Create(ctx context.Context, userID uuid.UUID, input CreateInput) (*AddressDTO, error)
	List(ctx context.Context, userID uuid.UUID) ([]AddressDTO, error)
	GetForUser(ctx context.Context, userID, id uuid.UUID) (*models.ShippingAddress, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type service struct {
	repo *Repository
	tx   txRunner
}

func NewService(repo *Repository, tx txRunner) (Service, error) {
	if repo == nil || tx == nil {
		return nil, fmt.Errorf("address repository and transaction runner required")
	}
	return &service{repo: repo, tx: tx}, nil
}

// Create stores the address. The first address a user saves becomes the default.
func (s *service) Create(ctx context.Context, userID uuid.UUID, input CreateInput) (*AddressDTO, error) {
	addr := &models.ShippingAddress{
		UserID:       userID,
		FullName:     strings.TrimSpace(input.FullName),
		AddressLine1: strings.TrimSpace(input.AddressLine1),
		AddressLine2: input.AddressLine2,
		City:         strings.TrimSpace(input.City),
		State:        input.State,
		PostalCode:   input.PostalCode,
		Country:      strings.TrimSpace(input.Country),
		Phone:        strings.TrimSpace(input.Phone),
	}
	if addr.FullName == "" || addr.AddressLine1 == "" || addr.City == "" || addr.Phone == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "full_name, address_line1, city and phone are required")
	}
	if addr.Country == "" {
		addr.Country = defaultCountry
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		existing, err := repo.CountForUser(ctx, userID)
		if err != nil {
			return err
		}
		addr.IsDefault = input.IsDefault || existing == 0
		if addr.IsDefault {
			if err := repo.ClearDefault(ctx, userID); err != nil {
				return err
			}
		}
		return repo.Create(ctx, addr)
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create address")
	}
	return toDTO(addr), nil
}

func (s *service) List(ctx context.Context, userID uuid.UUID) ([]AddressDTO, error) {
	rows, err := s.repo.ListForUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list addresses")
	}
	out := make([]AddressDTO, 0, len(rows))
	for i := range rows {
		out = append(out, *toDTO(&rows[i]))
	}
	return out, nil
}

// GetForUser returns NotFound when the address belongs to someone else.
func (s *service) GetForUser(ctx context.Context, userID, id uuid.UUID) (*models.ShippingAddress, error) {
	addr, err := s.repo.FindForUser(ctx, userID, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "shipping address not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load shipping address")
	}
	return addr, nil
}

func toDTO(a *models.ShippingAddress) *AddressDTO {
	return &AddressDTO{
		ID:           a.ID,
		FullName:     a.FullName,
		AddressLine1: a.AddressLine1,
		AddressLine2: a.AddressLine2,
		City:         a.City,
		State:        a.State,
		PostalCode:   a.PostalCode,
		Country:      a.Country,
		Phone:        a.Phone,
		IsDefault:    a.IsDefault,
		CreatedAt:    a.CreatedAt,
	}
}
