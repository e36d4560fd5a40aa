package paymentmethods

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mohacollection/storefront-backend/pkg/db/models"
	"github.com/mohacollection/storefront-backend/pkg/enums"
	pkgerrors "github.com/mohacollection/storefront-backend/pkg/errors"
	"github.com/mohacollection/storefront-backend/pkg/mpesa"
)

// CreateInput describes a payment method to store. M-Pesa methods carry a
// phone number; cards carry only the last four digits.
type CreateInput struct {
	MethodType  string
	PhoneNumber *string
	LastFour    *string
	IsDefault   bool
}

type PaymentMethodDTO struct {
	ID          uuid.UUID               `json:"id"`
	MethodType  enums.PaymentMethodType `json:"method_type"`
	PhoneNumber *string                 `json:"phone_number,omitempty"`
	LastFour    *string                 `json:"last_four,omitempty"`
	IsDefault   bool                    `json:"is_default"`
	CreatedAt   time.Time               `json:"created_at"`
}

type Service interface {
	Create(ctx context.Context, userID uuid.UUID, input CreateInput) (*PaymentMethodDTO, error)
	List(ctx context.Context, userID uuid.UUID) ([]PaymentMethodDTO, error)
	GetForUser(ctx context.Context, userID, id uuid.UUID) (*models.PaymentMethod, error)
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
		return nil, fmt.Errorf("payment method repository and transaction runner required")
	}
	return &service{repo: repo, tx: tx}, nil
}

func (s *service) Create(ctx context.Context, userID uuid.UUID, input CreateInput) (*PaymentMethodDTO, error) {
	methodType := enums.PaymentMethodTypeMpesa
	if raw := strings.TrimSpace(input.MethodType); raw != "" {
		parsed, err := enums.ParsePaymentMethodType(strings.ToLower(raw))
		if err != nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "method_type must be mpesa or card")
		}
		methodType = parsed
	}

	method := &models.PaymentMethod{UserID: userID, MethodType: methodType}
	switch methodType {
	case enums.PaymentMethodTypeMpesa:
		if input.PhoneNumber == nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "phone_number is required for mpesa")
		}
		phone := strings.TrimSpace(*input.PhoneNumber)
		if err := mpesa.ValidatePhone(phone); err != nil {
			return nil, err
		}
		method.PhoneNumber = &phone
	case enums.PaymentMethodTypeCard:
		if input.LastFour == nil || !isFourDigits(*input.LastFour) {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "last_four must be 4 digits for card")
		}
		lastFour := *input.LastFour
		method.LastFour = &lastFour
	}

	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		existing, err := repo.CountForUser(ctx, userID)
		if err != nil {
			return err
		}
		method.IsDefault = input.IsDefault || existing == 0
		if method.IsDefault {
			if err := repo.ClearDefault(ctx, userID); err != nil {
				return err
			}
		}
		return repo.Create(ctx, method)
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create payment method")
	}
	return toDTO(method), nil
}

func (s *service) List(ctx context.Context, userID uuid.UUID) ([]PaymentMethodDTO, error) {
	rows, err := s.repo.ListForUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list payment methods")
	}
	out := make([]PaymentMethodDTO, 0, len(rows))
	for i := range rows {
		out = append(out, *toDTO(&rows[i]))
	}
	return out, nil
}

func (s *service) GetForUser(ctx context.Context, userID, id uuid.UUID) (*models.PaymentMethod, error) {
	method, err := s.repo.FindForUser(ctx, userID, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment method not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load payment method")
	}
	return method, nil
}

func isFourDigits(v string) bool {
	if len(v) != 4 {
		return false
	}
	for _, r := range v {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func toDTO(m *models.PaymentMethod) *PaymentMethodDTO {
	return &PaymentMethodDTO{
		ID:          m.ID,
		MethodType:  m.MethodType,
		PhoneNumber: m.PhoneNumber,
		LastFour:    m.LastFour,
		IsDefault:   m.IsDefault,
		CreatedAt:   m.CreatedAt,
	}
}
