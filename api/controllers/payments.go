package controllers

import (
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/mohacollection/storefront-backend/api/responses"
	"github.com/mohacollection/storefront-backend/api/validators"
	"github.com/mohacollection/storefront-backend/internal/checkout"
	"github.com/mohacollection/storefront-backend/internal/payments"
	pkgerrors "github.com/mohacollection/storefront-backend/pkg/errors"
	"github.com/mohacollection/storefront-backend/pkg/logger"
)

const maxCallbackBytes = 64 << 10

type checkoutRequest struct {
	OrderID           uuid.UUID `json:"order_id" validate:"required"`
	ShippingAddressID uuid.UUID `json:"shipping_address_id" validate:"required"`
	PaymentMethodID   uuid.UUID `json:"payment_method_id" validate:"required"`
	PhoneNumber       string    `json:"phone_number" validate:"required"`
}

func Checkout(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req checkoutRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		result, err := svc.Checkout(r.Context(), checkout.Request{
			OrderID:           req.OrderID,
			ShippingAddressID: req.ShippingAddressID,
			PaymentMethodID:   req.PaymentMethodID,
			PhoneNumber:       req.PhoneNumber,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

type callbackAck struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// PaymentCallback receives Daraja STK results. Unknown checkout ids and
// unreadable payloads are acknowledged so the provider stops retrying; they
// are kept for manual replay.
func PaymentCallback(engine payments.Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := io.ReadAll(io.LimitReader(r.Body, maxCallbackBytes))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read callback body"))
			return
		}
		outcome, err := engine.ReconcileCallback(r.Context(), payload)
		if err != nil {
			if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeInternalConsistency {
				if logg != nil {
					logg.Warn(r.Context(), "payment callback acknowledged without applying")
				}
				responses.WriteSuccess(w, callbackAck{Status: "success", Message: typed.Message()})
				return
			}
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, callbackAck{Status: "success", Message: outcome.Message})
	}
}

type paymentQueryRequest struct {
	CheckoutRequestID string `json:"checkout_request_id" validate:"required,max=100"`
}

// PaymentQuery polls the gateway and reconciles the local transaction. The
// provider's raw status fields are returned as-is.
func PaymentQuery(engine payments.Engine, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req paymentQueryRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		resp, _, err := engine.ReconcileQuery(r.Context(), req.CheckoutRequestID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, resp)
	}
}
