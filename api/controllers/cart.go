package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/mohacollection/storefront-backend/api/responses"
	"github.com/mohacollection/storefront-backend/api/validators"
	"github.com/mohacollection/storefront-backend/internal/cart"
	pkgerrors "github.com/mohacollection/storefront-backend/pkg/errors"
	"github.com/mohacollection/storefront-backend/pkg/logger"
)

func CartView(svc cart.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, err := cartIdentity(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		view, err := svc.View(r.Context(), identity)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

type addCartItemRequest struct {
	ProductID uuid.UUID `json:"product_id" validate:"required"`
	Quantity  *int      `json:"quantity" validate:"omitempty,min=1,max=1000"`
	Size      string    `json:"size" validate:"omitempty,oneof=XS S M L XL XXL"`
}

// CartAddItem merges into an existing line for the same product and size.
func CartAddItem(svc cart.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, err := cartIdentity(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req addCartItemRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		quantity := 1
		if req.Quantity != nil {
			quantity = *req.Quantity
		}
		active, err := svc.GetOrCreateActive(r.Context(), identity)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if _, err := svc.AddItem(r.Context(), active.ID, req.ProductID, quantity, req.Size); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeCart(w, r, svc, identity, http.StatusCreated, logg)
	}
}

type updateCartItemRequest struct {
	QuantityDelta *int    `json:"quantity_delta"`
	Size          *string `json:"size" validate:"omitempty,oneof=XS S M L XL XXL"`
}

func CartUpdateItem(svc cart.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, err := cartIdentity(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		itemID, err := validators.ParseUUIDParam(r, "itemID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		var req updateCartItemRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		active, err := svc.GetOrCreateActive(r.Context(), identity)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if _, err := svc.UpdateItem(r.Context(), active.ID, itemID, cart.ItemUpdate{
			QuantityDelta: req.QuantityDelta,
			Size:          req.Size,
		}); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		writeCart(w, r, svc, identity, http.StatusOK, logg)
	}
}

func CartRemoveItem(svc cart.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, err := cartIdentity(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		itemID, err := validators.ParseUUIDParam(r, "itemID")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		active, err := svc.GetOrCreateActive(r.Context(), identity)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		removed, err := svc.RemoveItem(r.Context(), active.ID, itemID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !removed {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "Item not found in cart"))
			return
		}
		responses.WriteSuccess(w, map[string]string{"message": "Item removed from cart"})
	}
}

func writeCart(w http.ResponseWriter, r *http.Request, svc cart.Service, identity cart.Identity, status int, logg *logger.Logger) {
	view, err := svc.View(r.Context(), identity)
	if err != nil {
		responses.WriteError(r.Context(), logg, w, err)
		return
	}
	responses.WriteSuccessStatus(w, status, view)
}
