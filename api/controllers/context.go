package controllers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/mohacollection/storefront-backend/api/middleware"
	"github.com/mohacollection/storefront-backend/internal/cart"
	pkgerrors "github.com/mohacollection/storefront-backend/pkg/errors"
)

func requireUser(r *http.Request) (uuid.UUID, error) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	return userID, nil
}

// cartIdentity prefers the authenticated user over the anonymous session.
func cartIdentity(r *http.Request) (cart.Identity, error) {
	if userID, ok := middleware.UserIDFromContext(r.Context()); ok {
		return cart.ForUser(userID), nil
	}
	if key := middleware.CartSessionFromContext(r.Context()); key != "" {
		return cart.ForSession(key), nil
	}
	return cart.Identity{}, pkgerrors.New(pkgerrors.CodeValidation, "cart session required")
}
