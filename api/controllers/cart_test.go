package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohacollection/storefront-backend/api/middleware"
	"github.com/mohacollection/storefront-backend/internal/cart"
	"github.com/mohacollection/storefront-backend/pkg/db/models"
	"github.com/mohacollection/storefront-backend/pkg/enums"
)

type addCall struct {
	cartID    uuid.UUID
	productID uuid.UUID
	quantity  int
	size      string
}

type stubCartService struct {
	cartID    uuid.UUID
	identity  cart.Identity
	adds      []addCall
	removed   bool
	removeIDs []uuid.UUID
}

func (s *stubCartService) GetOrCreateActive(ctx context.Context, identity cart.Identity) (*models.Cart, error) {
	s.identity = identity
	return &models.Cart{ID: s.cartID, Active: true}, nil
}

func (s *stubCartService) AddItem(ctx context.Context, cartID, productID uuid.UUID, quantity int, size string) (*models.CartItem, error) {
	s.adds = append(s.adds, addCall{cartID: cartID, productID: productID, quantity: quantity, size: size})
	return &models.CartItem{CartID: cartID, ProductID: productID, Quantity: quantity}, nil
}

func (s *stubCartService) UpdateItem(ctx context.Context, cartID, itemID uuid.UUID, update cart.ItemUpdate) (*models.CartItem, error) {
	return &models.CartItem{ID: itemID, CartID: cartID}, nil
}

func (s *stubCartService) RemoveItem(ctx context.Context, cartID, itemID uuid.UUID) (bool, error) {
	s.removeIDs = append(s.removeIDs, itemID)
	return s.removed, nil
}

func (s *stubCartService) View(ctx context.Context, identity cart.Identity) (*cart.CartDTO, error) {
	s.identity = identity
	return &cart.CartDTO{ID: s.cartID, Items: []cart.CartItemDTO{}, Subtotal: "0.00"}, nil
}

func TestCartAddItemForAnonymousSession(t *testing.T) {
	svc := &stubCartService{cartID: uuid.New()}
	handler := middleware.CartSession("X-Cart-Session", nil)(CartAddItem(svc, nil))

	productID := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/cart/items", strings.NewReader(`{"product_id":"`+productID.String()+`","quantity":2,"size":"L"}`))
	req.Header.Set("X-Cart-Session", "sess-abc")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	require.Equal(t, http.StatusCreated, resp.Code)
	assert.False(t, svc.identity.IsUser())
	assert.Equal(t, "sess-abc", svc.identity.SessionKey)
	require.Len(t, svc.adds, 1)
	assert.Equal(t, addCall{cartID: svc.cartID, productID: productID, quantity: 2, size: "L"}, svc.adds[0])

	var view cart.CartDTO
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, svc.cartID, view.ID)
}

func TestCartAddItemDefaultsQuantity(t *testing.T) {
	svc := &stubCartService{cartID: uuid.New()}
	req := httptest.NewRequest(http.MethodPost, "/cart/items", strings.NewReader(`{"product_id":"`+uuid.NewString()+`"}`))
	userID := uuid.New()
	req = req.WithContext(middleware.WithUser(req.Context(), userID, enums.UserRoleCustomer))
	resp := httptest.NewRecorder()
	CartAddItem(svc, nil).ServeHTTP(resp, req)

	require.Equal(t, http.StatusCreated, resp.Code)
	require.Len(t, svc.adds, 1)
	assert.Equal(t, 1, svc.adds[0].quantity)
	assert.Equal(t, "", svc.adds[0].size)
	require.NotNil(t, svc.identity.UserID)
	assert.Equal(t, userID, *svc.identity.UserID)
}

func TestCartAddItemRejectsUnknownSize(t *testing.T) {
	svc := &stubCartService{cartID: uuid.New()}
	req := httptest.NewRequest(http.MethodPost, "/cart/items", strings.NewReader(`{"product_id":"`+uuid.NewString()+`","size":"XXXL"}`))
	req = req.WithContext(middleware.WithCartSession(req.Context(), "sess"))
	resp := httptest.NewRecorder()
	CartAddItem(svc, nil).ServeHTTP(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Empty(t, svc.adds)
}

func TestCartRemoveItemNotFound(t *testing.T) {
	svc := &stubCartService{cartID: uuid.New()}
	r := chi.NewRouter()
	r.Delete("/cart/items/{itemID}", CartRemoveItem(svc, nil))

	itemID := uuid.New()
	req := httptest.NewRequest(http.MethodDelete, "/cart/items/"+itemID.String(), nil)
	req = req.WithContext(middleware.WithCartSession(req.Context(), "sess"))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, []uuid.UUID{itemID}, svc.removeIDs)

	svc.removed = true
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusOK, resp.Code)
}
