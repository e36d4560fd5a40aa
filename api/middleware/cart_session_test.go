package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/mohacollection/storefront-backend/pkg/enums"
)

func captureSession(got *string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*got = CartSessionFromContext(r.Context())
	})
}

func TestCartSessionIssuesKeyForAnonymous(t *testing.T) {
	var got string
	handler := CartSession("X-Cart-Session", nil)(captureSession(&got))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/cart", nil))

	assert.NotEmpty(t, got)
	assert.Equal(t, got, resp.Header().Get("X-Cart-Session"))
}

func TestCartSessionEchoesProvidedKey(t *testing.T) {
	var got string
	handler := CartSession("X-Cart-Session", nil)(captureSession(&got))

	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.Header.Set("X-Cart-Session", "sess-123")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	assert.Equal(t, "sess-123", got)
	assert.Equal(t, "sess-123", resp.Header().Get("X-Cart-Session"))
}

func TestCartSessionNotIssuedForUsers(t *testing.T) {
	var got string
	handler := CartSession("X-Cart-Session", nil)(captureSession(&got))

	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req = req.WithContext(WithUser(req.Context(), uuid.New(), enums.UserRoleCustomer))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	assert.Empty(t, got)
	assert.Empty(t, resp.Header().Get("X-Cart-Session"))
}
