package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohacollection/storefront-backend/pkg/auth"
	"github.com/mohacollection/storefront-backend/pkg/auth/session"
	"github.com/mohacollection/storefront-backend/pkg/config"
	"github.com/mohacollection/storefront-backend/pkg/enums"
)

var testJWT = config.JWTConfig{Secret: "secret", Issuer: "moha-test", ExpirationMinutes: 60}

type stubSessionVerifier struct {
	ok  bool
	err error
}

func (s stubSessionVerifier) HasSession(ctx context.Context, accessID string) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	return s.ok, nil
}

func mintTestToken(t *testing.T, userID uuid.UUID, role enums.UserRole) string {
	t.Helper()
	token, err := auth.MintAccessToken(testJWT, time.Now(), auth.AccessTokenPayload{
		UserID: userID,
		Email:  "wanjiru@example.com",
		Role:   role,
		JTI:    session.NewAccessID(),
	})
	require.NoError(t, err)
	return token
}

func okHandler(captured *uuid.UUID, role *enums.UserRole) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, ok := UserIDFromContext(r.Context()); ok && captured != nil {
			*captured = id
		}
		if role != nil {
			*role = RoleFromContext(r.Context())
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthRejectsMissingAndInvalidTokens(t *testing.T) {
	handler := Auth(testJWT, stubSessionVerifier{ok: true}, nil)(okHandler(nil, nil))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/orders", nil))
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set("Authorization", "Bearer invalid")
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestAuthSeedsUserAndRole(t *testing.T) {
	userID := uuid.New()
	var gotID uuid.UUID
	var gotRole enums.UserRole
	handler := Auth(testJWT, stubSessionVerifier{ok: true}, nil)(okHandler(&gotID, &gotRole))

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set("Authorization", "Bearer "+mintTestToken(t, userID, enums.UserRoleAdmin))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, userID, gotID)
	assert.Equal(t, enums.UserRoleAdmin, gotRole)
}

func TestAuthRejectsRevokedSession(t *testing.T) {
	handler := Auth(testJWT, stubSessionVerifier{ok: false}, nil)(okHandler(nil, nil))
	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	req.Header.Set("Authorization", "Bearer "+mintTestToken(t, uuid.New(), enums.UserRoleCustomer))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)

	handler = Auth(testJWT, stubSessionVerifier{err: errors.New("redis down")}, nil)(okHandler(nil, nil))
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Code)
}

func TestOptionalAuthAllowsAnonymous(t *testing.T) {
	var gotID uuid.UUID
	handler := OptionalAuth(testJWT, stubSessionVerifier{ok: true}, nil)(okHandler(&gotID, nil))

	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/cart", nil))
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, uuid.Nil, gotID)

	req := httptest.NewRequest(http.MethodGet, "/cart", nil)
	req.Header.Set("Authorization", "Bearer garbage")
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestRequireRole(t *testing.T) {
	handler := RequireRole(enums.UserRoleAdmin, nil)(okHandler(nil, nil))

	req := httptest.NewRequest(http.MethodPatch, "/admin/orders/x/status", nil)
	req = req.WithContext(WithUser(req.Context(), uuid.New(), enums.UserRoleCustomer))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusForbidden, resp.Code)

	req = req.WithContext(WithUser(req.Context(), uuid.New(), enums.UserRoleAdmin))
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	assert.Equal(t, http.StatusOK, resp.Code)
}
