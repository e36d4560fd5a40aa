package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohacollection/storefront-backend/pkg/enums"
	pkgerrors "github.com/mohacollection/storefront-backend/pkg/errors"
)

type fakeStore struct {
	data map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{data: make(map[string]string)}
}

func (f *fakeStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := f.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (f *fakeStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	str, _ := value.(string)
	f.data[key] = str
	return true, nil
}

func (f *fakeStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func (f *fakeStore) IdempotencyKey(scope, id string) string {
	return fmt.Sprintf("fake:%s:%s", scope, id)
}

func authedRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	return req.WithContext(WithUser(req.Context(), uuid.MustParse("6f1c7b1e-4a55-4d0c-9d2f-0b6f4c1d2e3a"), enums.UserRoleCustomer))
}

func TestIdempotentRouteSelection(t *testing.T) {
	assert.True(t, idempotentRoute(http.MethodPost, "/checkout"))
	assert.True(t, idempotentRoute(http.MethodPost, "/api/v1/checkout"))
	assert.True(t, idempotentRoute(http.MethodPatch, "/api/v1/admin/orders/abc/status"))
	assert.False(t, idempotentRoute(http.MethodPost, "/payment-callback"))
	assert.False(t, idempotentRoute(http.MethodGet, "/orders"))
}

func TestIdempotencyPassesThroughWithoutHeader(t *testing.T) {
	store := newFakeStore()
	calls := 0
	handler := Idempotency(store, time.Hour, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusCreated)
	}))

	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), authedRequest(http.MethodPost, "/checkout", `{"a":1}`))
	}
	assert.Equal(t, 2, calls)
	assert.Empty(t, store.data)
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	store := newFakeStore()
	calls := 0
	handler := Idempotency(store, time.Hour, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"checkout_request_id":"ws_CO_1"}`))
	}))

	first := authedRequest(http.MethodPost, "/checkout", `{"order_id":"x"}`)
	first.Header.Set("Idempotency-Key", "abc")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, first)
	require.Equal(t, http.StatusCreated, resp.Code)

	replay := authedRequest(http.MethodPost, "/checkout", `{"order_id":"x"}`)
	replay.Header.Set("Idempotency-Key", "abc")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, replay)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "true", rec.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, `{"checkout_request_id":"ws_CO_1"}`, strings.TrimSpace(rec.Body.String()))
	assert.Equal(t, 1, calls)
}

func TestIdempotencyDetectsBodyChange(t *testing.T) {
	store := newFakeStore()
	handler := Idempotency(store, time.Hour, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := authedRequest(http.MethodPost, "/api/v1/checkout", `{"foo":"bar"}`)
	req.Header.Set("Idempotency-Key", "xyz")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	replay := authedRequest(http.MethodPost, "/api/v1/checkout", `{"foo":"diff"}`)
	replay.Header.Set("Idempotency-Key", "xyz")
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, replay)

	assert.Equal(t, http.StatusConflict, resp.Code)
	var payload struct {
		Code string `json:"code"`
	}
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &payload))
	assert.Equal(t, string(pkgerrors.CodeIdempotency), payload.Code)
}

func TestIdempotencySkipsServerErrors(t *testing.T) {
	store := newFakeStore()
	handler := Idempotency(store, time.Hour, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	req := authedRequest(http.MethodPost, "/checkout", `{}`)
	req.Header.Set("Idempotency-Key", "retry-me")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Empty(t, store.data)
}
