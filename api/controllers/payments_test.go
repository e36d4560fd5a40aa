package controllers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohacollection/storefront-backend/api/responses"
	"github.com/mohacollection/storefront-backend/internal/checkout"
	"github.com/mohacollection/storefront-backend/internal/payments"
	dbpkg "github.com/mohacollection/storefront-backend/pkg/db"
	"github.com/mohacollection/storefront-backend/pkg/db/dbtest"
	"github.com/mohacollection/storefront-backend/pkg/db/models"
	"github.com/mohacollection/storefront-backend/pkg/enums"
	pkgerrors "github.com/mohacollection/storefront-backend/pkg/errors"
	"github.com/mohacollection/storefront-backend/pkg/mpesa"
	"github.com/mohacollection/storefront-backend/pkg/outbox"
)

type stubEngine struct {
	payments.Engine
	callbackOutcome *payments.Outcome
	callbackErr     error
	queryResp       *mpesa.QueryResponse
	queryErr        error
	payloads        [][]byte
}

func (s *stubEngine) ReconcileCallback(ctx context.Context, payload []byte) (*payments.Outcome, error) {
	s.payloads = append(s.payloads, payload)
	return s.callbackOutcome, s.callbackErr
}

func (s *stubEngine) ReconcileQuery(ctx context.Context, id string) (*mpesa.QueryResponse, *payments.Outcome, error) {
	return s.queryResp, nil, s.queryErr
}

func (s *stubEngine) ListStale(ctx context.Context, olderThan time.Duration, limit int) ([]models.PaymentTransaction, error) {
	return nil, nil
}

const stkCallback = `{"Body":{"stkCallback":{"MerchantRequestID":"29115-34620561-1","CheckoutRequestID":"ws_CO_191220191020363925","ResultCode":0,"ResultDesc":"The service request is processed successfully."}}}`

func TestPaymentCallbackAcknowledgesSettlement(t *testing.T) {
	engine := &stubEngine{callbackOutcome: &payments.Outcome{Status: enums.TransactionStatusCompleted, Applied: true, Message: "payment completed"}}
	req := httptest.NewRequest(http.MethodPost, "/payment-callback", strings.NewReader(stkCallback))
	resp := httptest.NewRecorder()
	PaymentCallback(engine, nil).ServeHTTP(resp, req)

	assert.Equal(t, http.StatusOK, resp.Code)
	var ack callbackAck
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ack))
	assert.Equal(t, "success", ack.Status)
	assert.Equal(t, "payment completed", ack.Message)
	require.Len(t, engine.payloads, 1)
	assert.JSONEq(t, stkCallback, string(engine.payloads[0]))
}

func TestPaymentCallbackAcknowledgesUnknownTransaction(t *testing.T) {
	engine := &stubEngine{callbackErr: pkgerrors.New(pkgerrors.CodeInternalConsistency, "payment transaction not found for callback")}
	req := httptest.NewRequest(http.MethodPost, "/payment-callback", strings.NewReader(stkCallback))
	resp := httptest.NewRecorder()
	PaymentCallback(engine, nil).ServeHTTP(resp, req)

	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestPaymentCallbackAcknowledgesMalformedPayload(t *testing.T) {
	conn := dbtest.Open(t)
	engine, err := payments.NewEngine(payments.EngineParams{
		Repo:   payments.NewRepository(conn),
		Tx:     dbpkg.NewFromConn(conn),
		Outbox: outbox.NewService(outbox.NewRepository(conn), nil),
	})
	require.NoError(t, err)

	for _, body := range []string{`garbage`, `{"Body":{"stkCallback":{"ResultCode":0}}}`} {
		req := httptest.NewRequest(http.MethodPost, "/payment-callback", strings.NewReader(body))
		resp := httptest.NewRecorder()
		PaymentCallback(engine, nil).ServeHTTP(resp, req)

		assert.Equal(t, http.StatusOK, resp.Code, body)
		var ack callbackAck
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&ack))
		assert.Equal(t, "success", ack.Status)
	}

	var stored int64
	require.NoError(t, conn.Model(&models.PaymentCallbackFailure{}).Count(&stored).Error)
	assert.Equal(t, int64(2), stored)
}

func TestPaymentCallbackSurfacesStorageErrors(t *testing.T) {
	engine := &stubEngine{callbackErr: pkgerrors.New(pkgerrors.CodeInternal, "settle payment")}
	req := httptest.NewRequest(http.MethodPost, "/payment-callback", strings.NewReader(stkCallback))
	resp := httptest.NewRecorder()
	PaymentCallback(engine, nil).ServeHTTP(resp, req)

	assert.Equal(t, http.StatusInternalServerError, resp.Code)
}

func TestPaymentQueryReturnsProviderFields(t *testing.T) {
	engine := &stubEngine{queryResp: &mpesa.QueryResponse{
		ResponseCode:        "0",
		ResponseDescription: "The service request has been accepted successsfully",
		MerchantRequestID:   "22205-34066-1",
		CheckoutRequestID:   "ws_CO_13012021093521236557",
		ResultCode:          "1032",
		ResultDesc:          "Request cancelled by user",
	}}
	req := httptest.NewRequest(http.MethodPost, "/payment-query", strings.NewReader(`{"checkout_request_id":"ws_CO_13012021093521236557"}`))
	resp := httptest.NewRecorder()
	PaymentQuery(engine, nil).ServeHTTP(resp, req)

	require.Equal(t, http.StatusOK, resp.Code)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "1032", body["ResultCode"])
	assert.Equal(t, "Request cancelled by user", body["ResultDesc"])
}

func TestPaymentQueryGatewayFailure(t *testing.T) {
	engine := &stubEngine{queryErr: pkgerrors.New(pkgerrors.CodeGateway, "The transaction is being processed")}
	req := httptest.NewRequest(http.MethodPost, "/payment-query", strings.NewReader(`{"checkout_request_id":"ws_CO_1"}`))
	resp := httptest.NewRecorder()
	PaymentQuery(engine, nil).ServeHTTP(resp, req)

	assert.Equal(t, http.StatusInternalServerError, resp.Code)
	var body responses.ErrorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "The transaction is being processed", body.Detail)
}

type stubCheckout struct {
	got    checkout.Request
	result *checkout.Result
	err    error
}

func (s *stubCheckout) Checkout(ctx context.Context, req checkout.Request) (*checkout.Result, error) {
	s.got = req
	return s.result, s.err
}

func TestCheckoutCreated(t *testing.T) {
	svc := &stubCheckout{result: &checkout.Result{CheckoutRequestID: "ws_CO_1", ResponseCode: "0"}}
	orderID := uuid.New()
	body := `{"order_id":"` + orderID.String() + `","shipping_address_id":"` + uuid.NewString() + `","payment_method_id":"` + uuid.NewString() + `","phone_number":"254712345678"}`
	req := httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(body))
	resp := httptest.NewRecorder()
	Checkout(svc, nil).ServeHTTP(resp, req)

	assert.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, orderID, svc.got.OrderID)
	assert.Equal(t, "254712345678", svc.got.PhoneNumber)
	assert.Contains(t, resp.Body.String(), `"checkout_request_id":"ws_CO_1"`)
}

func TestCheckoutMapsAlreadyProcessed(t *testing.T) {
	svc := &stubCheckout{err: pkgerrors.New(pkgerrors.CodeAlreadyProcessed, "Order already processed")}
	body := `{"order_id":"` + uuid.NewString() + `","shipping_address_id":"` + uuid.NewString() + `","payment_method_id":"` + uuid.NewString() + `","phone_number":"254712345678"}`
	req := httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(body))
	resp := httptest.NewRecorder()
	Checkout(svc, nil).ServeHTTP(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
	var errBody responses.ErrorBody
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&errBody))
	assert.Equal(t, "Order already processed", errBody.Detail)
}

func TestCheckoutRejectsMissingFields(t *testing.T) {
	svc := &stubCheckout{}
	req := httptest.NewRequest(http.MethodPost, "/checkout", strings.NewReader(`{"phone_number":"254712345678"}`))
	resp := httptest.NewRecorder()
	Checkout(svc, nil).ServeHTTP(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
}
