package mpesa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mohacollection/storefront-backend/pkg/config"
	pkgerrors "github.com/mohacollection/storefront-backend/pkg/errors"
	"github.com/mohacollection/storefront-backend/pkg/logger"
	"github.com/mohacollection/storefront-backend/pkg/metrics"
)

const (
	tokenPath            = "/oauth/v1/generate?grant_type=client_credentials"
	stkPushPath          = "/mpesa/stkpush/v1/processrequest"
	stkQueryPath         = "/mpesa/stkpushquery/v1/query"
	transactionType      = "CustomerPayBillOnline"
	responseBodyLimit    = 64 * 1024
	tokenRefreshLeeway   = 60 * time.Second
	defaultTokenLifetime = 3599 * time.Second
	tokenCacheName       = "mpesa_access_token"
)

var redactedFields = map[string]struct{}{
	"Password":     {},
	"PhoneNumber":  {},
	"PartyA":       {},
	"access_token": {},
}

// TokenCache stores the OAuth access token between requests.
type TokenCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
}

// Client talks to the Daraja STK push and query APIs.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	consumerKey    string
	consumerSecret string
	shortCode      string
	passkey        string
	accountRef     string
	callbackURL    string
	logg           *logger.Logger
	tokens         TokenCache
	tokenKey       string
	metrics        *metrics.PaymentMetrics
	now            func() time.Time
}

// Option configures optional client behavior.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithBaseURL overrides the Daraja host resolved from config.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/"); trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

func WithLogger(logg *logger.Logger) Option {
	return func(c *Client) { c.logg = logg }
}

// WithTokenCache stores access tokens under key in cache.
func WithTokenCache(cache TokenCache, key string) Option {
	return func(c *Client) {
		c.tokens = cache
		if strings.TrimSpace(key) != "" {
			c.tokenKey = key
		}
	}
}

func WithMetrics(m *metrics.PaymentMetrics) Option {
	return func(c *Client) { c.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient builds a Daraja client from the mpesa config section.
func NewClient(cfg config.MpesaConfig, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.ShortCode) == "" {
		return nil, fmt.Errorf("mpesa short code is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	client := &Client{
		httpClient:     &http.Client{Timeout: timeout},
		baseURL:        cfg.ResolvedBaseURL(),
		consumerKey:    cfg.ConsumerKey,
		consumerSecret: cfg.ConsumerSecret,
		shortCode:      cfg.ShortCode,
		passkey:        cfg.Passkey,
		accountRef:     cfg.AccountRef,
		callbackURL:    cfg.CallbackURL,
		tokenKey:       tokenCacheName,
		now:            time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	return client, nil
}

type stkPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkQueryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

// Initiate sends an STK push prompt to the customer's handset. It makes a single attempt.
func (c *Client) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResponse, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "mpesa client not configured")
	}
	if err := ValidatePhone(req.PhoneNumber); err != nil {
		return nil, err
	}
	if !req.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be greater than zero")
	}
	callbackURL := strings.TrimSpace(req.CallbackURL)
	if callbackURL == "" {
		callbackURL = c.callbackURL
	}

	ts := Timestamp(c.now())
	body := stkPushRequest{
		BusinessShortCode: c.shortCode,
		Password:          Password(c.shortCode, c.passkey, ts),
		Timestamp:         ts,
		TransactionType:   transactionType,
		// Daraja only accepts whole shillings.
		Amount:           req.Amount.Ceil().IntPart(),
		PartyA:           req.PhoneNumber,
		PartyB:           c.shortCode,
		PhoneNumber:      req.PhoneNumber,
		CallBackURL:      callbackURL,
		AccountReference: c.accountRef,
		TransactionDesc:  fmt.Sprintf("Payment for order %s", req.OrderID),
	}

	started := time.Now()
	var out InitiateResponse
	err := c.call(ctx, "stk_push", stkPushPath, body, &out)
	if err == nil && out.ResponseCode != "0" {
		err = pkgerrors.New(pkgerrors.CodeGateway, providerMessage(out.ResponseDescription, out.ResponseCode))
	}
	c.metrics.ObserveGateway("stk_push", err, time.Since(started))
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// Query asks Daraja for the status of a previously initiated STK push.
func (c *Client) Query(ctx context.Context, checkoutRequestID string) (*QueryResponse, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "mpesa client not configured")
	}
	checkoutRequestID = strings.TrimSpace(checkoutRequestID)
	if checkoutRequestID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "checkout request id is required")
	}

	ts := Timestamp(c.now())
	body := stkQueryRequest{
		BusinessShortCode: c.shortCode,
		Password:          Password(c.shortCode, c.passkey, ts),
		Timestamp:         ts,
		CheckoutRequestID: checkoutRequestID,
	}

	started := time.Now()
	var out QueryResponse
	err := c.call(ctx, "stk_query", stkQueryPath, body, &out)
	c.metrics.ObserveGateway("stk_query", err, time.Since(started))
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) call(ctx context.Context, operation, path string, payload any, out any) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "marshal mpesa request")
	}
	c.logPayload(ctx, operation+" request", encoded)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(encoded))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build mpesa request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeGateway, err, "mpesa request failed: "+err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeGateway, err, "read mpesa response")
	}
	c.logPayload(ctx, operation+" response", raw)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return pkgerrors.New(pkgerrors.CodeGateway, errorMessage(resp.StatusCode, raw))
	}
	if msg := embeddedError(raw); msg != "" {
		return pkgerrors.New(pkgerrors.CodeGateway, msg)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeGateway, err, "decode mpesa response")
	}
	return nil
}

func (c *Client) accessToken(ctx context.Context) (string, error) {
	if c.tokens != nil {
		if cached, err := c.tokens.Get(ctx, c.tokenKey); err == nil && cached != "" {
			return cached, nil
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+tokenPath, nil)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build mpesa token request")
	}
	httpReq.SetBasicAuth(c.consumerKey, c.consumerSecret)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeGateway, err, "mpesa token request failed: "+err.Error())
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, responseBodyLimit))
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeGateway, err, "read mpesa token response")
	}
	if resp.StatusCode != http.StatusOK {
		return "", pkgerrors.New(pkgerrors.CodeGateway, errorMessage(resp.StatusCode, raw))
	}

	var tok tokenResponse
	if err := json.Unmarshal(raw, &tok); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeGateway, err, "decode mpesa token response")
	}
	if tok.AccessToken == "" {
		return "", pkgerrors.New(pkgerrors.CodeGateway, "mpesa token response missing access_token")
	}

	if c.tokens != nil {
		ttl := defaultTokenLifetime
		if secs, err := tok.ExpiresIn.Int64(); err == nil && secs > 0 {
			ttl = time.Duration(secs) * time.Second
		}
		if ttl > tokenRefreshLeeway {
			ttl -= tokenRefreshLeeway
		}
		if err := c.tokens.Set(ctx, c.tokenKey, tok.AccessToken, ttl); err != nil && c.logg != nil {
			c.logg.Warn(ctx, "failed to cache mpesa access token")
		}
	}
	return tok.AccessToken, nil
}

func (c *Client) logPayload(ctx context.Context, msg string, raw []byte) {
	if c.logg == nil {
		return
	}
	ctx = c.logg.WithField(ctx, "payload", redact(raw))
	c.logg.Debug(ctx, "mpesa "+msg)
}

// redact masks credential and subscriber fields in a JSON object.
func redact(raw []byte) string {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return "<non-json body>"
	}
	for key := range fields {
		if _, ok := redactedFields[key]; ok {
			fields[key] = "[REDACTED]"
		}
	}
	out, err := json.Marshal(fields)
	if err != nil {
		return "<unencodable body>"
	}
	return string(out)
}

func embeddedError(raw []byte) string {
	var e errorResponse
	if err := json.Unmarshal(raw, &e); err != nil {
		return ""
	}
	if e.ErrorMessage == "" && e.ErrorCode == "" {
		return ""
	}
	return providerMessage(e.ErrorMessage, e.ErrorCode)
}

func errorMessage(status int, raw []byte) string {
	if msg := embeddedError(raw); msg != "" {
		return msg
	}
	body := strings.TrimSpace(string(raw))
	if len(body) > 256 {
		body = body[:256]
	}
	if body == "" {
		return fmt.Sprintf("mpesa returned status %d", status)
	}
	return fmt.Sprintf("mpesa returned status %d: %s", status, body)
}

func providerMessage(message, code string) string {
	message = strings.TrimSpace(message)
	if message == "" {
		message = "mpesa request rejected"
	}
	if code != "" {
		return fmt.Sprintf("%s (code %s)", message, code)
	}
	return message
}
