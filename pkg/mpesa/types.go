package mpesa

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ResultCodeSuccess is the Daraja result code for a settled payment.
const ResultCodeSuccess = "0"

// InitiateRequest describes an STK push for a single order.
type InitiateRequest struct {
	OrderID     uuid.UUID
	PhoneNumber string
	Amount      decimal.Decimal
	CallbackURL string
}

// InitiateResponse carries the correlation identifiers returned by Daraja.
type InitiateResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// QueryResponse is the raw STK push status returned by the query API.
type QueryResponse struct {
	ResponseCode        string     `json:"ResponseCode"`
	ResponseDescription string     `json:"ResponseDescription"`
	MerchantRequestID   string     `json:"MerchantRequestID"`
	CheckoutRequestID   string     `json:"CheckoutRequestID"`
	ResultCode          ResultCode `json:"ResultCode"`
	ResultDesc          string     `json:"ResultDesc"`
}

// ResultCode accepts both the numeric and string encodings Daraja uses.
type ResultCode string

func (r *ResultCode) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*r = ""
		return nil
	}
	if trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*r = ResultCode(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(trimmed, &n); err != nil {
		return fmt.Errorf("result code: %w", err)
	}
	*r = ResultCode(n.String())
	return nil
}

func (r ResultCode) String() string { return string(r) }

// Success reports whether the code represents a settled payment.
func (r ResultCode) Success() bool { return string(r) == ResultCodeSuccess }

// Callback is the stkCallback object posted to the callback URL.
type Callback struct {
	MerchantRequestID string            `json:"MerchantRequestID"`
	CheckoutRequestID string            `json:"CheckoutRequestID"`
	ResultCode        ResultCode        `json:"ResultCode"`
	ResultDesc        string            `json:"ResultDesc"`
	CallbackMetadata  *CallbackMetadata `json:"CallbackMetadata,omitempty"`
}

type CallbackMetadata struct {
	Item []CallbackItem `json:"Item"`
}

type CallbackItem struct {
	Name  string `json:"Name"`
	Value any    `json:"Value,omitempty"`
}

type callbackEnvelope struct {
	Body *struct {
		StkCallback *Callback `json:"stkCallback"`
	} `json:"Body"`
}

// ParseCallback decodes either the Daraja envelope or a flat callback object.
func ParseCallback(data []byte) (Callback, error) {
	var env callbackEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Callback{}, fmt.Errorf("decode callback: %w", err)
	}
	if env.Body != nil && env.Body.StkCallback != nil {
		return *env.Body.StkCallback, nil
	}

	var flat Callback
	if err := json.Unmarshal(data, &flat); err != nil {
		return Callback{}, fmt.Errorf("decode callback: %w", err)
	}
	return flat, nil
}

// Amount returns the paid amount from the callback metadata, if present.
func (c Callback) Amount() (decimal.Decimal, bool) {
	value, ok := c.metadataValue("Amount")
	if !ok {
		return decimal.Zero, false
	}
	switch v := value.(type) {
	case float64:
		return decimal.NewFromFloat(v), true
	case string:
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	case json.Number:
		d, err := decimal.NewFromString(v.String())
		if err != nil {
			return decimal.Zero, false
		}
		return d, true
	}
	return decimal.Zero, false
}

// ReceiptNumber returns the MpesaReceiptNumber metadata item.
func (c Callback) ReceiptNumber() string {
	value, ok := c.metadataValue("MpesaReceiptNumber")
	if !ok {
		return ""
	}
	return stringify(value)
}

func (c Callback) metadataValue(name string) (any, bool) {
	if c.CallbackMetadata == nil {
		return nil, false
	}
	for _, item := range c.CallbackMetadata.Item {
		if strings.EqualFold(item.Name, name) && item.Value != nil {
			return item.Value, true
		}
	}
	return nil, false
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

type errorResponse struct {
	RequestID    string `json:"requestId"`
	ErrorCode    string `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

type tokenResponse struct {
	AccessToken string      `json:"access_token"`
	ExpiresIn   json.Number `json:"expires_in"`
}
