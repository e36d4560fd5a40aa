package mpesa

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseCallbackEnvelope(t *testing.T) {
	payload := `{"Body":{"stkCallback":{"MerchantRequestID":"m-1","CheckoutRequestID":"ws_CO_1","ResultCode":0,"ResultDesc":"The service request is processed successfully.","CallbackMetadata":{"Item":[{"Name":"Amount","Value":1500},{"Name":"MpesaReceiptNumber","Value":"NLJ7RT61SV"},{"Name":"Balance"},{"Name":"PhoneNumber","Value":254712345678}]}}}}`

	cb, err := ParseCallback([]byte(payload))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cb.CheckoutRequestID != "ws_CO_1" || !cb.ResultCode.Success() {
		t.Fatalf("unexpected callback %+v", cb)
	}
	amount, ok := cb.Amount()
	if !ok || !amount.Equal(decimal.NewFromInt(1500)) {
		t.Fatalf("unexpected amount %s ok=%v", amount, ok)
	}
	if cb.ReceiptNumber() != "NLJ7RT61SV" {
		t.Fatalf("unexpected receipt %q", cb.ReceiptNumber())
	}
}

func TestParseCallbackFlat(t *testing.T) {
	cb, err := ParseCallback([]byte(`{"CheckoutRequestID":"ws_CO_9","ResultCode":"1032","ResultDesc":"Request cancelled by user"}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cb.CheckoutRequestID != "ws_CO_9" || cb.ResultCode != "1032" || cb.ResultCode.Success() {
		t.Fatalf("unexpected callback %+v", cb)
	}
	if _, ok := cb.Amount(); ok {
		t.Fatalf("expected no amount on failed callback")
	}
}

func TestValidatePhone(t *testing.T) {
	cases := map[string]bool{
		"254712345678":  true,
		"0712345678":    false,
		"+254712345678": false,
		"25471234567":   false,
		"2547123456a8":  false,
	}
	for phone, ok := range cases {
		if err := ValidatePhone(phone); (err == nil) != ok {
			t.Fatalf("ValidatePhone(%q) = %v, want ok=%v", phone, err, ok)
		}
	}
}

func TestPasswordEncoding(t *testing.T) {
	if got := Password("174379", "pk", "20260101000000"); got != "MTc0Mzc5cGsyMDI2MDEwMTAwMDAwMA==" {
		t.Fatalf("unexpected password %q", got)
	}
}
