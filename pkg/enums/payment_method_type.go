package enums

import "fmt"

// PaymentMethodType enumerates stored payment method kinds.
type PaymentMethodType string

const (
	PaymentMethodTypeMpesa PaymentMethodType = "mpesa"
	PaymentMethodTypeCard  PaymentMethodType = "card"
)

var validPaymentMethodTypes = []PaymentMethodType{
	PaymentMethodTypeMpesa,
	PaymentMethodTypeCard,
}

// String implements fmt.Stringer.
func (p PaymentMethodType) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentMethodType.
func (p PaymentMethodType) IsValid() bool {
	for _, candidate := range validPaymentMethodTypes {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePaymentMethodType converts raw input into a PaymentMethodType.
func ParsePaymentMethodType(value string) (PaymentMethodType, error) {
	for _, candidate := range validPaymentMethodTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment method type %q", value)
}
