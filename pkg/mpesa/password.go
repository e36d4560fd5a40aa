package mpesa

import (
	"encoding/base64"
	"strings"
	"time"

	pkgerrors "github.com/mohacollection/storefront-backend/pkg/errors"
)

const timestampLayout = "20060102150405"

// Africa/Nairobi is UTC+3 with no daylight saving.
var nairobi = time.FixedZone("EAT", 3*60*60)

// Timestamp formats t as YYYYMMDDHHMMSS in Africa/Nairobi time.
func Timestamp(t time.Time) string {
	return t.In(nairobi).Format(timestampLayout)
}

// Password derives the STK push password for the given timestamp.
func Password(shortCode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passkey + timestamp))
}

// ValidatePhone accepts only 12-digit MSISDNs in the 254 country format.
func ValidatePhone(phone string) error {
	if len(phone) != 12 || !strings.HasPrefix(phone, "254") {
		return pkgerrors.New(pkgerrors.CodeValidation, "phone number must be in the format 254XXXXXXXXX")
	}
	for _, r := range phone {
		if r < '0' || r > '9' {
			return pkgerrors.New(pkgerrors.CodeValidation, "phone number must contain digits only")
		}
	}
	return nil
}
