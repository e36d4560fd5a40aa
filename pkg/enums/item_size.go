package enums

import (
	"fmt"
	"strings"
)

// ItemSize is the garment size recorded on cart and order items.
type ItemSize string

const (
	ItemSizeXS  ItemSize = "XS"
	ItemSizeS   ItemSize = "S"
	ItemSizeM   ItemSize = "M"
	ItemSizeL   ItemSize = "L"
	ItemSizeXL  ItemSize = "XL"
	ItemSizeXXL ItemSize = "XXL"

	DefaultItemSize = ItemSizeM
)

var validItemSizes = []ItemSize{
	ItemSizeXS,
	ItemSizeS,
	ItemSizeM,
	ItemSizeL,
	ItemSizeXL,
	ItemSizeXXL,
}

// String implements fmt.Stringer.
func (s ItemSize) String() string {
	return string(s)
}

// IsValid reports whether the value is a known ItemSize.
func (s ItemSize) IsValid() bool {
	for _, candidate := range validItemSizes {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseItemSize normalizes case and whitespace before matching.
func ParseItemSize(value string) (ItemSize, error) {
	normalized := strings.ToUpper(strings.TrimSpace(value))
	for _, candidate := range validItemSizes {
		if string(candidate) == normalized {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid size %q", value)
}
