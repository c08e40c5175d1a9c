package utils

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	documentIDRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_\-]{0,63}$`)
	controlRegex    = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f\x7f]`)
)

// ValidateDocumentID checks that an id is safe to embed in a store key.
// ':' separates key segments, so it is not allowed.
func ValidateDocumentID(id string) error {
	if !documentIDRegex.MatchString(id) {
		return fmt.Errorf("invalid document id: %q", id)
	}
	return nil
}

// ValidateAmount validates a money amount: non-negative with at most two decimals
func ValidateAmount(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return fmt.Errorf("amount must not be negative: %s", amount)
	}
	if !amount.Equal(amount.Round(2)) {
		return fmt.Errorf("amount must have at most 2 decimals: %s", amount)
	}
	return nil
}

// SanitizeString removes control characters (keeping tab and newlines) and trims space
func SanitizeString(s string) string {
	return strings.TrimSpace(controlRegex.ReplaceAllString(s, ""))
}
