package entity

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// LineItem is one billed line of a document. Amount is in the document's
// settlement currency. When the line originated in another currency the
// original amount and the rate used are frozen alongside it.
type LineItem struct {
	Description      string           `json:"description"`
	Quantity         decimal.Decimal  `json:"quantity"`
	UnitPrice        decimal.Decimal  `json:"unit_price"`
	TaxType          string           `json:"tax_type"`
	Amount           decimal.Decimal  `json:"amount"`
	OriginalCurrency string           `json:"original_currency,omitempty"`
	OriginalAmount   *decimal.Decimal `json:"original_amount,omitempty"`
	ExchangeRate     *decimal.Decimal `json:"exchange_rate,omitempty"`
}

// IsForeign reports whether the line carries a currency snapshot
func (l LineItem) IsForeign() bool {
	return l.OriginalCurrency != ""
}

// CheckSnapshot verifies amount == round(original_amount * exchange_rate, 2)
// for foreign lines, and that domestic lines carry no snapshot fields
func (l LineItem) CheckSnapshot(documentCurrency string) error {
	if !l.IsForeign() || l.OriginalCurrency == documentCurrency {
		if l.OriginalAmount != nil || l.ExchangeRate != nil {
			return fmt.Errorf("line %q: snapshot fields set without a foreign currency", l.Description)
		}
		return nil
	}

	if l.OriginalAmount == nil || l.ExchangeRate == nil {
		return fmt.Errorf("line %q: incomplete %s snapshot", l.Description, l.OriginalCurrency)
	}

	want := l.OriginalAmount.Mul(*l.ExchangeRate).Round(2)
	if !l.Amount.Equal(want) {
		return fmt.Errorf("line %q: amount %s does not match %s x %s = %s",
			l.Description, l.Amount.StringFixed(2), l.OriginalAmount.String(), l.ExchangeRate.String(), want.StringFixed(2))
	}
	return nil
}
