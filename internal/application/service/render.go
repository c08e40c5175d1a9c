package service

import (
	"github.com/shopspring/decimal"

	"github.com/garyjia/evoucher/internal/domain/entity"
)

// LineView is the display projection of one line item
type LineView struct {
	No               int    `json:"no"`
	Description      string `json:"description"`
	Quantity         string `json:"quantity"`
	UnitPrice        string `json:"unit_price"`
	TaxType          string `json:"tax_type"`
	Amount           string `json:"amount"`
	Currency         string `json:"currency"`
	OriginalCurrency string `json:"original_currency,omitempty"`
	OriginalAmount   string `json:"original_amount,omitempty"`
	ExchangeRate     string `json:"exchange_rate,omitempty"`
}

// RenderLines projects the frozen line fields of doc for display. Amounts
// are never recomputed here.
func RenderLines(doc *entity.FinancialDocument) []LineView {
	if doc == nil {
		return []LineView{}
	}

	views := make([]LineView, 0, len(doc.LineItems))
	for i, item := range doc.LineItems {
		v := LineView{
			No:          i + 1,
			Description: item.Description,
			Quantity:    item.Quantity.String(),
			UnitPrice:   item.UnitPrice.StringFixed(2),
			TaxType:     item.TaxType,
			Amount:      item.Amount.StringFixed(2),
			Currency:    doc.Currency,
		}
		if item.IsForeign() {
			v.OriginalCurrency = item.OriginalCurrency
			if item.OriginalAmount != nil {
				v.OriginalAmount = formatOriginal(*item.OriginalAmount)
			}
			if item.ExchangeRate != nil {
				v.ExchangeRate = item.ExchangeRate.String()
			}
		}
		views = append(views, v)
	}
	return views
}

// formatOriginal shows at least two decimals without dropping precision
func formatOriginal(d decimal.Decimal) string {
	if d.Equal(d.Round(2)) {
		return d.StringFixed(2)
	}
	return d.String()
}
