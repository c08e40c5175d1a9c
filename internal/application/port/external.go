package port

import (
	"context"

	"github.com/shopspring/decimal"
)

// RateLookup returns the conversion rate from one currency to another,
// such that amount_in_to = amount_in_from * rate
type RateLookup interface {
	Rate(ctx context.Context, from, to string) (decimal.Decimal, error)
}
