// Package rates provides exchange rate sources for the snapshot resolver.
package rates

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

// inverseRatePrecision is the number of decimals kept when a rate is derived
// from its reverse pair
const inverseRatePrecision = 6

// StaticRates is an in-memory rate table. Rates are keyed "FROM/TO"; a
// missing pair falls back to the inverse of its reverse.
type StaticRates struct {
	mu    sync.RWMutex
	rates map[string]decimal.Decimal
}

// NewStaticRates creates a table from "FROM/TO" -> rate string pairs
func NewStaticRates(table map[string]string) (*StaticRates, error) {
	s := &StaticRates{rates: make(map[string]decimal.Decimal, len(table))}
	for pair, raw := range table {
		from, to, ok := strings.Cut(pair, "/")
		if !ok {
			return nil, fmt.Errorf("invalid rate pair %q, want FROM/TO", pair)
		}
		rate, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid rate for %s: %w", pair, err)
		}
		if err := s.Set(from, to, rate); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Set replaces the rate for a pair. Snapshots already taken are unaffected.
func (s *StaticRates) Set(from, to string, rate decimal.Decimal) error {
	if !rate.IsPositive() {
		return fmt.Errorf("rate for %s/%s must be positive, got %s", from, to, rate)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rates[key(from, to)] = rate
	return nil
}

// Rate implements port.RateLookup
func (s *StaticRates) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if rate, ok := s.rates[key(from, to)]; ok {
		return rate, nil
	}
	if reverse, ok := s.rates[key(to, from)]; ok {
		return decimal.NewFromInt(1).DivRound(reverse, inverseRatePrecision), nil
	}
	return decimal.Zero, fmt.Errorf("no rate for %s/%s", strings.ToUpper(from), strings.ToUpper(to))
}

// Snapshot returns a copy of the configured pairs
func (s *StaticRates) Snapshot() map[string]decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(s.rates))
	for k, v := range s.rates {
		out[k] = v
	}
	return out
}

func key(from, to string) string {
	return strings.ToUpper(from) + "/" + strings.ToUpper(to)
}
