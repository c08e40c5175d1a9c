// Package currency freezes foreign-currency line amounts into the document's
// settlement currency at the moment a line is attached.
package currency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/garyjia/evoucher/internal/apperrors"
	"github.com/garyjia/evoucher/internal/application/port"
)

// DefaultLookupTimeout bounds a single rate lookup
const DefaultLookupTimeout = 5 * time.Second

// Snapshot is the frozen result of a resolution. OriginalCurrency,
// OriginalAmount and ExchangeRate are nil/empty for same-currency lines.
type Snapshot struct {
	Amount           decimal.Decimal
	OriginalCurrency string
	OriginalAmount   *decimal.Decimal
	ExchangeRate     *decimal.Decimal
}

// Normalize upper-cases an ISO 4217 code and rejects anything that is not
// three letters
func Normalize(code string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(code))
	if len(c) != 3 {
		return "", fmt.Errorf("%w: currency %q must be a 3-letter code", apperrors.ErrValidation, code)
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return "", fmt.Errorf("%w: currency %q must be a 3-letter code", apperrors.ErrValidation, code)
		}
	}
	return c, nil
}

// Resolve converts amount from lineCurrency into docCurrency. The rate is
// looked up exactly once; the caller's ctx carries the deadline.
func Resolve(ctx context.Context, amount decimal.Decimal, lineCurrency, docCurrency string, lookup port.RateLookup) (Snapshot, error) {
	from, err := Normalize(lineCurrency)
	if err != nil {
		return Snapshot{}, err
	}
	to, err := Normalize(docCurrency)
	if err != nil {
		return Snapshot{}, err
	}

	if from == to {
		return Snapshot{Amount: amount}, nil
	}

	if lookup == nil {
		return Snapshot{}, fmt.Errorf("%w: no rate source for %s/%s", apperrors.ErrRateUnavailable, from, to)
	}

	rate, err := lookup.Rate(ctx, from, to)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %s/%s: %w", apperrors.ErrRateUnavailable, from, to, err)
	}
	// a lookup that ignores ctx may still return after the deadline
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Snapshot{}, fmt.Errorf("%w: %s/%s: %w", apperrors.ErrRateUnavailable, from, to, ctxErr)
	}
	if !rate.IsPositive() {
		return Snapshot{}, fmt.Errorf("%w: %s/%s: non-positive rate %s", apperrors.ErrRateUnavailable, from, to, rate)
	}

	original := amount
	return Snapshot{
		Amount:           amount.Mul(rate).Round(2),
		OriginalCurrency: from,
		OriginalAmount:   &original,
		ExchangeRate:     &rate,
	}, nil
}

// Observer receives the duration and outcome of every rate lookup
type Observer interface {
	ObserveRateLookup(from, to string, d time.Duration, err error)
}

// Resolver binds a rate source and a per-lookup timeout
type Resolver struct {
	lookup   port.RateLookup
	timeout  time.Duration
	observer Observer
}

// ResolverOption configures a Resolver
type ResolverOption func(*Resolver)

// WithTimeout sets the per-lookup timeout
func WithTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithObserver records lookup latency
func WithObserver(o Observer) ResolverOption {
	return func(r *Resolver) {
		r.observer = o
	}
}

// NewResolver creates a resolver over lookup
func NewResolver(lookup port.RateLookup, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		lookup:  lookup,
		timeout: DefaultLookupTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve is the package Resolve with the resolver's timeout applied
func (r *Resolver) Resolve(ctx context.Context, amount decimal.Decimal, lineCurrency, docCurrency string) (Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var lookup port.RateLookup
	if r.lookup != nil {
		lookup = &observedLookup{next: r.lookup, observer: r.observer}
	}
	return Resolve(ctx, amount, lineCurrency, docCurrency, lookup)
}

type observedLookup struct {
	next     port.RateLookup
	observer Observer
}

func (o *observedLookup) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	start := time.Now()
	rate, err := o.next.Rate(ctx, from, to)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if o.observer != nil {
		o.observer.ObserveRateLookup(from, to, time.Since(start), err)
	}
	return rate, err
}

// IsTimeout reports whether a resolution failed because the lookup ran out of time
func IsTimeout(err error) bool {
	return errors.Is(err, apperrors.ErrRateUnavailable) && errors.Is(err, context.DeadlineExceeded)
}
