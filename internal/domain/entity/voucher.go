package entity

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Actor is the caller of a workflow operation, as asserted by the API boundary
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// Authenticated reports whether the caller boundary identified the actor
func (a Actor) Authenticated() bool {
	return a.ID != "" && a.Role != ""
}

// FinancialDocument is an E-Voucher: a payment or collection request that
// must be approved before it affects the ledger
type FinancialDocument struct {
	ID              string          `json:"id"`
	DocumentKind    DocumentKind    `json:"document_kind"`
	Status          string          `json:"status"`
	RequestedBy     Actor           `json:"requested_by"`
	Payee           string          `json:"payee,omitempty"`
	Purpose         string          `json:"purpose,omitempty"`
	BookingRef      string          `json:"booking_ref,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	LineItems       []LineItem      `json:"line_items,omitempty"`
	RejectionReason string          `json:"rejection_reason,omitempty"`
	PostedLedgerRef string          `json:"posted_ledger_ref,omitempty"`
	Version         int             `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Clone returns a copy that shares no slices with d
func (d *FinancialDocument) Clone() *FinancialDocument {
	c := *d
	if d.LineItems != nil {
		c.LineItems = make([]LineItem, len(d.LineItems))
		copy(c.LineItems, d.LineItems)
	}
	return &c
}

// LineTotal sums the settlement-currency amounts of all line items
func (d *FinancialDocument) LineTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range d.LineItems {
		total = total.Add(item.Amount)
	}
	return total
}

// CheckPostingInvariant verifies posted_ledger_ref is set iff status is POSTED
func (d *FinancialDocument) CheckPostingInvariant() error {
	posted := d.Status == StatusPosted
	hasRef := d.PostedLedgerRef != ""
	if posted != hasRef {
		return fmt.Errorf("document %s: status %s with posted_ledger_ref %q", d.ID, d.Status, d.PostedLedgerRef)
	}
	return nil
}
