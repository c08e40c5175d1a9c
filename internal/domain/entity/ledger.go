package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// LedgerKind is the ledger module a posted record belongs to
type LedgerKind string

const (
	LedgerExpense    LedgerKind = "expense"
	LedgerCollection LedgerKind = "collection"
	LedgerBilling    LedgerKind = "billing"
)

// LedgerKindFor maps a document kind to the ledger it posts into
func LedgerKindFor(kind DocumentKind) (LedgerKind, bool) {
	switch kind {
	case KindExpense:
		return LedgerExpense, true
	case KindCollection:
		return LedgerCollection, true
	case KindBilling:
		return LedgerBilling, true
	}
	return "", false
}

// LedgerRecord is the authoritative accounting entry created by posting.
// It is written once and never updated.
type LedgerRecord struct {
	ID               string          `json:"id"`
	Kind             LedgerKind      `json:"kind"`
	SourceDocumentID string          `json:"source_document_id"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	Description      string          `json:"description,omitempty"`
	CreatedBy        Actor           `json:"created_by"`
	CreatedAt        time.Time       `json:"created_at"`
}
