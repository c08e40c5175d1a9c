package entity

// Status constants for FinancialDocument
const (
	StatusDraft     = "DRAFT"
	StatusPending   = "PENDING"
	StatusApproved  = "APPROVED"
	StatusRejected  = "REJECTED"
	StatusCancelled = "CANCELLED"
	StatusPosted    = "POSTED"
)

// DocumentKind decides which ledger record a posted voucher produces
type DocumentKind string

const (
	KindExpense    DocumentKind = "expense"    // payment request
	KindCollection DocumentKind = "collection" // collection request
	KindBilling    DocumentKind = "billing"    // invoice / billing statement
)

// IsValid returns true for a known document kind
func (k DocumentKind) IsValid() bool {
	switch k {
	case KindExpense, KindCollection, KindBilling:
		return true
	}
	return false
}

// Transition action constants for TransitionRecord
const (
	ActionCreated        = "CREATED"
	ActionSubmitted      = "SUBMITTED"
	ActionApproved       = "APPROVED"
	ActionRejected       = "REJECTED"
	ActionCancelled      = "CANCELLED"
	ActionPostedToLedger = "POSTED_TO_LEDGER"
)

// Tax type constants for LineItem
const (
	TaxTypeVAT       = "VAT"
	TaxTypeNonVAT    = "NON_VAT"
	TaxTypeZeroRated = "ZERO_RATED"
	TaxTypeExempt    = "EXEMPT"
)

var validTaxTypes = map[string]bool{
	TaxTypeVAT:       true,
	TaxTypeNonVAT:    true,
	TaxTypeZeroRated: true,
	TaxTypeExempt:    true,
}

// IsValidTaxType reports whether t is one of the known tax types
func IsValidTaxType(t string) bool {
	return validTaxTypes[t]
}
