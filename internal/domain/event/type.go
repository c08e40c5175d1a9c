package event

// Type identifies the type of domain event
type Type string

const (
	TypeVoucherCreated    Type = "voucher.created"
	TypeStatusChanged     Type = "voucher.status_changed"
	TypeVoucherPosted     Type = "voucher.posted"
	TypeLineItemAttached  Type = "voucher.line_item_attached"
	TypeIntegrityViolated Type = "ledger.integrity_violated"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeVoucherCreated,
		TypeStatusChanged,
		TypeVoucherPosted,
		TypeLineItemAttached,
		TypeIntegrityViolated:
		return true
	default:
		return false
	}
}
