package workflow

// Trigger represents an action that can cause a state transition
type Trigger string

const (
	TriggerSubmit       Trigger = "SUBMIT"
	TriggerApprove      Trigger = "APPROVE"
	TriggerReject       Trigger = "REJECT"
	TriggerCancel       Trigger = "CANCEL"
	TriggerPostToLedger Trigger = "POST_TO_LEDGER"
)

// AllTriggers lists every trigger in table order
var AllTriggers = []Trigger{
	TriggerSubmit,
	TriggerApprove,
	TriggerReject,
	TriggerCancel,
	TriggerPostToLedger,
}

// String returns the string representation of the trigger
func (t Trigger) String() string {
	return string(t)
}

// IsKnown reports whether t is one of AllTriggers
func (t Trigger) IsKnown() bool {
	for _, known := range AllTriggers {
		if t == known {
			return true
		}
	}
	return false
}
