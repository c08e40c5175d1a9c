package workflow

import "github.com/garyjia/evoucher/internal/domain/entity"

// State represents a status in the E-Voucher lifecycle
type State string

const (
	StateDraft     State = entity.StatusDraft
	StatePending   State = entity.StatusPending
	StateApproved  State = entity.StatusApproved
	StateRejected  State = entity.StatusRejected
	StateCancelled State = entity.StatusCancelled
	StatePosted    State = entity.StatusPosted
)

var validStates = map[State]bool{
	StateDraft:     true,
	StatePending:   true,
	StateApproved:  true,
	StateRejected:  true,
	StateCancelled: true,
	StatePosted:    true,
}

// Cancelled documents are retained for audit, never deleted.
var terminalStates = map[State]bool{
	StateCancelled: true,
	StatePosted:    true,
}

// IsTerminal returns true if the state is a terminal state (no further transitions allowed)
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state is a valid workflow state
func (s State) IsValid() bool {
	return validStates[s]
}
