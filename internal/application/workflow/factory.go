package workflow

import (
	"fmt"

	domainwf "github.com/garyjia/evoucher/internal/domain/workflow"
)

// voucherTable is the E-Voucher lifecycle. CANCELLED and POSTED are terminal.
var voucherTable = mustVoucherTable()

func mustVoucherTable() *domainwf.Table {
	b := domainwf.NewBuilder()

	b.Configure(domainwf.StateDraft).
		Permit(domainwf.TriggerSubmit, domainwf.StatePending).
		Permit(domainwf.TriggerCancel, domainwf.StateCancelled)

	b.Configure(domainwf.StatePending).
		Permit(domainwf.TriggerApprove, domainwf.StateApproved).
		Permit(domainwf.TriggerReject, domainwf.StateRejected)

	b.Configure(domainwf.StateRejected).
		Permit(domainwf.TriggerCancel, domainwf.StateCancelled)

	b.Configure(domainwf.StateApproved).
		Permit(domainwf.TriggerPostToLedger, domainwf.StatePosted)

	table, err := b.Build()
	if err != nil {
		panic(fmt.Sprintf("voucher transition table: %v", err))
	}
	return table
}

// BuildVoucherStateMachine creates a state machine positioned at initialState
func BuildVoucherStateMachine(initialState domainwf.State) domainwf.StateMachine {
	return voucherTable.Machine(initialState)
}

// VoucherTransitions returns the lifecycle table rows
func VoucherTransitions() []domainwf.Transition {
	return voucherTable.Transitions()
}
