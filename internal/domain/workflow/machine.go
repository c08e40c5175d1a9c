package workflow

// StateMachine tracks one document's position in a Table
type StateMachine interface {
	State() State

	// CanFire returns true if the trigger is permitted in the current state
	CanFire(trigger Trigger) bool

	// Fire moves to the trigger's target state or returns ErrInvalidTransition
	Fire(trigger Trigger) error

	// PermittedTriggers returns the triggers allowed in the current state
	PermittedTriggers() []Trigger
}
