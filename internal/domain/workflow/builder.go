package workflow

import "fmt"

// Transition is one row of a transition table
type Transition struct {
	From    State
	Trigger Trigger
	To      State
}

// Builder collects transitions and compiles them into a Table
type Builder struct {
	rows []Transition
}

// StateConfiguration adds transitions out of one state
type StateConfiguration struct {
	b    *Builder
	from State
}

// NewBuilder creates an empty builder
func NewBuilder() *Builder {
	return &Builder{}
}

// Configure returns a configuration for transitions leaving state
func (b *Builder) Configure(state State) StateConfiguration {
	return StateConfiguration{b: b, from: state}
}

// Permit allows trigger to move the configured state to toState
func (c StateConfiguration) Permit(trigger Trigger, toState State) StateConfiguration {
	c.b.rows = append(c.b.rows, Transition{From: c.from, Trigger: trigger, To: toState})
	return c
}

// Build validates the rows and returns an immutable table. Every state must
// be valid and every trigger known. A (state, trigger) pair may appear once.
// Terminal states may not have outgoing transitions.
func (b *Builder) Build() (*Table, error) {
	t := &Table{next: make(map[State]map[Trigger]State)}
	for _, row := range b.rows {
		if !row.From.IsValid() {
			return nil, fmt.Errorf("invalid state %q", row.From)
		}
		if !row.To.IsValid() {
			return nil, fmt.Errorf("invalid target state %q for %s from %s", row.To, row.Trigger, row.From)
		}
		if !row.Trigger.IsKnown() {
			return nil, fmt.Errorf("unknown trigger %q from %s", row.Trigger, row.From)
		}
		if row.From.IsTerminal() {
			return nil, fmt.Errorf("terminal state %s cannot have transition %s", row.From, row.Trigger)
		}
		out, ok := t.next[row.From]
		if !ok {
			out = make(map[Trigger]State)
			t.next[row.From] = out
		}
		if existing, dup := out[row.Trigger]; dup {
			return nil, fmt.Errorf("trigger %s from %s already leads to %s", row.Trigger, row.From, existing)
		}
		out[row.Trigger] = row.To
		t.rows = append(t.rows, row)
	}
	return t, nil
}

// Table is a compiled transition table. It is safe for concurrent use.
type Table struct {
	next map[State]map[Trigger]State
	rows []Transition
}

// Next returns the state trigger leads to from state
func (t *Table) Next(from State, trigger Trigger) (State, error) {
	if from.IsTerminal() {
		return from, fmt.Errorf("%w: cannot fire trigger %s from terminal state %s", ErrInvalidTransition, trigger, from)
	}
	to, ok := t.next[from][trigger]
	if !ok {
		return from, fmt.Errorf("%w: cannot fire trigger %s from state %s", ErrInvalidTransition, trigger, from)
	}
	return to, nil
}

// Permitted returns the triggers allowed from state, in AllTriggers order
func (t *Table) Permitted(from State) []Trigger {
	out := make([]Trigger, 0, len(t.next[from]))
	for _, trigger := range AllTriggers {
		if _, ok := t.next[from][trigger]; ok {
			out = append(out, trigger)
		}
	}
	return out
}

// Transitions returns a copy of the rows in the order they were configured
func (t *Table) Transitions() []Transition {
	return append([]Transition(nil), t.rows...)
}

// Machine returns a state machine positioned at initial
func (t *Table) Machine(initial State) StateMachine {
	return &stateMachine{table: t, current: initial}
}

type stateMachine struct {
	table   *Table
	current State
}

func (m *stateMachine) State() State {
	return m.current
}

func (m *stateMachine) CanFire(trigger Trigger) bool {
	_, err := m.table.Next(m.current, trigger)
	return err == nil
}

func (m *stateMachine) Fire(trigger Trigger) error {
	to, err := m.table.Next(m.current, trigger)
	if err != nil {
		return err
	}
	m.current = to
	return nil
}

func (m *stateMachine) PermittedTriggers() []Trigger {
	return m.table.Permitted(m.current)
}
