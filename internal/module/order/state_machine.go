package order

// StateMachine validates and executes order state transitions.
type StateMachine struct {
	transitions map[State][]State
}

// NewStateMachine creates a new order state machine.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		transitions: map[State][]State{
			StateCreated:           {StateArrangingPayment, StateCancelled},
			StateArrangingPayment:  {StatePaymentAuthorized, StatePaymentSettled, StateCancelled},
			StatePaymentAuthorized: {StatePaymentSettled, StateCancelled},
			StatePaymentSettled:    {}, // Terminal state
			StateCancelled:         {}, // Terminal state
		},
	}
}

// CanTransition checks if a transition from `from` to `to` is valid.
func (sm *StateMachine) CanTransition(from, to State) bool {
	allowed, ok := sm.transitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// Transition attempts to transition an order to a new state. A transition
// refused by the table is structural and never retryable.
func (sm *StateMachine) Transition(order *Order, to State) error {
	if order.State == to {
		return nil
	}
	if !sm.CanTransition(order.State, to) {
		return &TransitionError{From: order.State, To: to, Err: ErrInvalidTransition}
	}
	order.State = to
	return nil
}

// GetAllowedTransitions returns all allowed transitions from the current state.
func (sm *StateMachine) GetAllowedTransitions(from State) []State {
	allowed, ok := sm.transitions[from]
	if !ok {
		return []State{}
	}
	result := make([]State, len(allowed))
	copy(result, allowed)
	return result
}
