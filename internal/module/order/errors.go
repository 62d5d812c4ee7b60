package order

import (
	"errors"
	"fmt"
)

// Module errors.
var (
	ErrOrderNotFound     = errors.New("order not found")
	ErrOrderTerminal     = errors.New("order is in a terminal state")
	ErrInvalidTransition = errors.New("invalid order state transition")
)

// TransitionError reports a failed state transition. Retryable marks
// failures a later attempt could succeed at, such as a concurrent update
// or a lost database connection. Structural failures, like an order that
// is already settled, will never succeed on retry.
type TransitionError struct {
	From      State
	To        State
	Retryable bool
	Err       error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("transition %s -> %s: %v", e.From, e.To, e.Err)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

// IsRetryableTransition reports whether err is a transition failure
// worth retrying.
func IsRetryableTransition(err error) bool {
	var te *TransitionError
	if errors.As(err, &te) {
		return te.Retryable
	}
	return false
}
