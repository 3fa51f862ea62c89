package checkout

// Status enumerates order lifecycle states.
type Status string

const (
	// StatusDraft is the order between pricing and intent creation.
	StatusDraft Status = "draft"
	// StatusPendingPayment means a payment intent is open with the gateway.
	StatusPendingPayment Status = "pending_payment"
	// StatusPaid is terminal: payment settled, discount committed.
	StatusPaid Status = "paid"
	// StatusPaymentFailed allows exactly one retry before cancellation.
	StatusPaymentFailed Status = "payment_failed"
	// StatusCancelled is terminal: any reservation has been released.
	StatusCancelled Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusDraft:          {StatusPendingPayment, StatusCancelled},
	StatusPendingPayment: {StatusPaid, StatusPaymentFailed, StatusCancelled},
	StatusPaymentFailed:  {StatusPendingPayment, StatusCancelled},
}

// CanTransitionTo reports whether the state machine allows moving from s to
// next. Paid and cancelled are terminal.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Valid reports whether s names a known state.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPendingPayment, StatusPaid, StatusPaymentFailed, StatusCancelled:
		return true
	default:
		return false
	}
}
