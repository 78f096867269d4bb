package clearsky

// PurchaseState is a step of the purchase-confirmation flow
type PurchaseState string

const (
	StateIdle                 PurchaseState = "idle"
	StateSwitchingChain       PurchaseState = "switching_chain"
	StateSendingPayment       PurchaseState = "sending_payment"
	StateAwaitingConfirmation PurchaseState = "awaiting_confirmation"
	StateFinalizing           PurchaseState = "finalizing_backend_purchase"
	StateSuccess              PurchaseState = "success"
	StateFailed               PurchaseState = "failed"
)

var transitions = map[PurchaseState][]PurchaseState{
	StateIdle:                 {StateSwitchingChain, StateSendingPayment, StateFailed},
	StateSwitchingChain:       {StateSendingPayment, StateFailed},
	StateSendingPayment:       {StateAwaitingConfirmation, StateFailed},
	StateAwaitingConfirmation: {StateAwaitingConfirmation, StateFinalizing, StateFailed},
	StateFinalizing:           {StateSuccess, StateFailed},
}

// IsTerminal reports whether no further transition is possible
func (s PurchaseState) IsTerminal() bool {
	return s == StateSuccess || s == StateFailed
}

// IsValid reports whether s is a known state
func (s PurchaseState) IsValid() bool {
	if s.IsTerminal() {
		return true
	}
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether moving from one state to another is an edge of the flow
func CanTransition(from, to PurchaseState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
