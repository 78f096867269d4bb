package clearsky

import "context"

// PurchaseContext is passed to before-purchase hooks
type PurchaseContext struct {
	Ctx     context.Context
	Request PurchaseRequest
	Buyer   string
}

// BeforeHookResult lets a before hook abort the purchase
type BeforeHookResult struct {
	Abort  bool
	Reason string
}

// StateChangeContext is passed to state-change hooks after the journal write
type StateChangeContext struct {
	Ctx      context.Context
	Purchase *Purchase
	From     PurchaseState
	To       PurchaseState
}

// PurchaseResultContext is passed to after-purchase hooks
type PurchaseResultContext struct {
	Ctx      context.Context
	Purchase *Purchase
}

// PurchaseFailureContext is passed to failure hooks
type PurchaseFailureContext struct {
	Ctx      context.Context
	Purchase *Purchase
	Error    *PurchaseError
}

type (
	BeforePurchaseHook  func(PurchaseContext) (*BeforeHookResult, error)
	StateChangeHook     func(StateChangeContext)
	AfterPurchaseHook   func(PurchaseResultContext) error
	PurchaseFailureHook func(PurchaseFailureContext)
)

// OnBeforePurchase registers a hook run before any wallet interaction
func (p *Purchaser) OnBeforePurchase(hook BeforePurchaseHook) *Purchaser {
	p.beforeHooks = append(p.beforeHooks, hook)
	return p
}

// OnStateChange registers a hook run after every journaled transition
func (p *Purchaser) OnStateChange(hook StateChangeHook) *Purchaser {
	p.stateHooks = append(p.stateHooks, hook)
	return p
}

// OnAfterPurchase registers a hook run once the backend confirmed the purchase
func (p *Purchaser) OnAfterPurchase(hook AfterPurchaseHook) *Purchaser {
	p.afterHooks = append(p.afterHooks, hook)
	return p
}

// OnPurchaseFailure registers a hook run for every failed or interrupted run
func (p *Purchaser) OnPurchaseFailure(hook PurchaseFailureHook) *Purchaser {
	p.failureHooks = append(p.failureHooks, hook)
	return p
}
