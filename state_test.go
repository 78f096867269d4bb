package clearsky

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to PurchaseState
		want     bool
	}{
		{StateIdle, StateSwitchingChain, true},
		{StateIdle, StateSendingPayment, true},
		{StateIdle, StateAwaitingConfirmation, false},
		{StateSwitchingChain, StateSendingPayment, true},
		{StateSwitchingChain, StateSuccess, false},
		{StateSendingPayment, StateAwaitingConfirmation, true},
		{StateSendingPayment, StateFinalizing, false},
		{StateAwaitingConfirmation, StateAwaitingConfirmation, true},
		{StateAwaitingConfirmation, StateFinalizing, true},
		{StateFinalizing, StateSuccess, true},
		{StateFinalizing, StateAwaitingConfirmation, false},
		{StateSuccess, StateFailed, false},
		{StateFailed, StateIdle, false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}

	for _, s := range []PurchaseState{StateIdle, StateSwitchingChain, StateSendingPayment, StateAwaitingConfirmation, StateFinalizing} {
		assert.True(t, CanTransition(s, StateFailed), "%s -> failed", s)
		assert.False(t, s.IsTerminal())
	}
}

func TestPurchaseStateIsValid(t *testing.T) {
	assert.True(t, StateSuccess.IsValid())
	assert.True(t, StateFinalizing.IsValid())
	assert.False(t, PurchaseState("finalizing").IsValid())
}
