package clearsky

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// Sentinel errors shared by wallets, stores and backends.
var (
	ErrWalletNotConnected   = errors.New("wallet not connected")
	ErrUnrecognizedChain    = errors.New("unrecognized chain")
	ErrUserRejected         = errors.New("user rejected request")
	ErrReceiptNotFound      = errors.New("transaction receipt not found")
	ErrReceiptTimeout       = errors.New("transaction receipt not observed in time")
	ErrInvalidTransition    = errors.New("invalid purchase state transition")
	ErrPurchaseNotFound     = errors.New("purchase not found")
	ErrConfirmationRejected = errors.New("purchase confirmation rejected")
)

// Failure reasons carried by PurchaseError
const (
	ReasonWalletNotConnected   = "wallet_not_connected"
	ReasonInvalidRequest       = "invalid_request"
	ReasonPurchaseAborted      = "purchase_aborted"
	ReasonPurchaseInProgress   = "purchase_in_progress"
	ReasonAlreadyPurchased     = "already_purchased"
	ReasonChainSwitchRejected  = "chain_switch_rejected"
	ReasonChainAddFailed       = "chain_add_failed"
	ReasonBalanceCheckFailed   = "balance_check_failed"
	ReasonInsufficientBalance  = "insufficient_balance"
	ReasonPaymentRejected      = "payment_rejected"
	ReasonPaymentInterrupted   = "payment_interrupted"
	ReasonReceiptFailed        = "receipt_failed"
	ReasonReceiptTimeout       = "receipt_timeout"
	ReasonPurchaseCanceled     = "purchase_canceled"
	ReasonTransactionReverted  = "transaction_reverted"
	ReasonConfirmationFailed   = "confirmation_failed"
	ReasonConfirmationRejected = "confirmation_rejected"
	ReasonLicenseMintFailed    = "license_mint_failed"
	ReasonJournalFailed        = "journal_failed"
)

var defaultMessages = map[string]string{
	ReasonWalletNotConnected:   "Please connect your wallet first.",
	ReasonInvalidRequest:       "Invalid purchase request.",
	ReasonPurchaseAborted:      "Purchase was cancelled.",
	ReasonPurchaseInProgress:   "A purchase for this item is already in progress.",
	ReasonAlreadyPurchased:     "You already own this item.",
	ReasonChainSwitchRejected:  "Please switch networks to continue.",
	ReasonChainAddFailed:       "Could not add the network to your wallet.",
	ReasonBalanceCheckFailed:   "Could not read your wallet balance.",
	ReasonInsufficientBalance:  "Insufficient balance.",
	ReasonPaymentRejected:      "Payment was rejected.",
	ReasonPaymentInterrupted:   "Payment was interrupted before a transaction was recorded. Check your wallet before retrying.",
	ReasonReceiptFailed:        "Could not confirm the payment transaction.",
	ReasonReceiptTimeout:       "Payment not confirmed yet; it will be retried.",
	ReasonPurchaseCanceled:     "Stopped waiting for the payment; the purchase can be resumed.",
	ReasonTransactionReverted:  "Payment transaction failed on-chain.",
	ReasonConfirmationFailed:   "Payment sent but purchase confirmation failed; it can be retried.",
	ReasonConfirmationRejected: "The marketplace rejected this payment. Contact support with your transaction hash.",
	ReasonLicenseMintFailed:    "Purchase complete, but license minting failed.",
	ReasonJournalFailed:        "Could not save purchase progress.",
}

const fallbackMessage = "Something went wrong. Please try again."

// PurchaseError is returned by every step of the purchase flow
type PurchaseError struct {
	Reason      string
	State       PurchaseState
	PurchaseID  string
	Network     Network
	Transaction string
	Message     string
	Err         error
}

// NewPurchaseError creates a PurchaseError with the default message for reason
func NewPurchaseError(reason string, state PurchaseState, p *Purchase, err error) *PurchaseError {
	pe := &PurchaseError{
		Reason:  reason,
		State:   state,
		Message: defaultMessages[reason],
		Err:     err,
	}
	if p != nil {
		pe.PurchaseID = p.ID
		pe.Network = p.Network
		pe.Transaction = p.TxHash
	}
	return pe
}

func (e *PurchaseError) Error() string {
	msg := fmt.Sprintf("purchase failed at %s: %s", e.State, e.Reason)
	if e.Transaction != "" {
		msg += " (tx " + e.Transaction + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PurchaseError) Unwrap() error {
	return e.Err
}

// withMessage overrides the user-facing message
func (e *PurchaseError) withMessage(format string, args ...interface{}) *PurchaseError {
	e.Message = fmt.Sprintf(format, args...)
	return e
}

// Retryable reports whether the purchase can be continued with Resume
func (e *PurchaseError) Retryable() bool {
	switch e.Reason {
	case ReasonReceiptTimeout, ReasonPurchaseCanceled, ReasonConfirmationFailed, ReasonReceiptFailed:
		return true
	}
	return false
}

// UserMessage returns the notification text for an error returned by the purchase flow
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var pe *PurchaseError
	if errors.As(err, &pe) {
		if pe.Message != "" {
			return pe.Message
		}
		if msg, ok := defaultMessages[pe.Reason]; ok {
			return msg
		}
	}
	if errors.Is(err, ErrUserRejected) {
		return "Request was rejected in your wallet."
	}
	return fallbackMessage
}

// ReasonOf extracts the failure reason, or "" for foreign errors
func ReasonOf(err error) string {
	var pe *PurchaseError
	if errors.As(err, &pe) {
		return pe.Reason
	}
	return ""
}

// ChainError reports a failed chain switch or add request
type ChainError struct {
	Op    string
	Chain ChainConfig
	Err   error
}

func (e *ChainError) Error() string {
	return fmt.Sprintf("failed to %s chain %s: %v", e.Op, e.Chain.DisplayName(), e.Err)
}

func (e *ChainError) Unwrap() error {
	return e.Err
}

// FormatNative renders a wei amount with the given decimals
func FormatNative(amount *big.Int, decimals int) string {
	if amount == nil {
		return "0"
	}
	return decimal.NewFromBigInt(amount, int32(-decimals)).String()
}
